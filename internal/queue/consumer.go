package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/darkden-lab/beacon/internal/apperr"
	"github.com/darkden-lab/beacon/internal/deadletter"
	"github.com/darkden-lab/beacon/internal/logging"
	"github.com/darkden-lab/beacon/internal/metrics"
)

// receiveRetryDelay is the pause after a failed Receive.
const receiveRetryDelay = time.Second

// Handler processes one message body. Implemented by events.Router.
type Handler interface {
	Route(ctx context.Context, body []byte) error
}

// DeadLetterStore archives unprocessable messages.
type DeadLetterStore interface {
	Save(ctx context.Context, r deadletter.Record) error
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	BatchSize            int
	MaxConsecutiveErrors int
}

// errorCounter counts consecutive failures and trips at limit. Once
// tripped it stays tripped.
type errorCounter struct {
	mu      sync.Mutex
	n       int
	limit   int
	tripped bool
}

func (c *errorCounter) reset() {
	c.mu.Lock()
	c.n = 0
	c.mu.Unlock()
	metrics.QueueConsecutiveErrors.Set(0)
}

// fail increments the counter and reports whether it has tripped.
func (c *errorCounter) fail() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	if c.n >= c.limit {
		c.tripped = true
	}
	metrics.QueueConsecutiveErrors.Set(float64(c.n))
	return c.tripped
}

func (c *errorCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *errorCounter) isTripped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tripped
}

// Consumer pulls batches from a Queue, routes each message and decides its
// disposition:
//
//   - handled: delete, reset the error counter
//   - handler error: archive to the dead-letter store, delete only once the
//     archive write succeeded, count the error
//   - receive or delete error: count the error, leave the message
//
// When the counter reaches MaxConsecutiveErrors the consumer returns
// ErrQueueFault.
type Consumer struct {
	queue       Queue
	handler     Handler
	deadLetters DeadLetterStore
	batchSize   int
	errCount    errorCounter
	retryDelay  time.Duration
	log         zerolog.Logger
}

// NewConsumer creates a Consumer.
func NewConsumer(q Queue, handler Handler, dl DeadLetterStore, cfg ConsumerConfig) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 20
	}
	return &Consumer{
		queue:       q,
		handler:     handler,
		deadLetters: dl,
		batchSize:   cfg.BatchSize,
		errCount:    errorCounter{limit: cfg.MaxConsecutiveErrors},
		retryDelay:  receiveRetryDelay,
		log:         logging.With("consumer"),
	}
}

// ConsecutiveErrors returns the current error count.
func (c *Consumer) ConsecutiveErrors() int {
	return c.errCount.value()
}

// Serve polls the queue until ctx is cancelled or the error counter trips.
func (c *Consumer) Serve(ctx context.Context) error {
	c.log.Info().Int("batch_size", c.batchSize).Msg("consumer started")
	defer c.log.Info().Msg("consumer stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := c.queue.Receive(ctx, c.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.RecordQueueError("receive")
			tripped := c.errCount.fail()
			c.log.Error().Err(err).Int("consecutive_errors", c.errCount.value()).Msg("receive failed")
			if tripped {
				return ErrQueueFault
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
			continue
		}

		if err := c.HandleBatch(ctx, msgs); err != nil {
			return err
		}
	}
}

// HandleBatch processes msgs concurrently, at most BatchSize at a time, and
// waits for all of them. It returns ErrQueueFault if the error counter
// tripped.
func (c *Consumer) HandleBatch(ctx context.Context, msgs []*Message) error {
	var g errgroup.Group
	g.SetLimit(c.batchSize)
	for _, msg := range msgs {
		msg := msg
		metrics.QueueMessagesReceived.Inc()
		g.Go(func() error {
			c.handleMessage(ctx, msg)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	if c.errCount.isTripped() {
		c.log.Error().Int("consecutive_errors", c.errCount.value()).Msg("consumer error threshold reached")
		return ErrQueueFault
	}
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg *Message) {
	log := c.log.With().Str("message_id", msg.ID).Logger()

	start := time.Now()
	err := c.handler.Route(ctx, msg.Body)
	metrics.RecordHandle(time.Since(start))

	if err == nil {
		if derr := c.queue.Delete(ctx, msg); derr != nil {
			metrics.RecordQueueError("delete")
			c.errCount.fail()
			log.Error().Err(derr).Msg("delete failed")
			return
		}
		metrics.QueueMessagesDeleted.Inc()
		c.errCount.reset()
		return
	}

	if ctx.Err() != nil {
		// Shutting down; leave the message for redelivery.
		log.Debug().Err(err).Msg("handling interrupted")
		return
	}

	kind := apperr.KindOf(err)
	metrics.RecordQueueError("handle")
	c.errCount.fail()
	log.Warn().Err(err).Str("kind", kind.String()).Int("consecutive_errors", c.errCount.value()).Msg("message handling failed")

	record := deadletter.Record{
		MessageID:  msg.ID,
		Body:       msg.Body,
		Attributes: msg.Attributes,
		Error:      err.Error(),
	}
	if serr := c.deadLetters.Save(ctx, record); serr != nil {
		metrics.RecordQueueError("dead_letter")
		log.Error().Err(errors.Join(err, serr)).Msg("dead-letter write failed; message left for redelivery")
		c.release(ctx, msg, log)
		return
	}
	metrics.RecordDeadLetter(kind.String())

	if derr := c.queue.Delete(ctx, msg); derr != nil {
		metrics.RecordQueueError("delete")
		log.Error().Err(derr).Msg("delete after dead-letter failed")
		return
	}
	metrics.QueueMessagesDeleted.Inc()
	log.Info().Msg("message dead-lettered")
}

// release hands a message that stays unacknowledged back to queues that
// need to be told.
func (c *Consumer) release(ctx context.Context, msg *Message, log zerolog.Logger) {
	r, ok := c.queue.(Releaser)
	if !ok {
		return
	}
	if err := r.Release(ctx, msg); err != nil {
		log.Warn().Err(err).Msg("release failed")
	}
}
