package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamConfig holds configuration for the NATS JetStream queue.
type JetStreamConfig struct {
	URL               string
	Stream            string
	Subject           string
	Durable           string
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	DuplicateWindow   time.Duration
}

// JetStreamQueue implements Queue on a JetStream stream with a durable pull
// consumer. The consumer's AckWait plays the role of a visibility timeout.
type JetStreamQueue struct {
	config   JetStreamConfig
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	mu       sync.Mutex
	closed   bool
}

// NewJetStreamQueue connects to NATS, ensures the stream and the durable
// consumer exist and returns the queue.
func NewJetStreamQueue(ctx context.Context, config JetStreamConfig) (*JetStreamQueue, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if config.Stream == "" || config.Subject == "" || config.Durable == "" {
		return nil, fmt.Errorf("nats stream, subject and durable are required")
	}
	if config.WaitTime <= 0 {
		config.WaitTime = 10 * time.Second
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.DuplicateWindow <= 0 {
		config.DuplicateWindow = 2 * time.Minute
	}

	nc, err := nats.Connect(config.URL,
		nats.Name("beacon"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	q := &JetStreamQueue{config: config, nc: nc, js: js}
	stream, err := q.ensureStream(ctx)
	if err != nil {
		nc.Close()
		return nil, err
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       config.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       config.VisibilityTimeout,
		FilterSubject: config.Subject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create consumer %s: %w", config.Durable, err)
	}
	q.consumer = consumer
	return q, nil
}

func (q *JetStreamQueue) ensureStream(ctx context.Context) (jetstream.Stream, error) {
	cfg := jetstream.StreamConfig{
		Name:       q.config.Stream,
		Subjects:   []string{q.config.Subject},
		Retention:  jetstream.WorkQueuePolicy,
		Duplicates: q.config.DuplicateWindow,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}

	_, err := q.js.Stream(ctx, q.config.Stream)
	if err == nil {
		stream, err := q.js.UpdateStream(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", q.config.Stream, err)
		}
		return stream, nil
	}
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err := q.js.CreateStream(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", q.config.Stream, err)
		}
		return stream, nil
	}
	return nil, fmt.Errorf("check stream %s: %w", q.config.Stream, err)
}

func (q *JetStreamQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Receive pulls up to max messages, waiting at most WaitTime.
func (q *JetStreamQueue) Receive(ctx context.Context, max int) ([]*Message, error) {
	if q.isClosed() {
		return nil, ErrClosed
	}

	batch, err := q.consumer.Fetch(max, jetstream.FetchMaxWait(q.config.WaitTime))
	if err != nil {
		return nil, fmt.Errorf("jetstream fetch: %w", err)
	}

	var out []*Message
	for m := range batch.Messages() {
		out = append(out, fromJetStream(m))
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && len(out) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("jetstream fetch: %w", err)
	}
	return out, nil
}

func fromJetStream(m jetstream.Msg) *Message {
	attrs := make(map[string]string)
	for k, v := range m.Headers() {
		if len(v) > 0 {
			attrs[k] = v[0]
		}
	}
	id := attrs[nats.MsgIdHdr]
	if id == "" {
		if md, err := m.Metadata(); err == nil {
			id = strconv.FormatUint(md.Sequence.Stream, 10)
		}
	}
	return &Message{ID: id, Body: m.Data(), Attributes: attrs, receipt: m}
}

// Delete acknowledges the message and waits for the server to confirm.
func (q *JetStreamQueue) Delete(ctx context.Context, msg *Message) error {
	m, ok := msg.receipt.(jetstream.Msg)
	if !ok {
		return fmt.Errorf("message %s was not received from jetstream", msg.ID)
	}
	if err := m.DoubleAck(ctx); err != nil {
		return fmt.Errorf("jetstream ack: %w", err)
	}
	return nil
}

// Release negatively acknowledges the message so the server redelivers it
// without waiting for AckWait.
func (q *JetStreamQueue) Release(_ context.Context, msg *Message) error {
	m, ok := msg.receipt.(jetstream.Msg)
	if !ok {
		return fmt.Errorf("message %s was not received from jetstream", msg.ID)
	}
	if err := m.Nak(); err != nil {
		return fmt.Errorf("jetstream nak: %w", err)
	}
	return nil
}

// Send publishes the message. The deduplication id becomes the Nats-Msg-Id
// header so the stream drops duplicates inside its window.
func (q *JetStreamQueue) Send(ctx context.Context, msg OutboundMessage) error {
	if q.isClosed() {
		return ErrClosed
	}

	m := nats.NewMsg(q.config.Subject)
	m.Data = msg.Body
	for k, v := range msg.Attributes {
		m.Header.Set(k, v)
	}
	if msg.GroupID != "" {
		m.Header.Set("group-id", msg.GroupID)
	}

	var opts []jetstream.PublishOpt
	if msg.DeduplicationID != "" {
		opts = append(opts, jetstream.WithMsgID(msg.DeduplicationID))
	}
	if _, err := q.js.PublishMsg(ctx, m, opts...); err != nil {
		return fmt.Errorf("publish to jetstream: %w", err)
	}
	return nil
}

// Ping round-trips to the server.
func (q *JetStreamQueue) Ping(ctx context.Context) error {
	if q.nc.Status() != nats.CONNECTED {
		return fmt.Errorf("nats connection is %s", q.nc.Status())
	}
	return q.nc.FlushWithContext(ctx)
}

// Close drains the connection.
func (q *JetStreamQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.nc.Close()
	return nil
}
