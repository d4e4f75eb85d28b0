package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/darkden-lab/beacon/internal/logging"
)

// fetchLinger bounds how long Receive keeps filling a batch once the first
// message has arrived.
const fetchLinger = 100 * time.Millisecond

// KafkaConfig holds configuration for the Kafka queue.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	WaitTime      time.Duration
}

// kafkaReader is the part of *kafka.Reader the queue uses.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue implements Queue on a Kafka topic via segmentio/kafka-go.
//
// Kafka acknowledges by offset, so Delete commits only the contiguous run of
// resolved offsets in a partition. A released message blocks commits on its
// partition and makes the next Receive reopen the reader, which resumes at
// the last committed offset. Messages resolved after the released one are
// delivered again.
type KafkaQueue struct {
	config    KafkaConfig
	newReader func() kafkaReader
	writer    *kafka.Writer

	mu      sync.Mutex
	reader  kafkaReader
	offsets *offsetTracker
	rewind  bool
	closed  bool

	// commitMu keeps commits in offset order.
	commitMu sync.Mutex
}

// NewKafkaQueue creates a KafkaQueue. Connections are opened lazily.
func NewKafkaQueue(config KafkaConfig) (*KafkaQueue, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "beacon-consumer"
	}
	if config.WaitTime <= 0 {
		config.WaitTime = 10 * time.Second
	}

	newReader := func() kafkaReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  config.Brokers,
			Topic:    config.Topic,
			GroupID:  config.ConsumerGroup,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
			MaxWait:  500 * time.Millisecond,
		})
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}

	return newKafkaQueue(config, newReader, writer), nil
}

func newKafkaQueue(config KafkaConfig, newReader func() kafkaReader, writer *kafka.Writer) *KafkaQueue {
	return &KafkaQueue{
		config:    config,
		newReader: newReader,
		writer:    writer,
		reader:    newReader(),
		offsets:   newOffsetTracker(),
	}
}

func (q *KafkaQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Receive fetches up to max messages. It waits up to WaitTime for the first
// one and then lingers briefly for the rest of the batch.
func (q *KafkaQueue) Receive(ctx context.Context, max int) ([]*Message, error) {
	reader, offsets, err := q.activeReader()
	if err != nil {
		return nil, err
	}

	var out []*Message
	wait := q.config.WaitTime
	for len(out) < max {
		fetchCtx, cancel := context.WithTimeout(ctx, wait)
		km, err := reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return out, nil
			}
			if len(out) > 0 {
				return out, nil
			}
			return nil, fmt.Errorf("kafka fetch: %w", err)
		}
		offsets.fetched(km)
		out = append(out, fromKafka(km))
		wait = fetchLinger
	}
	return out, nil
}

// activeReader returns the reader to fetch from and its offset tracker,
// reopening the reader first when a message was released since the last
// fetch.
func (q *KafkaQueue) activeReader() (kafkaReader, *offsetTracker, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, nil, ErrClosed
	}
	if !q.rewind {
		return q.reader, q.offsets, nil
	}

	if err := q.reader.Close(); err != nil {
		log := logging.With("kafka")
		log.Warn().Err(err).Msg("close reader before rewind")
	}
	q.reader = q.newReader()
	q.offsets = newOffsetTracker()
	q.rewind = false
	return q.reader, q.offsets, nil
}

func fromKafka(km kafka.Message) *Message {
	attrs := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		attrs[h.Key] = string(h.Value)
	}
	id := attrs[AttrDedupID]
	if id == "" {
		id = fmt.Sprintf("%s/%d/%d", km.Topic, km.Partition, km.Offset)
	}
	return &Message{ID: id, Body: km.Value, Attributes: attrs, receipt: km}
}

// Delete resolves the message and commits the highest offset of its
// partition that has no unresolved offset below it.
func (q *KafkaQueue) Delete(ctx context.Context, msg *Message) error {
	km, ok := msg.receipt.(kafka.Message)
	if !ok {
		return fmt.Errorf("message %s was not received from kafka", msg.ID)
	}

	q.commitMu.Lock()
	defer q.commitMu.Unlock()

	q.mu.Lock()
	reader, offsets := q.reader, q.offsets
	q.mu.Unlock()

	commit, ok := offsets.resolve(km)
	if !ok {
		return nil
	}
	if err := reader.CommitMessages(ctx, commit); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	return nil
}

// Release leaves the message uncommitted and schedules a rewind to the last
// committed offset before the next fetch.
func (q *KafkaQueue) Release(_ context.Context, msg *Message) error {
	if _, ok := msg.receipt.(kafka.Message); !ok {
		return fmt.Errorf("message %s was not received from kafka", msg.ID)
	}
	q.mu.Lock()
	q.rewind = true
	q.mu.Unlock()
	return nil
}

// Send writes the message. The group id is used as the partition key so a
// group stays ordered; otherwise a random key spreads the load.
func (q *KafkaQueue) Send(ctx context.Context, msg OutboundMessage) error {
	if q.isClosed() {
		return ErrClosed
	}

	key := msg.GroupID
	if key == "" {
		key = uuid.New().String()
	}
	headers := make([]kafka.Header, 0, len(msg.Attributes)+1)
	for k, v := range msg.Attributes {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if msg.DeduplicationID != "" {
		headers = append(headers, kafka.Header{Key: AttrDedupID, Value: []byte(msg.DeduplicationID)})
	}

	if err := q.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   msg.Body,
		Headers: headers,
	}); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (q *KafkaQueue) Ping(ctx context.Context) error {
	var lastErr error
	for _, b := range q.config.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		return nil
	}
	return fmt.Errorf("kafka unreachable: %w", lastErr)
}

// Close shuts down the reader and the writer.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	var firstErr error
	if err := q.reader.Close(); err != nil {
		firstErr = err
	}
	if err := q.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
