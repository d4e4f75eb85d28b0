package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/darkden-lab/beacon/internal/events"
	"github.com/darkden-lab/beacon/internal/logging"
	"github.com/darkden-lab/beacon/internal/metrics"
	"github.com/darkden-lab/beacon/internal/subscriptions"
	"github.com/darkden-lab/beacon/internal/wire"
)

// Sender enqueues outbound messages. Every Queue is a Sender.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	// Source is stamped on every envelope and sent as the author attribute.
	Source string
	// FIFO adds a deduplication id and a group id to every message.
	FIFO    bool
	GroupID string
}

// Producer builds envelopes and enqueues them.
type Producer struct {
	sender Sender
	cfg    ProducerConfig
	now    func() time.Time
}

// NewProducer creates a Producer.
func NewProducer(sender Sender, cfg ProducerConfig) *Producer {
	if cfg.Source == "" {
		cfg.Source = "beacon"
	}
	return &Producer{sender: sender, cfg: cfg, now: time.Now}
}

// Publish wraps payload in an envelope tagged with schema and enqueues it.
func (p *Producer) Publish(ctx context.Context, schema events.Schema, payload map[string]interface{}) (*events.Envelope, error) {
	if schema == "" {
		return nil, fmt.Errorf("schema is required")
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	version := float64(events.CurrentSchemaVersion)
	ts := wire.NewTimestamp(p.now().UTC())
	env := &events.Envelope{
		ID:            wire.ID(uuid.New().String()),
		Schema:        schema,
		SchemaVersion: &version,
		Payload:       payload,
		Source:        p.cfg.Source,
		Timestamp:     &ts,
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	msg := OutboundMessage{
		Body: body,
		Attributes: map[string]string{
			AttrTitle:  string(schema),
			AttrAuthor: p.cfg.Source,
		},
	}
	if p.cfg.FIFO {
		msg.DeduplicationID = string(env.ID)
		msg.GroupID = p.cfg.GroupID
	}

	if err := p.sender.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", schema, err)
	}

	metrics.QueueMessagesPublished.WithLabelValues(string(schema)).Inc()
	logging.Debug().Str("message_id", string(env.ID)).Str("schema", string(schema)).Msg("envelope published")
	return env, nil
}

// AnnounceConnection publishes a NEW_CONNECTION envelope for sub.
func (p *Producer) AnnounceConnection(ctx context.Context, sub *subscriptions.Subscription) error {
	payload := map[string]interface{}{
		"event":          string(events.SchemaNewConnection),
		"subscriptionId": sub.SubscriptionID,
	}
	if sub.ClientID != nil {
		payload["clientId"] = *sub.ClientID
	}
	_, err := p.Publish(ctx, events.SchemaNewConnection, payload)
	return err
}
