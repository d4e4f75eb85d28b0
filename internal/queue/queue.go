// Package queue receives envelopes from the message queue, hands them to
// the router and decides each message's disposition. It also publishes
// outbound envelopes.
package queue

import (
	"context"
	"errors"
)

// Attribute names set on every outbound message.
const (
	AttrTitle  = "title"
	AttrAuthor = "author"
	// AttrDedupID carries the deduplication id on backends without a native
	// field for it.
	AttrDedupID = "dedup-id"
)

// ErrQueueFault is returned once the consumer has seen too many consecutive
// errors. It is terminal: the process should stop and be restarted by its
// supervisor.
var ErrQueueFault = errors.New("queue error: too many consecutive failures")

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue is closed")

// Message is one received message. The receipt is backend specific and
// identifies the delivery for Delete.
type Message struct {
	ID         string
	Body       []byte
	Attributes map[string]string
	receipt    interface{}
}

// OutboundMessage is one message to send.
type OutboundMessage struct {
	Body            []byte
	Attributes      map[string]string
	DeduplicationID string
	GroupID         string
}

// Queue is an at-least-once queue with explicit delete.
type Queue interface {
	// Receive returns up to max messages, waiting at most the configured
	// wait time. An empty slice with a nil error means nothing arrived.
	Receive(ctx context.Context, max int) ([]*Message, error)
	// Delete acknowledges a received message so it is not redelivered.
	Delete(ctx context.Context, msg *Message) error
	// Send enqueues a message.
	Send(ctx context.Context, msg OutboundMessage) error
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Releaser is implemented by queues that must be told when a received
// message is left unacknowledged so it is delivered again.
type Releaser interface {
	Release(ctx context.Context, msg *Message) error
}
