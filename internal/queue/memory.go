package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	msg          OutboundMessage
	id           string
	receipt      uint64
	visibleAfter time.Time
}

// MemoryQueue is a process-local Queue for development and tests. Received
// messages are hidden for the visibility timeout and reappear unless
// deleted.
type MemoryQueue struct {
	mu         sync.Mutex
	entries    []*memoryEntry
	seq        uint64
	receipts   uint64
	visibility time.Duration
	wait       time.Duration
	dedup      map[string]struct{}
	notify     chan struct{}
	closed     bool
	now        func() time.Time
}

// NewMemoryQueue creates a MemoryQueue.
func NewMemoryQueue(visibility, wait time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	if wait <= 0 {
		wait = time.Second
	}
	return &MemoryQueue{
		visibility: visibility,
		wait:       wait,
		dedup:      make(map[string]struct{}),
		notify:     make(chan struct{}),
		now:        time.Now,
	}
}

// Receive returns up to max visible messages, waiting up to the configured
// wait time for one to arrive.
func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]*Message, error) {
	timer := time.NewTimer(q.wait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		out := q.takeLocked(max)
		notify := q.notify
		q.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
		case <-time.After(50 * time.Millisecond):
			// re-check for messages whose visibility timeout lapsed
		}
	}
}

func (q *MemoryQueue) takeLocked(max int) []*Message {
	now := q.now()
	var out []*Message
	for _, e := range q.entries {
		if len(out) >= max {
			break
		}
		if now.Before(e.visibleAfter) {
			continue
		}
		q.receipts++
		e.receipt = q.receipts
		e.visibleAfter = now.Add(q.visibility)

		attrs := make(map[string]string, len(e.msg.Attributes))
		for k, v := range e.msg.Attributes {
			attrs[k] = v
		}
		out = append(out, &Message{
			ID:         e.id,
			Body:       append([]byte(nil), e.msg.Body...),
			Attributes: attrs,
			receipt:    memoryReceipt{id: e.id, receipt: e.receipt},
		})
	}
	return out
}

type memoryReceipt struct {
	id      string
	receipt uint64
}

// Delete removes the message if the receipt is still current. A message
// that became visible again and was re-received cannot be deleted with the
// old receipt.
func (q *MemoryQueue) Delete(_ context.Context, msg *Message) error {
	r, ok := msg.receipt.(memoryReceipt)
	if !ok {
		return errNotReceived(msg)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.id == r.id && e.receipt == r.receipt {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return errNotReceived(msg)
}

// Release makes the message visible again immediately.
func (q *MemoryQueue) Release(_ context.Context, msg *Message) error {
	r, ok := msg.receipt.(memoryReceipt)
	if !ok {
		return errNotReceived(msg)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.id == r.id && e.receipt == r.receipt {
			e.visibleAfter = time.Time{}
			return nil
		}
	}
	return errNotReceived(msg)
}

// Send appends a message. Messages with a deduplication id already seen are
// dropped.
func (q *MemoryQueue) Send(_ context.Context, msg OutboundMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if msg.DeduplicationID != "" {
		if _, dup := q.dedup[msg.DeduplicationID]; dup {
			return nil
		}
		q.dedup[msg.DeduplicationID] = struct{}{}
	}

	q.seq++
	id := msg.DeduplicationID
	if id == "" {
		id = "mem-" + strconv.FormatUint(q.seq, 10)
	}
	q.entries = append(q.entries, &memoryEntry{msg: msg, id: id})

	close(q.notify)
	q.notify = make(chan struct{})
	return nil
}

// Len returns the number of messages not yet deleted.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *MemoryQueue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func errNotReceived(msg *Message) error {
	return fmt.Errorf("message %s has no current receipt", msg.ID)
}
