package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryQueue_SendReceiveDelete(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(time.Minute, 10*time.Millisecond)
	defer q.Close()

	for i := 0; i < 3; i++ {
		if err := q.Send(ctx, OutboundMessage{Body: []byte("x"), Attributes: map[string]string{AttrTitle: "T"}}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	msgs, err := q.Receive(ctx, 2)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Attributes[AttrTitle] != "T" {
		t.Errorf("expected attributes to be carried, got %v", msgs[0].Attributes)
	}

	// The two received messages are invisible; only the third is returned.
	rest, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 visible message, got %d", len(rest))
	}

	for _, m := range append(msgs, rest...) {
		if err := q.Delete(ctx, m); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestMemoryQueue_VisibilityTimeoutRedelivers(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(20*time.Millisecond, 500*time.Millisecond)

	if err := q.Send(ctx, OutboundMessage{Body: []byte("x")}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	first, err := q.Receive(ctx, 1)
	if err != nil || len(first) != 1 {
		t.Fatalf("first Receive: %v %d", err, len(first))
	}

	second, err := q.Receive(ctx, 1)
	if err != nil || len(second) != 1 {
		t.Fatalf("expected redelivery after visibility timeout: %v %d", err, len(second))
	}
	if second[0].ID != first[0].ID {
		t.Errorf("expected the same message, got %s and %s", first[0].ID, second[0].ID)
	}

	if err := q.Delete(ctx, first[0]); err == nil {
		t.Error("a stale receipt must not delete the redelivered message")
	}
	if err := q.Delete(ctx, second[0]); err != nil {
		t.Errorf("Delete with current receipt: %v", err)
	}
}

func TestMemoryQueue_ReceiveWaitsThenReturnsEmpty(t *testing.T) {
	q := NewMemoryQueue(time.Minute, 20*time.Millisecond)
	start := time.Now()
	msgs, err := q.Receive(context.Background(), 10)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("expected Receive to wait for the configured wait time")
	}
}

func TestMemoryQueue_ReceiveWakesOnSend(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(time.Minute, 5*time.Second)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Send(ctx, OutboundMessage{Body: []byte("late")}) //nolint:errcheck
	}()

	start := time.Now()
	msgs, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 || string(msgs[0].Body) != "late" {
		t.Fatalf("unexpected messages %v", msgs)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Receive should return as soon as a message arrives")
	}
}

func TestMemoryQueue_Deduplicates(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(time.Minute, 10*time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := q.Send(ctx, OutboundMessage{Body: []byte("x"), DeduplicationID: "same"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if q.Len() != 1 {
		t.Errorf("expected duplicate to be dropped, got %d messages", q.Len())
	}
}

func TestMemoryQueue_Closed(t *testing.T) {
	q := NewMemoryQueue(time.Minute, 10*time.Millisecond)
	q.Close()

	if _, err := q.Receive(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Receive, got %v", err)
	}
	if err := q.Send(context.Background(), OutboundMessage{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Send, got %v", err)
	}
	if err := q.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Ping, got %v", err)
	}
}
