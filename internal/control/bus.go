// Package control carries process-wide flags toggled by control-plane
// envelopes (DISABLE_ALL_ROUTES, DISABLE_LOGIN).
package control

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Flag names a control-plane switch.
type Flag string

const (
	FlagDisableAllRoutes Flag = "DISABLE_ALL_ROUTES"
	FlagDisableLogin     Flag = "DISABLE_LOGIN"
)

// Valid reports whether f is a known flag.
func (f Flag) Valid() bool {
	return f == FlagDisableAllRoutes || f == FlagDisableLogin
}

// Change is one flag transition.
type Change struct {
	Flag     Flag      `json:"flag"`
	Disabled bool      `json:"disabled"`
	At       time.Time `json:"at"`
}

// Handler receives published changes.
type Handler func(Change)

type subscriber struct {
	id      string
	handler Handler
}

// Bus is a single-process publish/subscribe channel for flag changes.
// Handlers run on one dispatch goroutine in publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	closed bool
	ch     chan Change
	quit   chan struct{}
	done   chan struct{}
}

// NewBus creates and starts a Bus. Call Close to stop its goroutine.
func NewBus() *Bus {
	b := &Bus{
		ch:   make(chan Change, 64),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go b.dispatch()
	return b
}

var errClosed = errors.New("control bus is closed")

// Publish enqueues a change for every subscriber. It blocks while the
// buffer is full, without holding the bus lock.
func (b *Bus) Publish(c Change) error {
	if !c.Flag.Valid() {
		return fmt.Errorf("unknown control flag %q", c.Flag)
	}
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return errClosed
	}

	select {
	case b.ch <- c:
		return nil
	case <-b.quit:
		return errClosed
	}
}

// Subscribe registers handler and returns its subscription id.
func (b *Bus) Subscribe(handler Handler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", errClosed
	}
	id := uuid.New().String()
	b.subs = append(b.subs, subscriber{id: id, handler: handler})
	return id, nil
}

// Close delivers the changes already buffered and stops the dispatch
// goroutine.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.quit)
	b.mu.Unlock()

	<-b.done
	return nil
}

func (b *Bus) dispatch() {
	defer close(b.done)

	for {
		select {
		case c := <-b.ch:
			b.deliver(c)
		case <-b.quit:
			for {
				select {
				case c := <-b.ch:
					b.deliver(c)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(c Change) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs))
	for i, s := range b.subs {
		handlers[i] = s.handler
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(c)
	}
}
