package control

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var (
		mu  sync.Mutex
		got []Change
	)
	if _, err := bus.Subscribe(func(c Change) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(Change{Flag: FlagDisableLogin, Disabled: true}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	if got[0].Flag != FlagDisableLogin || !got[0].Disabled || got[0].At.IsZero() {
		t.Errorf("unexpected change %+v", got[0])
	}
}

func TestBus_RejectsUnknownFlag(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	if err := bus.Publish(Change{Flag: "NOPE"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestBus_ClosePreventsFurtherUse(t *testing.T) {
	bus := NewBus()
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := bus.Publish(Change{Flag: FlagDisableLogin}); err == nil {
		t.Error("expected publish after close to fail")
	}
	if _, err := bus.Subscribe(func(Change) {}); err == nil {
		t.Error("expected subscribe after close to fail")
	}
	if err := bus.Close(); err != nil {
		t.Errorf("double close should be a no-op, got %v", err)
	}
}

func TestBus_FullBufferDoesNotBlockSubscribe(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	if _, err := bus.Subscribe(func(Change) { <-release }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// One change held by the blocked handler plus a full buffer.
	for i := 0; i < 65; i++ {
		if err := bus.Publish(Change{Flag: FlagDisableLogin}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	published := make(chan error, 1)
	go func() { published <- bus.Publish(Change{Flag: FlagDisableAllRoutes}) }()

	subscribed := make(chan error, 1)
	go func() {
		_, err := bus.Subscribe(func(Change) {})
		subscribed <- err
	}()
	select {
	case err := <-subscribed:
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("Subscribe blocked behind a publisher waiting on a full buffer")
	}

	close(release)
	if err := <-published; err != nil {
		t.Errorf("blocked publish: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestBus_CloseUnblocksPublisher(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	defer close(release)
	if _, err := bus.Subscribe(func(Change) { <-release }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < 65; i++ {
		if err := bus.Publish(Change{Flag: FlagDisableLogin}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	published := make(chan error, 1)
	go func() { published <- bus.Publish(Change{Flag: FlagDisableLogin}) }()
	go bus.Close() //nolint:errcheck

	select {
	case err := <-published:
		if err == nil {
			t.Error("expected the pending publish to fail once the bus closes")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publisher stayed blocked after Close")
	}
}

func TestFlags_MiddlewareDisablesAPI(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	flags := NewFlags()
	if err := flags.Attach(bus); err != nil {
		t.Fatalf("attach: %v", err)
	}

	h := flags.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	if code := serve("/api/subscriptions"); code != http.StatusOK {
		t.Fatalf("expected 200 before flag, got %d", code)
	}

	if err := bus.Publish(Change{Flag: FlagDisableAllRoutes, Disabled: true}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return flags.Disabled(FlagDisableAllRoutes) })

	if code := serve("/api/subscriptions"); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while disabled, got %d", code)
	}
	if code := serve("/api/flags"); code != http.StatusOK {
		t.Errorf("expected flags endpoint to stay up, got %d", code)
	}
	if code := serve("/healthz"); code != http.StatusOK {
		t.Errorf("expected non-api path to stay up, got %d", code)
	}

	if err := bus.Publish(Change{Flag: FlagDisableAllRoutes, Disabled: false}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return !flags.Disabled(FlagDisableAllRoutes) })
	if code := serve("/api/subscriptions"); code != http.StatusOK {
		t.Errorf("expected 200 after re-enable, got %d", code)
	}
}

func TestFlags_ServeHTTP(t *testing.T) {
	flags := NewFlags()
	flags.Apply(Change{Flag: FlagDisableLogin, Disabled: true, At: time.Now()})

	rec := httptest.NewRecorder()
	flags.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/flags", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `"flag":"DISABLE_LOGIN","disabled":true`) {
		t.Errorf("unexpected body %s", body)
	}
	if !strings.Contains(body, `"flag":"DISABLE_ALL_ROUTES","disabled":false`) {
		t.Errorf("unexpected body %s", body)
	}
}
