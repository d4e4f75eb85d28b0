package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestOriginChecker(t *testing.T) {
	check := OriginChecker(ParseOrigins(" https://app.example.com , http://localhost:3000,, "))

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"HTTPS://APP.EXAMPLE.COM", true},
		{"http://localhost:3000", true},
		{"https://evil.example.com", false},
		{"https://app.example.com.evil.com", false},
		{"null", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_Wildcard(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://anything.example")
	if !OriginChecker([]string{"*"})(r) {
		t.Error("wildcard should accept any origin")
	}
	if OriginChecker(nil)(r) {
		t.Error("empty allow list should reject cross-origin requests")
	}
}

func TestFrameData(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"object", `{"a":1}`, `{"a":1}`, false},
		{"encoded string", `"{\"a\":1}"`, `{"a":1}`, false},
		{"null", `null`, ``, false},
		{"empty", ``, ``, false},
		{"blank string", `"  "`, ``, false},
		{"string that is not json", `"hello"`, ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := frameData([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// TestHubSlowConsumerDoesNotBlock verifies that a slow consumer doesn't block
// other clients from receiving messages.
func TestHubSlowConsumerDoesNotBlock(t *testing.T) {
	h := NewHub()
	slow := testClient("slow-client", 1)
	fast := testClient("fast-client", 256)
	h.Register(slow)
	h.Register(fast)

	// Fill the slow client's buffer
	slow.send <- []byte("blocking")

	done := make(chan struct{})
	go func() {
		h.Broadcast("tick", "")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow consumer")
	}
	if len(fast.send) != 1 {
		t.Errorf("fast client should still receive, got %d frames", len(fast.send))
	}
	if len(slow.send) != 1 {
		t.Errorf("slow client frame should have been dropped, got %d frames", len(slow.send))
	}
}

func TestHubConcurrentMembership(t *testing.T) {
	h := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		c := testClient(strings.Repeat("x", i+1), 8)
		h.Register(c)
		wg.Add(3)
		go func() { defer wg.Done(); h.Join(c, "room") }()
		go func() { defer wg.Done(); h.Broadcast("m", "") }()
		go func() { defer wg.Done(); h.Unregister(c) }()
	}
	wg.Wait()
	if h.Count() != 0 {
		t.Errorf("expected every client unregistered, got %d", h.Count())
	}
}

func TestMaxMessageSizeConstant(t *testing.T) {
	if maxMessageSize <= 0 {
		t.Fatal("maxMessageSize is not set")
	}
	if maxMessageSize > 1024*1024 {
		t.Errorf("maxMessageSize is very large (%d bytes)", maxMessageSize)
	}
}

func TestPongWaitConstant(t *testing.T) {
	if writeWait <= 0 || writeWait > time.Minute {
		t.Errorf("unexpected writeWait %v", writeWait)
	}
	if pingPeriod >= pongWait {
		t.Fatal("pingPeriod >= pongWait, dead peers would never be detected")
	}
}
