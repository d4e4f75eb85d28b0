// Package health pings the backing services on an interval and closes every
// realtime connection while any of them is down.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/darkden-lab/beacon/internal/httputil"
	"github.com/darkden-lab/beacon/internal/logging"
	"github.com/darkden-lab/beacon/internal/metrics"
)

// Pinger is a dependency that can report its availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Disconnector closes every realtime connection. Implemented by ws.Hub.
type Disconnector interface {
	DisconnectAllSockets() int
}

type dependency struct {
	name   string
	pinger Pinger
}

// Status is the result of the last check of one dependency.
type Status struct {
	Name      string    `json:"name"`
	Up        bool      `json:"up"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Monitor checks dependencies periodically. Until the first check completes
// the monitor reports ready.
type Monitor struct {
	deps         []dependency
	interval     time.Duration
	timeout      time.Duration
	disconnector Disconnector

	ready  atomic.Bool
	mu     sync.RWMutex
	status []Status

	now func() time.Time
	log zerolog.Logger
}

// NewMonitor creates a Monitor. d may be nil.
func NewMonitor(interval, timeout time.Duration, d Disconnector) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	m := &Monitor{
		interval:     interval,
		timeout:      timeout,
		disconnector: d,
		now:          time.Now,
		log:          logging.With("health"),
	}
	m.ready.Store(true)
	return m
}

// Add registers a dependency. Call before Serve.
func (m *Monitor) Add(name string, p Pinger) {
	m.deps = append(m.deps, dependency{name: name, pinger: p})
}

// Ready reports whether every dependency answered its last check.
func (m *Monitor) Ready() bool {
	return m.ready.Load()
}

// Statuses returns the result of the last check.
func (m *Monitor) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Status(nil), m.status...)
}

// Check pings every dependency concurrently and updates the readiness state.
// When a dependency is down every socket is disconnected.
func (m *Monitor) Check(ctx context.Context) bool {
	statuses := make([]Status, len(m.deps))
	var g errgroup.Group
	for i, d := range m.deps {
		i, d := i, d
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			err := d.pinger.Ping(pctx)
			st := Status{Name: d.name, Up: err == nil, CheckedAt: m.now()}
			if err != nil {
				st.Error = err.Error()
			}
			statuses[i] = st
			metrics.SetDependencyUp(d.name, err == nil)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	ready := true
	for _, st := range statuses {
		if !st.Up {
			ready = false
			m.log.Error().Str("dependency", st.Name).Str("error", st.Error).Msg("dependency unavailable")
		}
	}

	m.mu.Lock()
	m.status = statuses
	m.mu.Unlock()

	was := m.ready.Swap(ready)
	switch {
	case !ready:
		if m.disconnector != nil {
			n := m.disconnector.DisconnectAllSockets()
			m.log.Warn().Int("clients", n).Msg("dependencies down, sockets disconnected")
		}
	case !was:
		m.log.Info().Msg("dependencies recovered")
	}
	return ready
}

// Serve checks immediately and then on every interval until ctx is done.
func (m *Monitor) Serve(ctx context.Context) error {
	m.log.Info().Dur("interval", m.interval).Int("dependencies", len(m.deps)).Msg("health monitor started")
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

type readyResponse struct {
	Status       string   `json:"status"`
	Dependencies []Status `json:"dependencies"`
}

// ServeHTTP answers GET /readyz with 200 when ready and 503 otherwise.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	resp := readyResponse{Status: "ok", Dependencies: m.Statuses()}
	code := http.StatusOK
	if !m.Ready() {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, resp)
}
