package control

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/darkden-lab/beacon/internal/httputil"
	"github.com/darkden-lab/beacon/internal/logging"
)

// Flags is the current state of every control flag.
type Flags struct {
	mu      sync.RWMutex
	state   map[Flag]bool
	updated map[Flag]time.Time
}

// NewFlags creates a Flags with everything enabled.
func NewFlags() *Flags {
	return &Flags{
		state:   make(map[Flag]bool),
		updated: make(map[Flag]time.Time),
	}
}

// Attach subscribes f to bus.
func (f *Flags) Attach(bus *Bus) error {
	_, err := bus.Subscribe(f.Apply)
	return err
}

// Apply records a change.
func (f *Flags) Apply(c Change) {
	f.mu.Lock()
	f.state[c.Flag] = c.Disabled
	f.updated[c.Flag] = c.At
	f.mu.Unlock()

	logging.Warn().Str("flag", string(c.Flag)).Bool("disabled", c.Disabled).Msg("control flag changed")
}

// Disabled reports whether flag is currently set.
func (f *Flags) Disabled(flag Flag) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state[flag]
}

// FlagState is one entry of the flags listing.
type FlagState struct {
	Flag      Flag       `json:"flag"`
	Disabled  bool       `json:"disabled"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Snapshot returns the state of every known flag.
func (f *Flags) Snapshot() []FlagState {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]FlagState, 0, 2)
	for _, flag := range []Flag{FlagDisableAllRoutes, FlagDisableLogin} {
		st := FlagState{Flag: flag, Disabled: f.state[flag]}
		if at, ok := f.updated[flag]; ok {
			at := at
			st.UpdatedAt = &at
		}
		out = append(out, st)
	}
	return out
}

// Middleware answers 503 on /api/* while DISABLE_ALL_ROUTES is set. The
// flags endpoint stays reachable so operators can see why.
func (f *Flags) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.Disabled(FlagDisableAllRoutes) &&
			strings.HasPrefix(r.URL.Path, "/api/") &&
			r.URL.Path != "/api/flags" {
			httputil.WriteError(w, http.StatusServiceUnavailable, "routes are disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP handles GET /api/flags.
func (f *Flags) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, f.Snapshot())
}
