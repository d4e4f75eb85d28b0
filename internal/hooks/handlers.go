package hooks

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/beacon/internal/httputil"
)

// Handlers exposes hook registration over HTTP.
type Handlers struct {
	scheduler *Scheduler
}

// NewHandlers creates a new Handlers.
func NewHandlers(scheduler *Scheduler) *Handlers {
	return &Handlers{scheduler: scheduler}
}

// RegisterRoutes wires the hook endpoints onto the provided router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/hooks/{schema}", h.Create).Methods("POST")
}

// Create handles POST /api/hooks/{schema}
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	schema := mux.Vars(r)["schema"]

	var reg Registration
	if err := httputil.DecodeJSON(r, &reg); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	saved, err := h.scheduler.Save(r.Context(), schema, reg)
	if err != nil {
		httputil.WriteError(w, httputil.StatusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, saved)
}
