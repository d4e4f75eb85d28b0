package queue

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/beacon/internal/events"
	"github.com/darkden-lab/beacon/internal/httputil"
)

// Handlers lets upstream services enqueue envelopes over HTTP.
type Handlers struct {
	producer *Producer
}

// NewHandlers creates a new Handlers.
func NewHandlers(producer *Producer) *Handlers {
	return &Handlers{producer: producer}
}

// RegisterRoutes wires the publish endpoint onto the provided router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/events", h.Publish).Methods("POST")
}

type publishRequest struct {
	Schema  events.Schema          `json:"schema"`
	Payload map[string]interface{} `json:"payload"`
}

// Publish handles POST /api/events
func (h *Handlers) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Schema == "" {
		httputil.WriteError(w, http.StatusBadRequest, "schema is required")
		return
	}

	env, err := h.producer.Publish(r.Context(), req.Schema, req.Payload)
	if err != nil {
		httputil.WriteError(w, http.StatusBadGateway, "failed to enqueue event")
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, env)
}
