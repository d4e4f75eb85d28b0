package subscriptions

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/beacon/internal/httputil"
)

// Handlers exposes the registry over HTTP.
type Handlers struct {
	registry *Registry
}

// NewHandlers creates a new Handlers.
func NewHandlers(registry *Registry) *Handlers {
	return &Handlers{registry: registry}
}

// RegisterRoutes wires the subscription endpoints onto the provided router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/subscriptions", h.List).Methods("GET")
	r.HandleFunc("/api/subscriptions/{id}", h.Get).Methods("GET")
	r.HandleFunc("/api/subscriptions/{id}", h.Save).Methods("PUT")
	r.HandleFunc("/api/subscriptions/{id}", h.Delete).Methods("DELETE")
}

// List handles GET /api/subscriptions?cache=true
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	useCache := r.URL.Query().Get("cache") == "true"
	subs, err := h.registry.List(r.Context(), useCache)
	if err != nil {
		httputil.WriteError(w, httputil.StatusFor(err), "failed to list subscriptions")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, subs)
}

// Get handles GET /api/subscriptions/{id}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sub, err := h.registry.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "subscription not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, httputil.StatusFor(err), "failed to get subscription")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

// Save handles PUT /api/subscriptions/{id}
func (h *Handlers) Save(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var patch Patch
	if err := httputil.DecodeJSON(r, &patch); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sub, err := h.registry.Save(r.Context(), id, patch)
	if err != nil {
		httputil.WriteError(w, httputil.StatusFor(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

// Delete handles DELETE /api/subscriptions/{id}
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.registry.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, httputil.StatusFor(err), "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
