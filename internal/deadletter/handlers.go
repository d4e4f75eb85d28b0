package deadletter

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/beacon/internal/httputil"
)

// Handlers exposes the dead-letter archive to operators.
type Handlers struct {
	store Store
}

// NewHandlers creates a new Handlers.
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes wires the dead-letter endpoints onto the provided router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/dead-letters", h.List).Methods("GET")
}

// List handles GET /api/dead-letters?limit=&offset=
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	records, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}
