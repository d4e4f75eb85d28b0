package docs

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func TestRegisterRoutes(t *testing.T) {
	r := mux.NewRouter()
	RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs/openapi.yaml", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "openapi: 3") {
		t.Errorf("unexpected document start %q", rec.Body.String()[:20])
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "swagger-ui") {
		t.Errorf("expected swagger page, got %d", rec.Code)
	}
}

func TestPathsDocumentEveryRoute(t *testing.T) {
	paths, err := Paths()
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	have := make(map[string]bool, len(paths))
	for _, p := range paths {
		have[p] = true
	}
	for _, want := range []string{
		"/healthz", "/readyz", "/metrics", "/ws",
		"/api/events", "/api/hooks/{schema}", "/api/subscriptions",
		"/api/subscriptions/{id}", "/api/dead-letters", "/api/flags",
	} {
		if !have[want] {
			t.Errorf("path %s is not documented", want)
		}
	}
}
