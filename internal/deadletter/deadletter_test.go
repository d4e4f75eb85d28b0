package deadletter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

func TestMemoryStore_SaveList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"m-1", "m-2", "m-3"} {
		if err := s.Save(ctx, Record{MessageID: id, Body: []byte("{}"), CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := s.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].MessageID != "m-3" || got[1].MessageID != "m-2" {
		t.Errorf("unexpected page %+v", got)
	}
	if got[0].ID == "" {
		t.Error("expected generated id")
	}

	rest, err := s.List(ctx, 2, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rest) != 1 || rest[0].MessageID != "m-1" {
		t.Errorf("unexpected second page %+v", rest)
	}

	empty, _ := s.List(ctx, 10, 10)
	if len(empty) != 0 {
		t.Errorf("expected empty page, got %d", len(empty))
	}
}

func TestClampLimit(t *testing.T) {
	tests := map[int]int{0: 50, -1: 50, 10: 10, 100: 100, 101: 50}
	for in, want := range tests {
		if got := clampLimit(in); got != want {
			t.Errorf("clampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestHandlers_List(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Save(context.Background(), Record{MessageID: "m-1", Body: []byte("not json"), Error: "decode envelope"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r := mux.NewRouter()
	NewHandlers(s).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dead-letters?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"body":"not json"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestRecord_MarshalJSONBody(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		wantBody string
		wantEnc  string
	}{
		{"text", []byte(`{"schema":`), `"body":"{\"schema\":"`, ""},
		{"binary", []byte{0xff, 0xfe}, `"body":"//4="`, `"bodyEncoding":"base64"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(Record{MessageID: "m", Body: tt.body})
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			out := string(b)
			if !strings.Contains(out, tt.wantBody) {
				t.Errorf("expected %s in %s", tt.wantBody, out)
			}
			if tt.wantEnc == "" && strings.Contains(out, "bodyEncoding") {
				t.Errorf("text body must not carry an encoding, got %s", out)
			}
			if tt.wantEnc != "" && !strings.Contains(out, tt.wantEnc) {
				t.Errorf("expected %s in %s", tt.wantEnc, out)
			}
		})
	}
}

func TestCleanText(t *testing.T) {
	tests := map[string]string{
		"plain":          "plain",
		"nul\x00byte":    "nulbyte",
		"bad\xffutf8":    "bad\uFFFDutf8",
		"\x00\xfe\x00": "\uFFFD",
	}
	for in, want := range tests {
		if got := cleanText(in); got != want {
			t.Errorf("cleanText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanAttributes(t *testing.T) {
	got := cleanAttributes(map[string]string{"title": "A\x00B", "dedup-id": "\xff"})
	if got["title"] != "AB" || got["dedup-id"] != "\uFFFD" {
		t.Errorf("unexpected attributes %q", got)
	}
	if cleanAttributes(nil) == nil {
		t.Error("expected an empty map for nil attributes")
	}
}

