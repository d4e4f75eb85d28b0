// Package deadletter archives queue messages that could not be processed.
package deadletter

import (
	"context"
	"encoding/base64"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one archived message. Body is kept verbatim, whatever bytes it
// holds.
type Record struct {
	ID         string
	MessageID  string
	Body       []byte
	Attributes map[string]string
	Error      string
	CreatedAt  time.Time
}

// MarshalJSON renders Body as text when it is valid UTF-8 and as base64
// otherwise, with bodyEncoding set to "base64".
func (r Record) MarshalJSON() ([]byte, error) {
	body, encoding := string(r.Body), ""
	if !utf8.Valid(r.Body) {
		body, encoding = base64.StdEncoding.EncodeToString(r.Body), "base64"
	}
	return json.Marshal(struct {
		ID           string            `json:"id"`
		MessageID    string            `json:"messageId"`
		Body         string            `json:"body"`
		BodyEncoding string            `json:"bodyEncoding,omitempty"`
		Attributes   map[string]string `json:"attributes"`
		Error        string            `json:"error"`
		CreatedAt    time.Time         `json:"createdAt"`
	}{r.ID, r.MessageID, body, encoding, r.Attributes, r.Error, r.CreatedAt})
}

// cleanText makes s storable in a TEXT or JSONB column: invalid UTF-8 is
// replaced and NUL bytes are dropped.
func cleanText(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}

// Store persists dead-lettered messages.
type Store interface {
	Save(ctx context.Context, r Record) error
	List(ctx context.Context, limit, offset int) ([]Record, error)
}

// PgStore writes to the unprocessed_messages table.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Save inserts a record. It returns only after the row is committed. The
// body goes to a BYTEA column unchanged; the text columns are cleaned so a
// malformed message can always be archived.
func (s *PgStore) Save(ctx context.Context, r Record) error {
	attrs, err := json.Marshal(cleanAttributes(r.Attributes))
	if err != nil {
		return err
	}
	body := r.Body
	if body == nil {
		body = []byte{}
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO unprocessed_messages (message_id, body, attributes, error)
		 VALUES ($1, $2, $3, $4)`,
		cleanText(r.MessageID), body, attrs, cleanText(r.Error),
	)
	return err
}

func cleanAttributes(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[cleanText(k)] = cleanText(v)
	}
	return out
}

// List returns records newest first.
func (s *PgStore) List(ctx context.Context, limit, offset int) ([]Record, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, message_id, body, attributes, error, created_at
		 FROM unprocessed_messages ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r     Record
			attrs []byte
		)
		if err := rows.Scan(&r.ID, &r.MessageID, &r.Body, &attrs, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &r.Attributes); err != nil {
				return nil, err
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 50
	}
	return limit
}

// MemoryStore keeps records in process memory. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.records = append(m.records, r)
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit, offset int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]Record(nil), m.records...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit = clampLimit(limit)
	if offset < 0 || offset >= len(out) {
		return []Record{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
