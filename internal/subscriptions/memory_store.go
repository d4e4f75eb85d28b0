package subscriptions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used when no database is configured
// and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]Subscription
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]Subscription),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func cloneSubscription(s Subscription) *Subscription {
	if s.ClientID != nil {
		id := *s.ClientID
		s.ClientID = &id
	}
	return &s
}

func (m *MemoryStore) FindBySubscriptionID(_ context.Context, subscriptionID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[subscriptionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSubscription(row), nil
}

func (m *MemoryStore) Upsert(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	row, ok := m.rows[s.SubscriptionID]
	if !ok {
		row = Subscription{SubscriptionID: s.SubscriptionID, CreatedAt: now}
	}
	row.ClientID = cloneSubscription(*s).ClientID
	row.NewConnectionsListen = s.NewConnectionsListen
	row.UpdatedAt = now
	m.rows[s.SubscriptionID] = row
	return nil
}

func (m *MemoryStore) Update(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[s.SubscriptionID]
	if !ok {
		return ErrNotFound
	}
	row.ClientID = cloneSubscription(*s).ClientID
	row.NewConnectionsListen = s.NewConnectionsListen
	row.UpdatedAt = m.now()
	m.rows[s.SubscriptionID] = row
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, subscriptionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[subscriptionID]
	delete(m.rows, subscriptionID)
	return ok, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscription, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, *cloneSubscription(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
