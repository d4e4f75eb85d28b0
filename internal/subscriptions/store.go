package subscriptions

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the durable side of the registry.
type Store interface {
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*Subscription, error)
	Upsert(ctx context.Context, s *Subscription) error
	Update(ctx context.Context, s *Subscription) error
	Delete(ctx context.Context, subscriptionID string) (bool, error)
	List(ctx context.Context) ([]Subscription, error)
}

// PgStore provides CRUD operations for the subscriptions table.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const subscriptionColumns = `subscription_id, client_id, new_connections_listen, created_at, updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	if err := row.Scan(&s.SubscriptionID, &s.ClientID, &s.NewConnectionsListen, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

// FindBySubscriptionID returns the row for subscriptionID or ErrNotFound.
func (s *PgStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscription_id = $1`,
		subscriptionID,
	)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sub, err
}

// Upsert stores a new subscription, or overwrites the mutable columns when
// a concurrent writer created the row first.
func (s *PgStore) Upsert(ctx context.Context, sub *Subscription) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (subscription_id, client_id, new_connections_listen)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (subscription_id) DO UPDATE
		 SET client_id = EXCLUDED.client_id,
		     new_connections_listen = EXCLUDED.new_connections_listen,
		     updated_at = NOW()`,
		sub.SubscriptionID, sub.ClientID, sub.NewConnectionsListen,
	)
	return err
}

// Update overwrites the mutable columns of an existing subscription.
func (s *PgStore) Update(ctx context.Context, sub *Subscription) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET client_id = $2, new_connections_listen = $3, updated_at = NOW()
		 WHERE subscription_id = $1`,
		sub.SubscriptionID, sub.ClientID, sub.NewConnectionsListen,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a subscription and reports whether a row existed.
func (s *PgStore) Delete(ctx context.Context, subscriptionID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE subscription_id = $1`, subscriptionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// List returns every subscription, newest first.
func (s *PgStore) List(ctx context.Context) ([]Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
