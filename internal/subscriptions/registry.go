package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/beacon/internal/apperr"
	"github.com/darkden-lab/beacon/internal/cache"
	"github.com/darkden-lab/beacon/internal/logging"
	"github.com/darkden-lab/beacon/internal/wire"
)

// Emitter delivers messages to live sockets. Implemented by the ws hub.
type Emitter interface {
	Emit(msg interface{}, target wire.Target) error
	Broadcast(msg interface{}, except string) error
}

// step is one state of a registry read or write.
//
//	read:  lookupCache -> readStore -> refreshCache
//	write: writeStore -> confirmStore -> refreshCache
//
// refreshCache is only reachable with a row that came from the cache or was
// read back from the store.
type step int

const (
	stepLookupCache step = iota
	stepReadStore
	stepWriteStore
	stepConfirmStore
	stepRefreshCache
	stepDone
)

func (s step) String() string {
	switch s {
	case stepLookupCache:
		return "lookup_cache"
	case stepReadStore:
		return "read_store"
	case stepWriteStore:
		return "write_store"
	case stepConfirmStore:
		return "confirm_store"
	case stepRefreshCache:
		return "refresh_cache"
	default:
		return "done"
	}
}

// Registry is the single read/write path for subscriptions.
type Registry struct {
	store   Store
	cache   cache.Store
	ttl     time.Duration
	emitter Emitter
	log     zerolog.Logger
}

// NewRegistry creates a Registry. ttl applies to every cache write.
func NewRegistry(store Store, c cache.Store, ttl time.Duration) *Registry {
	return &Registry{
		store: store,
		cache: c,
		ttl:   ttl,
		log:   logging.With("subscriptions"),
	}
}

// SetEmitter attaches the fan-out side. The hub is built after the registry
// because it persists connections through it.
func (r *Registry) SetEmitter(e Emitter) {
	r.emitter = e
}

// Get returns the subscription, refreshing its cache entry from whichever
// source answered.
func (r *Registry) Get(ctx context.Context, id string) (*Subscription, error) {
	const op = "registry.get"
	key := cache.SubscriptionKey(id)

	var (
		sub *Subscription
		raw []byte
	)
	for s := stepLookupCache; s != stepDone; {
		switch s {
		case stepLookupCache:
			b, err := r.cache.Get(ctx, key)
			switch {
			case err == nil:
				var cached Subscription
				if uerr := json.Unmarshal(b, &cached); uerr != nil {
					r.log.Warn().Err(uerr).Str("subscription_id", id).Msg("discarding undecodable cache entry")
					s = stepReadStore
					continue
				}
				sub, raw = &cached, b
				s = stepRefreshCache
			case errors.Is(err, cache.ErrNotFound):
				s = stepReadStore
			default:
				return nil, apperr.Internal(op, fmt.Errorf("%s: %w", s, err))
			}

		case stepReadStore:
			found, err := r.store.FindBySubscriptionID(ctx, id)
			if errors.Is(err, ErrNotFound) {
				return nil, ErrNotFound
			}
			if err != nil {
				return nil, apperr.Internal(op, fmt.Errorf("%s: %w", s, err))
			}
			if raw, err = json.Marshal(found); err != nil {
				return nil, apperr.Internal(op, err)
			}
			sub = found
			s = stepRefreshCache

		case stepRefreshCache:
			if err := r.cache.Set(ctx, key, raw, r.ttl); err != nil {
				return nil, apperr.Internal(op, fmt.Errorf("%s: %w", s, err))
			}
			s = stepDone
		}
	}
	return sub, nil
}

// Save inserts or updates the subscription, reads it back and caches the
// confirmed row. The unconfirmed input is never cached.
func (r *Registry) Save(ctx context.Context, id string, patch Patch) (*Subscription, error) {
	const op = "registry.save"
	if id == "" {
		return nil, apperr.Contract(op, errors.New("subscription id is required"))
	}
	key := cache.SubscriptionKey(id)

	var (
		confirmed *Subscription
		raw       []byte
	)
	for s := stepWriteStore; s != stepDone; {
		switch s {
		case stepWriteStore:
			existing, err := r.store.FindBySubscriptionID(ctx, id)
			switch {
			case errors.Is(err, ErrNotFound):
				sub := &Subscription{SubscriptionID: id}
				patch.Apply(sub)
				err = r.store.Upsert(ctx, sub)
			case err == nil:
				patch.Apply(existing)
				if err = r.store.Update(ctx, existing); errors.Is(err, ErrNotFound) {
					// Deleted since the read.
					err = r.store.Upsert(ctx, existing)
				}
			}
			if err != nil {
				return nil, apperr.Internal(op, fmt.Errorf("%s: %w", s, err))
			}
			s = stepConfirmStore

		case stepConfirmStore:
			row, err := r.store.FindBySubscriptionID(ctx, id)
			if err != nil {
				return nil, apperr.Internal(op, fmt.Errorf("%s: %w", s, err))
			}
			if raw, err = json.Marshal(row); err != nil {
				return nil, apperr.Internal(op, err)
			}
			confirmed = row
			s = stepRefreshCache

		case stepRefreshCache:
			if err := r.cache.Set(ctx, key, raw, r.ttl); err != nil {
				return nil, apperr.Internal(op, fmt.Errorf("%s: %w", s, err))
			}
			s = stepDone
		}
	}

	r.log.Debug().Str("subscription_id", id).Bool("new_connections_listen", confirmed.NewConnectionsListen).Msg("subscription saved")
	return confirmed, nil
}

// Delete removes the subscription from the store when present and always
// clears its cache entry.
func (r *Registry) Delete(ctx context.Context, id string) error {
	const op = "registry.delete"

	var storeErr error
	if _, err := r.store.Delete(ctx, id); err != nil {
		storeErr = apperr.Internal(op, err)
	}
	if _, err := r.cache.Delete(ctx, cache.SubscriptionKey(id)); err != nil {
		return errors.Join(storeErr, apperr.Internal(op, err))
	}
	return storeErr
}

// List returns the cached subscriptions when useCache is set and the cache
// holds at least one, otherwise every row of the durable store.
func (r *Registry) List(ctx context.Context, useCache bool) ([]Subscription, error) {
	const op = "registry.list"

	if useCache {
		entries, err := r.cache.Scan(ctx, cache.SubscriptionPrefix())
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		subs := make([]Subscription, 0, len(entries))
		for _, e := range entries {
			var sub Subscription
			if err := json.Unmarshal(e.Value, &sub); err != nil {
				r.log.Warn().Err(err).Str("key", e.Key).Msg("skipping undecodable cache entry")
				continue
			}
			subs = append(subs, sub)
		}
		if len(subs) > 0 {
			return subs, nil
		}
	}

	subs, err := r.store.List(ctx)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return subs, nil
}

// Emit hands msg to the fan-out server addressed to target.
func (r *Registry) Emit(ctx context.Context, msg interface{}, target wire.Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.emitter == nil {
		return apperr.Internal("registry.emit", errors.New("no emitter attached"))
	}
	return r.emitter.Emit(msg, target)
}

// Broadcast hands msg to the fan-out server for every connected client.
func (r *Registry) Broadcast(ctx context.Context, msg interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.emitter == nil {
		return apperr.Internal("registry.broadcast", errors.New("no emitter attached"))
	}
	return r.emitter.Broadcast(msg, "")
}
