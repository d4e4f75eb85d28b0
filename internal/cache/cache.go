// Package cache is the key/value layer in front of the durable store. Every
// write carries a TTL and keys are grouped in namespaces that can be scanned
// by prefix.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Key namespaces.
const (
	SubscriptionsNamespace = "SUBSCRIPTIONS"
	HooksNamespace         = "HOOKS"
)

// Entry is one key/value pair returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// Store is implemented by RedisStore and BadgerStore.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value under key with the given TTL. A zero TTL is
	// rejected: every entry in this cache must eventually expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes keys and reports how many actually existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
	// Scan returns every live entry whose key starts with prefix.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the backend connection.
	Close() error
}

// ErrNoTTL is returned by Set when ttl is not positive.
var ErrNoTTL = errors.New("cache: ttl must be positive")

// SubscriptionKey returns the cache key of a subscription.
func SubscriptionKey(subscriptionID string) string {
	return SubscriptionsNamespace + ":" + subscriptionID
}

// SubscriptionPrefix is the scan prefix of every subscription key.
func SubscriptionPrefix() string {
	return SubscriptionsNamespace + ":"
}

// HookKey returns the cache key of a hook registration.
func HookKey(schema, hookID string) string {
	return HooksNamespace + ":" + schema + ":" + hookID
}

// HookPrefix is the scan prefix of every hook registered for schema.
func HookPrefix(schema string) string {
	return HooksNamespace + ":" + schema + ":"
}

// HookIDFromKey extracts the hook id from a key built by HookKey.
func HookIDFromKey(key string) string {
	if i := strings.LastIndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}
