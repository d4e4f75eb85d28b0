package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// storeFactories runs every behavioural test against both backends.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"badger": func() Store {
			s, err := NewBadgerStore("")
			if err != nil {
				t.Fatalf("NewBadgerStore: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
		"redis": func() Store {
			mr := miniredis.RunT(t)
			s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()

			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			if err := s.Set(ctx, SubscriptionKey("abc"), []byte(`{"a":1}`), time.Minute); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := s.Get(ctx, SubscriptionKey("abc"))
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != `{"a":1}` {
				t.Errorf("unexpected value %s", got)
			}

			n, err := s.Delete(ctx, SubscriptionKey("abc"), SubscriptionKey("nope"))
			if err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if n != 1 {
				t.Errorf("expected 1 removed key, got %d", n)
			}
			n, err = s.Delete(ctx, SubscriptionKey("abc"))
			if err != nil {
				t.Fatalf("second Delete: %v", err)
			}
			if n != 0 {
				t.Errorf("expected 0 removed keys on second delete, got %d", n)
			}
		})
	}
}

func TestStore_RejectsZeroTTL(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			if err := newStore().Set(ctx, "k", []byte("v"), 0); !errors.Is(err, ErrNoTTL) {
				t.Errorf("expected ErrNoTTL, got %v", err)
			}
		})
	}
}

func TestStore_ScanByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			for _, k := range []string{HookKey("NEW_HOOK", "1"), HookKey("NEW_HOOK", "2"), HookKey("OTHER", "3"), SubscriptionKey("x")} {
				if err := s.Set(ctx, k, []byte(k), time.Minute); err != nil {
					t.Fatalf("Set %s: %v", k, err)
				}
			}

			entries, err := s.Scan(ctx, HookPrefix("NEW_HOOK"))
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			var keys []string
			for _, e := range entries {
				keys = append(keys, e.Key)
				if string(e.Value) != e.Key {
					t.Errorf("value mismatch for %s: %s", e.Key, e.Value)
				}
			}
			sort.Strings(keys)
			if len(keys) != 2 || keys[0] != "HOOKS:NEW_HOOK:1" || keys[1] != "HOOKS:NEW_HOOK:2" {
				t.Errorf("unexpected scan result %v", keys)
			}

			empty, err := s.Scan(ctx, HookPrefix("NONE"))
			if err != nil {
				t.Fatalf("Scan empty: %v", err)
			}
			if len(empty) != 0 {
				t.Errorf("expected no entries, got %d", len(empty))
			}
		})
	}
}

func TestStore_ScanTreatsGlobLiterally(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			for _, k := range []string{"HOOKS:A*:1", "HOOKS:AB:2", "HOOKS:A?:3", "HOOKS:[A]:4"} {
				if err := s.Set(ctx, k, []byte(k), time.Minute); err != nil {
					t.Fatalf("Set %s: %v", k, err)
				}
			}

			for prefix, want := range map[string]string{
				"HOOKS:A*:":  "HOOKS:A*:1",
				"HOOKS:A?:":  "HOOKS:A?:3",
				"HOOKS:[A]:": "HOOKS:[A]:4",
			} {
				entries, err := s.Scan(ctx, prefix)
				if err != nil {
					t.Fatalf("Scan %s: %v", prefix, err)
				}
				if len(entries) != 1 || entries[0].Key != want {
					t.Errorf("Scan(%q) returned %d entries, want only %s", prefix, len(entries), want)
				}
			}
		})
	}
}

func TestEscapeGlob(t *testing.T) {
	tests := map[string]string{
		"HOOKS:NEW_HOOK:": "HOOKS:NEW_HOOK:",
		"a*b?c":           `a\*b\?c`,
		"[x]":             `\[x\]`,
		`back\slash`:      `back\\slash`,
	}
	for in, want := range tests {
		if got := escapeGlob(in); got != want {
			t.Errorf("escapeGlob(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStore_ConcurrentDeleteCountsOnce(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			key := HookKey("NEW_HOOK", "race")
			if err := s.Set(ctx, key, []byte("v"), time.Minute); err != nil {
				t.Fatalf("Set: %v", err)
			}

			const callers = 8
			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				total int64
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					n, err := s.Delete(ctx, key)
					if err != nil {
						t.Errorf("Delete: %v", err)
						return
					}
					mu.Lock()
					total += n
					mu.Unlock()
				}()
			}
			wg.Wait()

			if total != 1 {
				t.Errorf("expected exactly one caller to remove the key, got %d", total)
			}
		})
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer s.Close()

	if err := s.Set(ctx, HookKey("S", "1"), []byte("v"), time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := s.Get(ctx, HookKey("S", "1")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired key, got %v", err)
	}
}

func TestNewRedisStore_RequiresAddr(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), RedisConfig{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestKeys(t *testing.T) {
	if got := SubscriptionKey("abc"); got != "SUBSCRIPTIONS:abc" {
		t.Errorf("SubscriptionKey = %s", got)
	}
	if got := HookKey("NEW_HOOK", "h1"); got != "HOOKS:NEW_HOOK:h1" {
		t.Errorf("HookKey = %s", got)
	}
	if got := HookIDFromKey("HOOKS:NEW_HOOK:h1"); got != "h1" {
		t.Errorf("HookIDFromKey = %s", got)
	}
}

func TestBadgerStore_PingAfterClose(t *testing.T) {
	s, err := NewBadgerStore("")
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail after close")
	}
}
