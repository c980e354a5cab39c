package store

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
)

// storeHarness bundles a store with a way to move its clock forward.
type storeHarness struct {
	store   Store
	advance func(d time.Duration)
}

func newMockClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return mock
}

func memoryHarness(t *testing.T) storeHarness {
	mock := newMockClock()
	s := NewMemoryStoreWithConfig(MemoryConfig{Clock: mock})
	t.Cleanup(func() { s.Close() })
	return storeHarness{store: s, advance: mock.Add}
}

func sqliteHarness(t *testing.T) storeHarness {
	mock := newMockClock()
	s, err := NewSQLiteStore(SQLiteConfig{
		Path:  filepath.Join(t.TempDir(), "state.db"),
		Clock: mock,
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return storeHarness{store: s, advance: mock.Add}
}

// newTestRedisStore connects to RELAY_TEST_REDIS_URL (or a local default)
// under a key prefix unique to the test, skipping when Redis is down.
func newTestRedisStore(t *testing.T, cfg RedisConfig) *RedisStore {
	t.Helper()
	cfg.URL = os.Getenv("RELAY_TEST_REDIS_URL")
	if cfg.URL == "" {
		cfg.URL = "redis://localhost:6379/15"
	}
	cfg.KeyPrefix = "relay-test:" + t.Name() + ":" + strconv.FormatInt(time.Now().UnixNano(), 36) + ":"
	cfg.DialTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	s, err := NewRedisStore(ctx, cfg)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func redisHarness(t *testing.T) storeHarness {
	return storeHarness{store: newTestRedisStore(t, RedisConfig{}), advance: time.Sleep}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, h storeHarness)) {
	backends := map[string]func(t *testing.T) storeHarness{
		"memory": memoryHarness,
		"sqlite": sqliteHarness,
		"redis":  redisHarness,
	}
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, mk(t))
		})
	}
}

func TestStore_GetPutDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h storeHarness) {
		ctx := context.Background()

		if _, err := h.store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}

		if err := h.store.Put(ctx, "k", []byte("v1"), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := h.store.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "v1" {
			t.Errorf("Expected v1, got %s", got)
		}

		if err := h.store.Put(ctx, "k", []byte("v2"), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, _ = h.store.Get(ctx, "k")
		if string(got) != "v2" {
			t.Errorf("Expected v2 after overwrite, got %s", got)
		}

		if err := h.store.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := h.store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
		if err := h.store.Delete(ctx, "k"); err != nil {
			t.Errorf("Deleting a missing key should not fail, got %v", err)
		}
	})
}

func TestStore_PutIfAbsentExpiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h storeHarness) {
		ctx := context.Background()
		ttl := time.Second

		ok, err := h.store.PutIfAbsent(ctx, "nonce", []byte("1"), ttl)
		if err != nil || !ok {
			t.Fatalf("Expected first insert to succeed, got ok=%v err=%v", ok, err)
		}

		ok, err = h.store.PutIfAbsent(ctx, "nonce", []byte("2"), ttl)
		if err != nil || ok {
			t.Fatalf("Expected duplicate insert to fail, got ok=%v err=%v", ok, err)
		}

		h.advance(ttl + 200*time.Millisecond)

		ok, err = h.store.PutIfAbsent(ctx, "nonce", []byte("3"), ttl)
		if err != nil || !ok {
			t.Fatalf("Expected insert after expiry to succeed, got ok=%v err=%v", ok, err)
		}
		got, _ := h.store.Get(ctx, "nonce")
		if string(got) != "3" {
			t.Errorf("Expected value 3, got %s", got)
		}
	})
}

func TestStore_PutIfAbsentRace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h storeHarness) {
		ctx := context.Background()
		const racers = 32

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				ok, err := h.store.PutIfAbsent(ctx, "contested", []byte("x"), time.Minute)
				if err != nil {
					t.Errorf("PutIfAbsent failed: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if wins.Load() != 1 {
			t.Errorf("Expected exactly 1 winner, got %d", wins.Load())
		}
	})
}

func TestStore_UpdateIsAtomic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h storeHarness) {
		ctx := context.Background()
		const workers, perWorker = 8, 25

		increment := func(current []byte) ([]byte, error) {
			var n uint64
			if len(current) == 8 {
				n = binary.BigEndian.Uint64(current)
			}
			next := make([]byte, 8)
			binary.BigEndian.PutUint64(next, n+1)
			return next, nil
		}

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					if err := h.store.Update(ctx, "counter", time.Minute, increment); err != nil {
						t.Errorf("Update failed: %v", err)
						return
					}
				}
			}()
		}
		wg.Wait()

		got, err := h.store.Get(ctx, "counter")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if n := binary.BigEndian.Uint64(got); n != workers*perWorker {
			t.Errorf("Expected counter %d, got %d", workers*perWorker, n)
		}
	})
}

func TestStore_UpdateErrorLeavesValue(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h storeHarness) {
		ctx := context.Background()
		if err := h.store.Put(ctx, "k", []byte("keep"), time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		boom := errors.New("boom")
		err := h.store.Update(ctx, "k", time.Minute, func(current []byte) ([]byte, error) {
			if string(current) != "keep" {
				t.Errorf("Expected current value keep, got %q", current)
			}
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Expected fn error to pass through, got %v", err)
		}

		got, _ := h.store.Get(ctx, "k")
		if string(got) != "keep" {
			t.Errorf("Expected value to be unchanged, got %s", got)
		}
	})
}

func TestStore_UpdateSeesNilAfterExpiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h storeHarness) {
		ctx := context.Background()
		if err := h.store.Put(ctx, "k", []byte("old"), time.Second); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		h.advance(1200 * time.Millisecond)

		err := h.store.Update(ctx, "k", time.Minute, func(current []byte) ([]byte, error) {
			if current != nil {
				t.Errorf("Expected nil for expired key, got %q", current)
			}
			return []byte("new"), nil
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	})
}

func TestMemoryStore_Cleanup(t *testing.T) {
	mock := newMockClock()
	s := NewMemoryStoreWithConfig(MemoryConfig{Clock: mock})
	defer s.Close()
	ctx := context.Background()

	_ = s.Put(ctx, "short", []byte("a"), time.Second)
	_ = s.Put(ctx, "long", []byte("b"), time.Hour)
	_ = s.Put(ctx, "forever", []byte("c"), 0)

	mock.Add(2 * time.Second)

	removed, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed entry, got %d", removed)
	}
	if s.Len() != 2 {
		t.Errorf("Expected 2 remaining entries, got %d", s.Len())
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()

	if _, err := s.PutIfAbsent(context.Background(), "k", nil, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestSQLiteStore_CleanupAndReopen(t *testing.T) {
	mock := newMockClock()
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(SQLiteConfig{Path: path, Clock: mock})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	_ = s.Put(ctx, "short", []byte("a"), time.Second)
	_ = s.Put(ctx, "durable", []byte("b"), time.Hour)

	mock.Add(5 * time.Second)
	removed, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed entry, got %d", removed)
	}
	s.Close()

	reopened, err := NewSQLiteStore(SQLiteConfig{Path: path, Clock: mock})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "durable")
	if err != nil {
		t.Fatalf("Expected durable entry after reopen, got %v", err)
	}
	if string(got) != "b" {
		t.Errorf("Expected b, got %s", got)
	}
}

func TestSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore(SQLiteConfig{}); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestRedisStore_InvalidURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{URL: "not-a-url"})
	if err == nil {
		t.Error("Expected error for invalid URL")
	}
}

func TestRedisStore_PrefixDefault(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	s := NewRedisStoreFromClient(client, "")
	if s.key("abc") != "relay:abc" {
		t.Errorf("Expected relay:abc, got %s", s.key("abc"))
	}
}

func TestRedisStore_UpdateBurstOnOneKey(t *testing.T) {
	s := newTestRedisStore(t, RedisConfig{})
	ctx := context.Background()
	const callers = 64

	var wg sync.WaitGroup
	var failed atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, "burst", time.Minute, func(current []byte) ([]byte, error) {
				n, _ := strconv.Atoi(string(current))
				return []byte(strconv.Itoa(n + 1)), nil
			})
			if err != nil {
				failed.Add(1)
				t.Errorf("Update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "burst")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != strconv.Itoa(callers) {
		t.Errorf("Expected %d after %d concurrent updates (%d failed), got %s", callers, callers, failed.Load(), got)
	}
}

func TestRedisStore_UpdateLockContention(t *testing.T) {
	t.Run("lock held past wait", func(t *testing.T) {
		s := newTestRedisStore(t, RedisConfig{LockWait: 50 * time.Millisecond})
		ctx := context.Background()

		if err := s.client.Set(ctx, s.key("k")+":lock", "someone-else", time.Minute).Err(); err != nil {
			t.Fatalf("Failed to plant lock: %v", err)
		}

		called := false
		err := s.Update(ctx, "k", time.Minute, func(current []byte) ([]byte, error) {
			called = true
			return []byte("x"), nil
		})
		if !errors.Is(err, ErrContention) {
			t.Fatalf("Expected ErrContention, got %v", err)
		}
		if called {
			t.Error("Update function should not run without the lock")
		}
		if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected no value written, got %v", err)
		}
	})

	t.Run("lock lost before commit", func(t *testing.T) {
		s := newTestRedisStore(t, RedisConfig{})
		ctx := context.Background()
		lock := s.key("k") + ":lock"

		err := s.Update(ctx, "k", time.Minute, func(current []byte) ([]byte, error) {
			// Another writer takes over after the lock expired.
			if err := s.client.Set(ctx, lock, "someone-else", time.Minute).Err(); err != nil {
				t.Fatalf("Failed to replace lock: %v", err)
			}
			return []byte("stale"), nil
		})
		if !errors.Is(err, ErrContention) {
			t.Fatalf("Expected ErrContention, got %v", err)
		}
		if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected stale write refused, got %v", err)
		}
		if owner, _ := s.client.Get(ctx, lock).Result(); owner != "someone-else" {
			t.Errorf("Expected the other writer to keep its lock, got %q", owner)
		}
	})

	t.Run("lock released after update error", func(t *testing.T) {
		s := newTestRedisStore(t, RedisConfig{LockWait: 50 * time.Millisecond})
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.Update(ctx, "k", time.Minute, func(current []byte) ([]byte, error) {
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Expected fn error, got %v", err)
		}
		if err := s.Update(ctx, "k", time.Minute, func(current []byte) ([]byte, error) {
			return []byte("ok"), nil
		}); err != nil {
			t.Fatalf("Expected lock to be free, got %v", err)
		}
	})
}
