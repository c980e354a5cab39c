package store

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const memoryShards = 64

// MemoryStore implements Store with an in-process map.
// All data is lost when the process exits.
//
// Keys are hashed onto a fixed set of shards; each shard has its own lock,
// so operations on different keys rarely contend and operations on the same
// key are strictly ordered.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
	clock  clock.Clock

	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
	wg              sync.WaitGroup
	logger          *slog.Logger
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryConfig configures the memory store.
type MemoryConfig struct {
	// CleanupInterval is how often expired entries are swept.
	// Zero disables the background sweep; expiry is still enforced lazily.
	// Default: 1 minute
	CleanupInterval time.Duration

	// Clock overrides the time source. Default: wall clock.
	Clock clock.Clock
}

// NewMemoryStore creates a memory store with default settings.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryConfig{CleanupInterval: time.Minute})
}

// NewMemoryStoreWithConfig creates a memory store with custom configuration.
func NewMemoryStoreWithConfig(cfg MemoryConfig) *MemoryStore {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	m := &MemoryStore{
		clock:           cfg.Clock,
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
		logger:          slog.Default().With("component", "store.memory"),
	}
	for i := range m.shards {
		m.shards[i] = &memoryShard{entries: make(map[string]memoryEntry)}
	}

	if cfg.CleanupInterval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}

	return m
}

func (m *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%memoryShards]
}

func (m *MemoryStore) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Get returns the value of key.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(m.clock.Now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Put stores value under key.
func (m *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.isClosed() {
		return ErrClosed
	}
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: expiry(m.clock.Now(), ttl),
	}
	return nil
}

// PutIfAbsent stores value when key is absent or expired.
func (m *MemoryStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if m.isClosed() {
		return false, ErrClosed
	}
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.clock.Now()
	if e, ok := s.entries[key]; ok && !e.expired(now) {
		return false, nil
	}
	s.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: expiry(now, ttl),
	}
	return true, nil
}

// Update applies fn to key while holding the key's shard lock.
func (m *MemoryStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	if m.isClosed() {
		return ErrClosed
	}
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.clock.Now()
	var current []byte
	if e, ok := s.entries[key]; ok && !e.expired(now) {
		current = append([]byte(nil), e.value...)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	s.entries[key] = memoryEntry{
		value:     append([]byte(nil), next...),
		expiresAt: expiry(now, ttl),
	}
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if m.isClosed() {
		return ErrClosed
	}
	s := m.shard(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Cleanup removes expired entries.
func (m *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	now := m.clock.Now()
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if e.expired(now) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (m *MemoryStore) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Close stops the cleanup loop.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
	return nil
}

func (m *MemoryStore) cleanupLoop() {
	defer m.wg.Done()

	ticker := m.clock.Ticker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			removed, _ := m.Cleanup(context.Background())
			if removed > 0 {
				m.logger.Debug("expired entries removed", "count", removed)
			}
		}
	}
}
