package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercator-hq/relay/pkg/audit"
)

// MemoryStorage implements audit.Storage in memory.
type MemoryStorage struct {
	events []*audit.Event
	mu     sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Store persists an event to memory.
func (s *MemoryStorage) Store(ctx context.Context, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *event
	s.events = append(s.events, &copied)
	return nil
}

// Query returns matching events, newest first.
func (s *MemoryStorage) Query(ctx context.Context, query *audit.Query) ([]*audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []*audit.Event{}
	for _, ev := range s.events {
		if matches(ev, query) {
			copied := *ev
			results = append(results, &copied)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Time.After(results[j].Time)
	})

	if limit := queryLimit(query); len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Count returns the number of matching events.
func (s *MemoryStorage) Count(ctx context.Context, query *audit.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, ev := range s.events {
		if matches(ev, query) {
			n++
		}
	}
	return n, nil
}

// DeleteBefore removes events older than cutoff.
func (s *MemoryStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, ev := range s.events {
		if ev.Time.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	for i := len(kept); i < len(s.events); i++ {
		s.events[i] = nil
	}
	s.events = kept
	return deleted, nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}

func matches(ev *audit.Event, q *audit.Query) bool {
	if q == nil {
		return true
	}
	if q.Since != nil && ev.Time.Before(*q.Since) {
		return false
	}
	if q.Until != nil && ev.Time.After(*q.Until) {
		return false
	}
	if q.Kind != "" && ev.Kind != q.Kind {
		return false
	}
	if q.Hop != "" && ev.Hop != q.Hop {
		return false
	}
	if q.RequestID != "" && ev.RequestID != q.RequestID {
		return false
	}
	return true
}

func queryLimit(q *audit.Query) int {
	if q == nil || q.Limit <= 0 {
		return 100
	}
	return q.Limit
}
