// Package store provides the keyed state store shared by the rate limiter
// and the replay guard.
//
// Three backends are available:
//   - Memory: process-local, sharded locks, lazy expiry plus a cleanup loop
//   - SQLite: durable single-instance storage (modernc.org/sqlite)
//   - Redis: shared storage for multi-instance deployments (go-redis)
//
// All backends honour per-entry TTLs. PutIfAbsent is an atomic
// check-and-set and Update is an atomic read-modify-write on one key.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// UpdateFunc computes the next value of a key from its current value.
// current is nil when the key is absent or expired. Returning an error
// aborts the update and leaves the stored value untouched.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is a keyed byte store with per-entry expiry.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value of key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any existing value.
	// A ttl of zero means the entry never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PutIfAbsent stores value only when key is absent or expired.
	// It reports whether the value was stored. Concurrent callers racing
	// on the same key see exactly one true.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Update atomically applies fn to the current value of key and stores
	// the result with ttl. Updates to the same key are serialized.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Cleanup removes expired entries and returns how many were removed.
	Cleanup(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// OpError wraps a backend failure with the operation and key involved.
type OpError struct {
	Backend string
	Op      string
	Key     string
	Err     error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return "store " + e.Backend + " " + e.Op + ": " + e.Err.Error()
	}
	return "store " + e.Backend + " " + e.Op + " " + e.Key + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
