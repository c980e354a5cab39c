package audit

import (
	"context"
	"time"
)

// Kind classifies an audit event.
type Kind string

const (
	KindAuthFailure     Kind = "auth_failure"
	KindOriginRejected  Kind = "origin_rejected"
	KindReplayRejected  Kind = "replay_rejected"
	KindRateLimited     Kind = "rate_limited"
	KindInvalidRequest  Kind = "invalid_request"
	KindModerationBlock Kind = "moderation_block"
	KindUpstreamFailure Kind = "upstream_failure"
	KindStreamFailure   Kind = "stream_failure"
	KindInternalError   Kind = "internal_error"
	KindCompleted       Kind = "completed"
)

// Event is a single audit record.
type Event struct {
	// ID is a unique identifier (UUID), assigned on Record if empty.
	ID string `json:"id"`

	// Time is when the outcome was decided, assigned on Record if zero.
	Time time.Time `json:"time"`

	// Hop is the service that recorded the event ("gateway" or "backend").
	Hop string `json:"hop"`

	Kind      Kind   `json:"kind"`
	RequestID string `json:"request_id"`

	// Identity is the rate-limit identity of the caller.
	Identity string `json:"identity,omitempty"`

	// Code is the error_code returned to the caller.
	Code string `json:"code,omitempty"`

	// Detail is the internal reason (verify reason, tier, upstream status).
	Detail string `json:"detail,omitempty"`

	// Status is the HTTP status returned (0 for streamed outcomes).
	Status int `json:"status,omitempty"`

	// Duration is the time spent on the request.
	Duration time.Duration `json:"duration"`
}

// Query filters stored events. Zero fields match everything.
type Query struct {
	Since     *time.Time
	Until     *time.Time
	Kind      Kind
	Hop       string
	RequestID string

	// Limit bounds the result size. Default 100.
	Limit int
}

// Storage persists audit events.
type Storage interface {
	// Store persists an event.
	Store(ctx context.Context, event *Event) error

	// Query returns matching events, newest first.
	Query(ctx context.Context, query *Query) ([]*Event, error)

	// Count returns the number of matching events.
	Count(ctx context.Context, query *Query) (int64, error)

	// DeleteBefore removes events older than cutoff and returns how many
	// were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases resources held by the storage backend.
	Close() error
}
