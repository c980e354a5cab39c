package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// IdentityKey is the context key for the rate-limit identity of a client.
	IdentityKey contextKey = "identity"

	// HopKey is the context key for the hop name (gateway or backend).
	HopKey contextKey = "hop"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithIdentity adds a client identity to the context.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// GetIdentity retrieves the client identity from the context.
func GetIdentity(ctx context.Context) string {
	if identity, ok := ctx.Value(IdentityKey).(string); ok {
		return identity
	}
	return ""
}

// WithHop adds the hop name to the context.
func WithHop(ctx context.Context, hop string) context.Context {
	return context.WithValue(ctx, HopKey, hop)
}

// GetHop retrieves the hop name from the context.
func GetHop(ctx context.Context) string {
	if hop, ok := ctx.Value(HopKey).(string); ok {
		return hop
	}
	return ""
}

// extractContextFields extracts common fields from context for logging.
func extractContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var fields []slog.Attr
	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, slog.String(string(RequestIDKey), requestID))
	}
	if identity := GetIdentity(ctx); identity != "" {
		fields = append(fields, slog.String(string(IdentityKey), identity))
	}
	if hop := GetHop(ctx); hop != "" {
		fields = append(fields, slog.String(string(HopKey), hop))
	}
	return fields
}

// contextHandler adds context fields to every record before delegating.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if fields := extractContextFields(ctx); len(fields) > 0 {
		r.AddAttrs(fields...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
