package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set by relay spans.
const (
	AttrRequestID     = "relay.request_id"
	AttrIdentity      = "relay.identity"
	AttrHop           = "relay.hop"
	AttrErrorCode     = "relay.error_code"
	AttrVerdict       = "relay.moderation.verdict"
	AttrStreamOutcome = "relay.stream.outcome"
	AttrStreamMode    = "relay.stream.mode"
	AttrStreamDeltas  = "relay.stream.deltas"
	AttrHTTPMethod    = "http.method"
	AttrHTTPRoute     = "http.route"
	AttrHTTPStatus    = "http.status_code"
)

// SetStatus marks span failed when err is non-nil and records the error.
func SetStatus(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetHTTPStatus records an HTTP response status. 5xx marks the span failed.
func SetHTTPStatus(span trace.Span, status int) {
	span.SetAttributes(attribute.Int(AttrHTTPStatus, status))
	if status >= 500 {
		span.SetStatus(codes.Error, "server error")
	}
}

// TraceID returns the trace ID of the span in ctx, or "" if there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
