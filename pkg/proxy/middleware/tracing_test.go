package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/telemetry/tracing"
)

func TestTracingMiddleware(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := tracing.NewWithExporter(&config.TracingConfig{Enabled: true, Sampler: tracing.SamplerAlways}, "relay-test", "0", exporter)
	if err != nil {
		t.Fatalf("NewWithExporter() error = %v", err)
	}
	defer tracer.Shutdown(context.Background())

	tests := []struct {
		name        string
		status      int
		traceparent string
		wantCode    codes.Code
	}{
		{name: "ok", status: http.StatusOK, wantCode: codes.Unset},
		{name: "client error", status: http.StatusTooManyRequests, wantCode: codes.Unset},
		{name: "server error", status: http.StatusBadGateway, wantCode: codes.Error},
		{
			name:        "continues caller trace",
			status:      http.StatusOK,
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			wantCode:    codes.Unset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter.Reset()

			var innerTrace string
			handler := RequestIDMiddleware(TracingMiddleware("gateway")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				innerTrace = tracing.TraceID(r.Context())
				w.WriteHeader(tt.status)
			})))

			req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("Expected 1 span, got %d", len(spans))
			}
			span := spans[0]

			if span.Name != "gateway POST /api/chat" {
				t.Errorf("Expected span name %q, got %q", "gateway POST /api/chat", span.Name)
			}
			if span.SpanKind != trace.SpanKindServer {
				t.Errorf("Expected server span, got %v", span.SpanKind)
			}
			if span.Status.Code != tt.wantCode {
				t.Errorf("Expected status %v, got %v", tt.wantCode, span.Status.Code)
			}
			if !hasAttr(span.Attributes, tracing.AttrHTTPStatus, attribute.IntValue(tt.status)) {
				t.Errorf("Expected %s=%d in %v", tracing.AttrHTTPStatus, tt.status, span.Attributes)
			}
			if innerTrace != span.SpanContext.TraceID().String() {
				t.Errorf("Expected handler to see span trace %s, got %s", span.SpanContext.TraceID(), innerTrace)
			}
			if tt.traceparent != "" && span.Parent.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
				t.Errorf("Expected remote parent, got %v", span.Parent.TraceID())
			}

			var sawRequestID bool
			for _, kv := range span.Attributes {
				if string(kv.Key) == tracing.AttrRequestID && kv.Value.AsString() != "" {
					sawRequestID = true
				}
			}
			if !sawRequestID {
				t.Error("Expected request ID attribute")
			}
		})
	}
}

func hasAttr(attrs []attribute.KeyValue, key string, want attribute.Value) bool {
	for _, kv := range attrs {
		if string(kv.Key) == key && kv.Value.Emit() == want.Emit() {
			return true
		}
	}
	return false
}
