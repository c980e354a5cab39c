package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/relay/pkg/config"
)

func remoteParent(t *testing.T, sampled bool) context.Context {
	t.Helper()
	tid, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	if err != nil {
		t.Fatal(err)
	}
	sid, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	if err != nil {
		t.Fatal(err)
	}
	var flags trace.TraceFlags
	if sampled {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: flags,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(context.Background(), sc)
}

func TestNew_Disabled(t *testing.T) {
	tracer, err := New(&config.TracingConfig{Enabled: false}, "relay-test", "0.0.0")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if tracer.Enabled() {
		t.Error("Expected disabled tracer")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	// Propagation still works with tracing off.
	h := http.Header{}
	Inject(remoteParent(t, true), h)
	want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	if got := h.Get("traceparent"); got != want {
		t.Errorf("Expected traceparent %q, got %q", want, got)
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil, "relay-test", "0.0.0"); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestNewWithExporter_RecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	cfg := &config.TracingConfig{Enabled: true, Sampler: SamplerAlways}

	tracer, err := NewWithExporter(cfg, "relay-test", "1.2.3", exporter)
	if err != nil {
		t.Fatalf("NewWithExporter() error = %v", err)
	}
	defer tracer.Shutdown(context.Background())

	_, span := Start(context.Background(), "moderation.classify")
	SetStatus(span, errors.New("classifier down"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "moderation.classify" {
		t.Errorf("Expected span name moderation.classify, got %q", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("Expected error status, got %v", spans[0].Status.Code)
	}
	if len(spans[0].Events) == 0 {
		t.Error("Expected recorded error event")
	}

	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if string(kv.Key) == "service.name" && kv.Value.AsString() == "relay-test" {
			found = true
		}
	}
	if !found {
		t.Error("Expected service.name resource attribute")
	}
}

func TestSampling_FollowsParent(t *testing.T) {
	tests := []struct {
		name       string
		sampler    string
		parent     bool
		sampled    bool
		wantExport bool
	}{
		{"never root", SamplerNever, false, false, false},
		{"always root", SamplerAlways, false, false, true},
		{"never with sampled parent", SamplerNever, true, true, true},
		{"always with unsampled parent", SamplerAlways, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := tracetest.NewInMemoryExporter()
			tracer, err := NewWithExporter(&config.TracingConfig{Enabled: true, Sampler: tt.sampler}, "relay-test", "0", exporter)
			if err != nil {
				t.Fatalf("NewWithExporter() error = %v", err)
			}
			defer tracer.Shutdown(context.Background())

			ctx := context.Background()
			if tt.parent {
				ctx = remoteParent(t, tt.sampled)
			}
			_, span := tracer.Start(ctx, "backend POST /internal/chat")
			span.End()

			if got := len(exporter.GetSpans()) > 0; got != tt.wantExport {
				t.Errorf("Expected exported=%v, got %v", tt.wantExport, got)
			}
		})
	}
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{SamplerAlways, 0, false},
		{SamplerNever, 0, false},
		{SamplerRatio, 0.25, false},
		{SamplerRatio, 1.5, true},
		{"sometimes", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			_, err := createSampler(tt.strategy, tt.ratio)
			if (err != nil) != tt.wantErr {
				t.Errorf("createSampler(%q, %v) error = %v, wantErr %v", tt.strategy, tt.ratio, err, tt.wantErr)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	installPropagator()

	h := http.Header{}
	h.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	ctx := Extract(context.Background(), h)
	if got := TraceID(ctx); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("Expected extracted trace ID, got %q", got)
	}

	if got := TraceID(Extract(context.Background(), http.Header{})); got != "" {
		t.Errorf("Expected no trace ID without headers, got %q", got)
	}
}
