package hop

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/relay/pkg/signing"
	"mercator-hq/relay/pkg/telemetry/logging"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewClient_InvalidURL(t *testing.T) {
	tests := []string{"", "ftp://host/path", "://bad"}
	for _, raw := range tests {
		if _, err := NewClient(Config{URL: raw}, nil); err == nil {
			t.Errorf("Expected error for url %q", raw)
		}
	}
}

func TestClient_StreamSignsRequest(t *testing.T) {
	verifier := signing.NewVerifier(testSecret, 3*time.Minute, nil)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		env := signing.FromRequest(r)
		if err := verifier.Verify(env, body); err != nil {
			t.Errorf("Expected valid signature, got %v", err)
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Expected event-stream accept, got %q", r.Header.Get("Accept"))
		}
		if r.Header.Get(RequestIDHeader) != "req-1" {
			t.Errorf("Expected request ID req-1, got %q", r.Header.Get(RequestIDHeader))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"delta\":\"hi\"}\n\n")
	}))
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL + "/internal/chat"}, signing.NewSigner(testSecret, nil))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	ctx := logging.WithRequestID(context.Background(), "req-1")
	body, err := client.Stream(ctx, []byte(`{"messages":[]}`))
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer body.Close()

	got, _ := io.ReadAll(body)
	if string(got) != "data: {\"delta\":\"hi\"}\n\n" {
		t.Errorf("Unexpected body %q", got)
	}
	if h := client.Health(); !h.IsHealthy || h.TotalRequests != 1 {
		t.Errorf("Expected healthy with 1 request, got %+v", h)
	}
}

func TestClient_StreamSetsConfiguredHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Expected bearer header, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get(signing.HeaderSignature) != "" {
			t.Error("Expected unsigned request")
		}
	}))
	defer server.Close()

	client, err := NewClient(Config{
		URL:     server.URL,
		Target:  "upstream",
		Headers: map[string]string{"Authorization": "Bearer key"},
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	body, err := client.Stream(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	body.Close()
}

func TestClient_StreamNon2xx(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{name: "unauthorized with code", status: http.StatusUnauthorized, body: `{"error":"x","error_code":"unauthorized"}`, wantCode: "unauthorized"},
		{name: "server error without json", status: http.StatusInternalServerError, body: "boom"},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error_code":"rate-limited"}`, wantCode: "rate-limited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client, _ := NewClient(Config{URL: server.URL}, nil)
			_, err := client.Stream(context.Background(), []byte(`{}`))

			var upErr *UpstreamError
			if !errors.As(err, &upErr) {
				t.Fatalf("Expected *UpstreamError, got %T (%v)", err, err)
			}
			if upErr.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, upErr.StatusCode)
			}
			if upErr.Code != tt.wantCode {
				t.Errorf("Expected code %q, got %q", tt.wantCode, upErr.Code)
			}
			if upErr.Timeout {
				t.Error("Expected Timeout=false")
			}
		})
	}
}

func TestClient_StreamUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := server.URL
	server.Close()

	client, _ := NewClient(Config{URL: addr, MaxRetries: 1, RetryBackoff: time.Millisecond}, nil)
	_, err := client.Stream(context.Background(), []byte(`{}`))

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("Expected *UpstreamError, got %T (%v)", err, err)
	}
	if upErr.StatusCode != 0 || upErr.Cause == nil {
		t.Errorf("Expected transport failure with cause, got %+v", upErr)
	}
	if h := client.Health(); h.FailedRequests != 2 {
		t.Errorf("Expected 2 failed attempts, got %d", h.FailedRequests)
	}
}

func TestClient_StreamHeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client, _ := NewClient(Config{URL: server.URL, Timeout: 50 * time.Millisecond, MaxRetries: 2}, nil)
	_, err := client.Stream(context.Background(), []byte(`{}`))

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("Expected *UpstreamError, got %T (%v)", err, err)
	}
	if !upErr.Timeout {
		t.Errorf("Expected timeout, got %+v", upErr)
	}
	if h := client.Health(); h.TotalRequests != 1 {
		t.Errorf("Expected timeouts not to be retried, got %d attempts", h.TotalRequests)
	}
}

func TestClient_HealthDegradesAfterFailures(t *testing.T) {
	status := http.StatusBadGateway
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	client, _ := NewClient(Config{URL: server.URL}, nil)
	for i := 0; i < unhealthyAfter; i++ {
		client.Stream(context.Background(), []byte(`{}`))
	}
	if h := client.Health(); h.IsHealthy {
		t.Errorf("Expected unhealthy after %d failures, got %+v", unhealthyAfter, h)
	}

	status = http.StatusOK
	body, err := client.Stream(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	body.Close()
	if h := client.Health(); !h.IsHealthy || h.ConsecutiveFailures != 0 {
		t.Errorf("Expected recovery after success, got %+v", h)
	}
}

func TestUpstreamError_Error(t *testing.T) {
	tests := []struct {
		err  *UpstreamError
		want string
	}{
		{&UpstreamError{Target: "backend", Timeout: true}, "backend timed out"},
		{&UpstreamError{Target: "backend", StatusCode: 401, Code: "unauthorized"}, "backend returned status 401 (unauthorized)"},
		{&UpstreamError{Target: "upstream", StatusCode: 500}, "upstream returned status 500"},
		{&UpstreamError{Target: "backend", Cause: errors.New("refused")}, "backend unavailable: refused"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}
