package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/stream"
)

func testConfig(t *testing.T, upstreamURL string) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Hop.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Moderation.Enabled = false
	cfg.Backend.Upstream.URL = upstreamURL
	cfg.Gateway.Server.ListenAddress = "127.0.0.1:0"
	cfg.Backend.Server.ListenAddress = "127.0.0.1:0"
	return cfg
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"pong\"}}]}\n\ndata: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGatewayAndBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, newUpstream(t).URL)

	backendApp, err := NewBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	t.Cleanup(func() { backendApp.Close() })
	backendSrv := httptest.NewServer(backendApp.Handler())
	t.Cleanup(backendSrv.Close)

	cfg.Gateway.BackendURL = backendSrv.URL + cfg.Backend.ChatPath
	gatewayApp, err := NewGateway(ctx, cfg)
	if err != nil {
		t.Fatalf("NewGateway failed: %v", err)
	}
	t.Cleanup(func() { gatewayApp.Close() })
	gatewaySrv := httptest.NewServer(gatewayApp.Handler())
	t.Cleanup(gatewaySrv.Close)

	t.Run("chat streams canonical frames", func(t *testing.T) {
		resp, err := http.Post(gatewaySrv.URL+cfg.Gateway.ChatPath, "application/json",
			strings.NewReader(`{"messages":[{"role":"user","content":"ping"}]}`))
		if err != nil {
			t.Fatalf("Post failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Error("Expected X-Request-ID header")
		}
		body, _ := io.ReadAll(resp.Body)
		frames, err := stream.ParseFrames(body)
		if err != nil {
			t.Fatalf("ParseFrames failed: %v", err)
		}
		if len(frames) != 2 || frames[0] != stream.Delta("pong") || frames[1] != stream.Done() {
			t.Errorf("Unexpected frames %+v", frames)
		}
	})

	t.Run("backend rejects unsigned calls", func(t *testing.T) {
		resp, err := http.Post(backendSrv.URL+cfg.Backend.ChatPath, "application/json",
			strings.NewReader(`{"messages":[{"role":"user","content":"ping"}]}`))
		if err != nil {
			t.Fatalf("Post failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", resp.StatusCode)
		}
	})

	for _, path := range []string{"/health", "/ready"} {
		for name, base := range map[string]string{"gateway": gatewaySrv.URL, "backend": backendSrv.URL} {
			t.Run(fmt.Sprintf("%s %s", name, path), func(t *testing.T) {
				resp, err := http.Get(base + path)
				if err != nil {
					t.Fatalf("Get failed: %v", err)
				}
				resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					t.Errorf("Expected 200, got %d", resp.StatusCode)
				}
			})
		}
	}

	t.Run("metrics endpoint", func(t *testing.T) {
		resp, err := http.Get(gatewaySrv.URL + cfg.Telemetry.Metrics.Path)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), "relay_gateway_requests_total") {
			t.Errorf("Expected request counter in metrics output")
		}
	})
}

func TestNewGateway_RequiresBackendURL(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	if _, err := NewGateway(context.Background(), cfg); err == nil {
		t.Error("Expected error without backend URL")
	}
}

func TestNewGateway_UnknownStore(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Gateway.BackendURL = "http://127.0.0.1:1/internal/chat"
	cfg.Store.Backend = "etcd"
	if _, err := NewGateway(context.Background(), cfg); err == nil {
		t.Error("Expected error for unknown store backend")
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := config.NewDefaultConfig().Gateway.Server
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second

	srv := NewServer("test", cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Addr() == nil {
		t.Fatal("Server did not start")
	}
	if !srv.IsRunning() {
		t.Error("Expected server to report running")
	}

	resp, err := http.Get("http://" + srv.Addr().String())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Server did not shut down")
	}
	if srv.IsRunning() {
		t.Error("Expected server to report stopped")
	}
}
