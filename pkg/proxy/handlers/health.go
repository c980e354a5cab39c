package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"mercator-hq/relay/pkg/hop"
	"mercator-hq/relay/pkg/proxy"
	"mercator-hq/relay/pkg/store"
)

// HealthHandler handles health check requests for liveness probes.
type HealthHandler struct{}

// NewHealthHandler creates a new health check handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// ServeHTTP implements http.Handler for liveness checks.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_ = proxy.WriteJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// ReadyHandler handles readiness check requests. The service is ready when
// every check passes.
type ReadyHandler struct {
	checks  map[string]Check
	timeout time.Duration
}

// NewReadyHandler creates a readiness handler over the named checks.
func NewReadyHandler(checks map[string]Check) *ReadyHandler {
	return &ReadyHandler{checks: checks, timeout: 2 * time.Second}
}

// ServeHTTP implements http.Handler for readiness checks.
func (h *ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ready := true
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			ready = false
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	_ = proxy.WriteJSONResponse(w, statusCode, map[string]interface{}{
		"status":    status,
		"checks":    results,
		"timestamp": time.Now().Unix(),
	})
}

// PeerCheck fails while the hop client considers its peer unhealthy.
func PeerCheck(c *hop.Client) Check {
	return func(ctx context.Context) error {
		health := c.Health()
		if !health.IsHealthy {
			return fmt.Errorf("%d consecutive failures: %s", health.ConsecutiveFailures, health.LastError)
		}
		return nil
	}
}

// StoreCheck fails when the keyed store cannot serve a read.
func StoreCheck(s store.Store) Check {
	return func(ctx context.Context) error {
		_, err := s.Get(ctx, "readiness-probe")
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	}
}
