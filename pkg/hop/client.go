package hop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/relay/pkg/signing"
	"mercator-hq/relay/pkg/telemetry/logging"
	"mercator-hq/relay/pkg/telemetry/tracing"
)

// RequestIDHeader carries the request ID across hops.
const RequestIDHeader = "X-Request-ID"

// Config configures a hop client.
type Config struct {
	// URL is the full endpoint URL.
	URL string

	// Target names the peer in errors and logs.
	// Default: "backend"
	Target string

	// Timeout bounds the wait for response headers. The body is bounded
	// only by the request context.
	// Default: 30s
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after a connection failure.
	// Default: 0
	MaxRetries int

	// RetryBackoff is the delay before the first retry; it doubles per attempt.
	// Default: 200ms
	RetryBackoff time.Duration

	// Headers are set on every request (e.g. Authorization).
	Headers map[string]string

	// MaxIdleConns bounds the idle connection pool.
	// Default: 100
	MaxIdleConns int

	// IdleConnTimeout closes idle pooled connections.
	// Default: 90s
	IdleConnTimeout time.Duration
}

// Health is a snapshot of the client's view of its peer.
type Health struct {
	IsHealthy           bool
	ConsecutiveFailures int
	LastError           string
	LastSuccess         time.Time
	TotalRequests       int64
	FailedRequests      int64
}

// unhealthyAfter is the number of consecutive failures that marks the peer
// unhealthy.
const unhealthyAfter = 3

// Client performs signed or unsigned streaming POSTs to one endpoint.
type Client struct {
	config Config
	path   string
	signer *signing.Signer
	client *http.Client
	logger *slog.Logger

	mu     sync.RWMutex
	health Health
}

// NewClient creates a hop client. signer may be nil for unsigned calls.
func NewClient(cfg Config, signer *signing.Signer) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid hop url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid hop url %q: scheme must be http or https", cfg.URL)
	}

	if cfg.Target == "" {
		cfg.Target = "backend"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConns,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	return &Client{
		config: cfg,
		path:   path,
		signer: signer,
		client: &http.Client{Transport: transport},
		logger: slog.Default().With("component", "hop", "target", cfg.Target),
		health: Health{IsHealthy: true},
	}, nil
}

// Stream POSTs body and returns the response body of a 2xx reply. The caller
// must close it. Cancelling ctx aborts the call and the body.
func (c *Client) Stream(ctx context.Context, body []byte) (_ io.ReadCloser, err error) {
	ctx, span := tracing.Start(ctx, "hop "+c.config.Target,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(tracing.AttrHop, c.config.Target)),
	)
	defer func() {
		tracing.SetStatus(span, err)
		span.End()
	}()

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.config.RetryBackoff << (attempt - 1)
			c.logger.DebugContext(ctx, "retrying hop request",
				"attempt", attempt,
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return nil, &UpstreamError{Target: c.config.Target, Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Cause: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		resp, err := c.do(ctx, body)
		if err != nil {
			lastErr = err
			c.record(false, err)

			// Only connection failures are retried; a timeout or a
			// cancelled context means the peer may have the request.
			var upErr *UpstreamError
			if ctx.Err() != nil || (errors.As(err, &upErr) && upErr.Timeout) {
				return nil, err
			}
			c.logger.WarnContext(ctx, "hop request failed",
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.record(true, nil)
			return resp.Body, nil
		}

		upErr := &UpstreamError{
			Target:     c.config.Target,
			StatusCode: resp.StatusCode,
			Code:       peerErrorCode(resp.Body),
		}
		resp.Body.Close()
		c.record(resp.StatusCode < 500, upErr)
		return nil, upErr
	}

	return nil, lastErr
}

func (c *Client) do(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create hop request: %w", err)
	}

	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if requestID := logging.GetRequestID(ctx); requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}
	tracing.Inject(ctx, req.Header)

	if c.signer != nil {
		// Sign against the path the peer will see; req.URL.Path is the
		// decoded form used on both sides.
		if _, err := c.signer.SignRequest(req, body); err != nil {
			return nil, fmt.Errorf("failed to sign hop request: %w", err)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Target: c.config.Target, Timeout: isTimeout(err), Cause: err}
	}
	return resp, nil
}

// peerErrorCode extracts error_code from a JSON error body, if present.
func peerErrorCode(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		ErrorCode string `json:"error_code"`
	}
	if json.Unmarshal(raw, &payload) != nil {
		return ""
	}
	return payload.ErrorCode
}

func (c *Client) record(success bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.health.TotalRequests++
	if success {
		c.health.ConsecutiveFailures = 0
		c.health.IsHealthy = true
		c.health.LastSuccess = time.Now()
		return
	}

	c.health.FailedRequests++
	c.health.ConsecutiveFailures++
	if err != nil {
		c.health.LastError = err.Error()
	}
	if c.health.ConsecutiveFailures >= unhealthyAfter {
		if c.health.IsHealthy {
			c.logger.Warn("peer marked unhealthy",
				"consecutive_failures", c.health.ConsecutiveFailures,
			)
		}
		c.health.IsHealthy = false
	}
}

// Health returns a snapshot of the peer health.
func (c *Client) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Path returns the URL path requests are signed against.
func (c *Client) Path() string {
	return c.path
}

// Close releases idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
