package moderation

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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"mercator-hq/relay/pkg/proxy/types"
	"mercator-hq/relay/pkg/telemetry/tracing"
)

// Classifier classifies a conversation.
type Classifier interface {
	Classify(ctx context.Context, messages []types.Message) (Verdict, error)
}

// Config configures a Gate.
type Config struct {
	// URL is the classifier endpoint.
	URL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds the whole call, including throttling.
	Timeout time.Duration

	// RequestsPerSecond throttles outbound calls. 0 disables throttling.
	RequestsPerSecond float64

	// Burst is the throttle bucket size.
	Burst int

	// MaxResponseBytes caps the reply size. Larger replies are unparseable.
	MaxResponseBytes int64
}

// Gate calls the external safety classifier.
type Gate struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewGate creates a gate. A nil client uses a default client without an
// overall timeout; the per-call timeout comes from Config.Timeout.
func NewGate(cfg Config, client *http.Client) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 1 << 20
	}
	if client == nil {
		client = &http.Client{}
	}

	g := &Gate{
		config: cfg,
		client: client,
		logger: slog.Default().With("component", "moderation"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return g
}

// Classify sends the full message history to the classifier and decodes its
// reply. Transport failures are returned as *UnavailableError.
func (g *Gate) Classify(ctx context.Context, messages []types.Message) (Verdict, error) {
	ctx, span := tracing.Start(ctx, "moderation.classify",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("relay.moderation.messages", len(messages))),
	)
	defer span.End()

	verdict, err := g.classify(ctx, messages)
	if err == nil {
		label := "safe"
		if !verdict.Safe {
			label = "blocked"
		}
		span.SetAttributes(attribute.String(tracing.AttrVerdict, label))
	}
	tracing.SetStatus(span, err)
	return verdict, err
}

func (g *Gate) classify(ctx context.Context, messages []types.Message) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Verdict{}, &UnavailableError{Timeout: true, Cause: err}
		}
	}

	body, err := json.Marshal(types.ClassifierRequest{Messages: messages})
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to encode classifier request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.URL, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to create classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return Verdict{}, &UnavailableError{Timeout: isTimeout(err), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Verdict{}, &UnavailableError{StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, g.config.MaxResponseBytes+1))
	if err != nil {
		return Verdict{}, &UnavailableError{Timeout: isTimeout(err), Cause: err}
	}

	if int64(len(raw)) > g.config.MaxResponseBytes {
		g.logger.WarnContext(ctx, "classifier reply too large",
			"limit", g.config.MaxResponseBytes,
		)
		return Unparseable(), nil
	}

	verdict := Decode(raw)
	g.logger.DebugContext(ctx, "classifier verdict",
		"safe", verdict.Safe,
		"categories", verdict.Categories,
		"duration", time.Since(start),
	)
	return verdict, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
