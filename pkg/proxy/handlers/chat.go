package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/relay/pkg/audit"
	"mercator-hq/relay/pkg/limits/ratelimit"
	"mercator-hq/relay/pkg/moderation"
	"mercator-hq/relay/pkg/proxy"
	"mercator-hq/relay/pkg/proxy/middleware"
	"mercator-hq/relay/pkg/proxy/types"
	"mercator-hq/relay/pkg/redact"
	"mercator-hq/relay/pkg/stream"
	"mercator-hq/relay/pkg/telemetry/logging"
	"mercator-hq/relay/pkg/telemetry/tracing"
)

// Backend opens the reply stream for an encoded chat request.
// *hop.Client implements it.
type Backend interface {
	Stream(ctx context.Context, body []byte) (io.ReadCloser, error)
}

// ChatConfig wires the gateway chat pipeline.
type ChatConfig struct {
	// Limiter enforces per-identity limits. Nil disables rate limiting.
	Limiter *ratelimit.Limiter

	// Moderator classifies the conversation. Nil disables moderation.
	Moderator moderation.Classifier

	// Rules supplies the redaction rules. Nil disables redaction.
	Rules *redact.RuleSet

	// Backend receives the validated conversation.
	Backend Backend

	Reporter *middleware.Reporter
	Limits   proxy.Limits
	Identity middleware.IdentityConfig

	// MaxFrameBuffer bounds one incomplete backend unit.
	MaxFrameBuffer int
}

// ChatHandler is the gateway's streaming chat endpoint.
type ChatHandler struct {
	config ChatConfig
}

// NewChatHandler creates a chat handler.
func NewChatHandler(cfg ChatConfig) *ChatHandler {
	return &ChatHandler{config: cfg}
}

// ServeHTTP runs the pipeline: validation, rate limiting, moderation,
// history redaction, the signed backend hop and finally the stream relay.
// Every failure before the relay produces one JSON error; failures during
// the relay end the stream with an error frame.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rp := h.config.Reporter

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		rp.Reject(w, r, &proxy.RequestError{
			Message: fmt.Sprintf("method %s not allowed, use POST", r.Method),
			Code:    types.CodeMethodNotAllowed,
			Param:   "method",
			Status:  http.StatusMethodNotAllowed,
		})
		return
	}

	chatReq, err := proxy.ParseChatRequest(r, h.config.Limits)
	if err != nil {
		rp.Reject(w, r, err)
		return
	}

	identity := middleware.ClientIdentity(r, h.config.Identity)
	r = r.WithContext(logging.WithIdentity(r.Context(), identity))
	ctx := r.Context()

	if h.config.Limiter != nil {
		decision, err := h.config.Limiter.Allow(ctx, identity)
		if err != nil {
			rp.Reject(w, r, proxy.NewLimiterUnavailableError(err))
			return
		}
		middleware.SetRateLimitHeaders(w, decision)
		if !decision.Allowed {
			rp.Collector().RecordRateLimited(string(decision.Tier))
			rp.Reject(w, r, &ratelimit.RejectedError{Identity: identity, Decision: decision})
			return
		}
	}

	if h.config.Moderator != nil {
		if blocked := h.moderate(w, r, chatReq.Messages); blocked {
			return
		}
	}

	filter := h.filterFor(chatReq.Messages)
	forwarded := types.ChatRequest{Messages: filter.ApplyHistory(chatReq.Messages)}
	rp.Collector().RecordRedaction(filter.Active())

	body, err := json.Marshal(&forwarded)
	if err != nil {
		rp.Reject(w, r, fmt.Errorf("failed to encode backend request: %w", err))
		return
	}

	src, err := h.config.Backend.Stream(ctx, body)
	if err != nil {
		rp.Reject(w, r, err)
		return
	}

	h.relay(w, r, src, filter)
}

// moderate classifies the full history and writes the rejection when the
// request may not proceed.
func (h *ChatHandler) moderate(w http.ResponseWriter, r *http.Request, messages []types.Message) bool {
	rp := h.config.Reporter
	start := time.Now()

	verdict, err := h.config.Moderator.Classify(r.Context(), messages)
	switch {
	case err != nil:
		rp.Collector().RecordModeration("error", time.Since(start))
		rp.Reject(w, r, err)
		return true
	case !verdict.Safe:
		rp.Collector().RecordModeration("blocked", time.Since(start))
		rp.Reject(w, r, proxy.NewBlockedError(verdict.Categories))
		return true
	}

	rp.Collector().RecordModeration("safe", time.Since(start))
	return false
}

func (h *ChatHandler) filterFor(messages []types.Message) *redact.Filter {
	if h.config.Rules == nil {
		return redact.NewFilter(redact.Policy{DisclosureAllowed: true}, nil)
	}
	return h.config.Rules.Evaluate(messages)
}

func (h *ChatHandler) relay(w http.ResponseWriter, r *http.Request, src io.ReadCloser, filter *redact.Filter) {
	ctx := r.Context()
	rp := h.config.Reporter
	m := rp.Collector()

	opts := stream.Options{MaxBuffer: h.config.MaxFrameBuffer}
	if filter.Active() {
		opts.Transform = filter.Apply
	}

	ctx, span := tracing.Start(ctx, "stream.relay")
	defer span.End()

	m.StreamStarted()
	fw := proxy.NewFrameWriter(w)
	result := stream.Relay(ctx, src, fw, opts)
	m.StreamFinished(result.Mode.String(), string(result.Outcome), result.Deltas, result.Bytes)

	span.SetAttributes(
		attribute.String(tracing.AttrStreamOutcome, string(result.Outcome)),
		attribute.String(tracing.AttrStreamMode, result.Mode.String()),
		attribute.Int(tracing.AttrStreamDeltas, result.Deltas),
	)
	tracing.SetStatus(span, result.Err)

	attrs := []any{
		"outcome", result.Outcome,
		"mode", result.Mode.String(),
		"deltas", result.Deltas,
		"bytes", result.Bytes,
		"redacting", filter.Active(),
		"stream_ms", result.Duration.Milliseconds(),
	}

	if result.Outcome == stream.OutcomeCompleted {
		slog.InfoContext(ctx, "chat stream completed", attrs...)
		rp.Record(r, audit.Event{Kind: audit.KindCompleted, Status: http.StatusOK})
		return
	}

	level := slog.LevelWarn
	if result.Outcome == stream.OutcomeCanceled || errors.Is(result.Err, context.Canceled) {
		level = slog.LevelInfo
	}
	slog.Log(ctx, level, "chat stream ended early", append(attrs, "error", result.Err)...)

	detail := string(result.Outcome)
	if result.Err != nil {
		detail = fmt.Sprintf("%s: %v", result.Outcome, result.Err)
	}
	rp.Record(r, audit.Event{Kind: audit.KindStreamFailure, Status: http.StatusOK, Detail: detail})
}
