package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"mercator-hq/relay/pkg/audit"
	"mercator-hq/relay/pkg/moderation"
	"mercator-hq/relay/pkg/proxy"
	"mercator-hq/relay/pkg/proxy/middleware"
	"mercator-hq/relay/pkg/proxy/types"
)

// Upstream opens the generation stream for an encoded request.
// *hop.Client configured without a signer implements it.
type Upstream interface {
	Stream(ctx context.Context, body []byte) (io.ReadCloser, error)
}

// Config configures the backend service.
type Config struct {
	// Auth configures hop verification and replay suppression.
	Auth middleware.HopAuthConfig

	// Moderator re-checks the conversation. Nil skips the check.
	Moderator moderation.Classifier

	Upstream Upstream

	// Model and MaxTokens are sent upstream. Both are optional.
	Model     string
	MaxTokens int

	Limits proxy.Limits

	// CopyBufferSize is the size of one read from the upstream.
	// Default: 4096
	CopyBufferSize int
}

// Service is the backend chat endpoint.
type Service struct {
	config Config
	logger *slog.Logger
}

// New creates a backend service.
func New(cfg Config) *Service {
	if cfg.CopyBufferSize <= 0 {
		cfg.CopyBufferSize = 4096
	}
	if cfg.Auth.MaxBodyBytes == 0 {
		cfg.Auth.MaxBodyBytes = cfg.Limits.MaxBodyBytes
	}
	return &Service{
		config: cfg,
		logger: slog.Default().With("component", "backend"),
	}
}

// Handler returns the chat endpoint behind hop authentication.
func (s *Service) Handler() http.Handler {
	return middleware.HopAuthMiddleware(s.config.Auth)(http.HandlerFunc(s.serveChat))
}

func (s *Service) serveChat(w http.ResponseWriter, r *http.Request) {
	rp := s.config.Auth.Reporter
	ctx := r.Context()

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

	chatReq, err := proxy.ParseChatRequest(r, s.config.Limits)
	if err != nil {
		rp.Reject(w, r, err)
		return
	}

	if s.config.Moderator != nil {
		start := time.Now()
		verdict, err := s.config.Moderator.Classify(ctx, chatReq.Messages)
		switch {
		case err != nil:
			rp.Collector().RecordModeration("error", time.Since(start))
			rp.Reject(w, r, err)
			return
		case !verdict.Safe:
			rp.Collector().RecordModeration("blocked", time.Since(start))
			rp.Reject(w, r, proxy.NewBlockedError(verdict.Categories))
			return
		}
		rp.Collector().RecordModeration("safe", time.Since(start))
	}

	body, err := json.Marshal(s.upstreamRequest(chatReq))
	if err != nil {
		rp.Reject(w, r, fmt.Errorf("failed to encode upstream request: %w", err))
		return
	}

	src, err := s.config.Upstream.Stream(ctx, body)
	if err != nil {
		rp.Reject(w, r, err)
		return
	}

	start := time.Now()
	n, err := s.copyStream(ctx, w, src)
	if err != nil {
		s.logger.WarnContext(ctx, "upstream stream ended early",
			"bytes", n,
			"error", err,
		)
		rp.Record(r, audit.Event{Kind: audit.KindStreamFailure, Status: http.StatusOK, Detail: err.Error()})
		if ctx.Err() != nil {
			return
		}
		// The 200 is already out. Cut the connection instead of ending the
		// chunked body so the gateway reads a failure, not a clean EOF.
		panic(http.ErrAbortHandler)
	}

	s.logger.InfoContext(ctx, "upstream stream relayed",
		"bytes", n,
		"stream_ms", time.Since(start).Milliseconds(),
	)
	rp.Record(r, audit.Event{Kind: audit.KindCompleted, Status: http.StatusOK})
}

func (s *Service) upstreamRequest(req *types.ChatRequest) *types.UpstreamRequest {
	up := &types.UpstreamRequest{
		Model:    s.config.Model,
		Messages: req.Messages,
		Stream:   true,
	}
	if s.config.MaxTokens > 0 {
		maxTokens := s.config.MaxTokens
		up.MaxTokens = &maxTokens
	}
	return up
}

// copyStream copies src to w unchanged, flushing after every write. src is
// closed on return and as soon as ctx is cancelled.
func (s *Service) copyStream(ctx context.Context, w http.ResponseWriter, src io.ReadCloser) (int64, error) {
	var once sync.Once
	release := func() { once.Do(func() { src.Close() }) }
	defer release()
	stop := context.AfterFunc(ctx, release)
	defer stop()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	buf := make([]byte, s.config.CopyBufferSize)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("failed to write to gateway: %w", err)
			}
			written += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, fmt.Errorf("failed to read upstream: %w", readErr)
		}
	}
}
