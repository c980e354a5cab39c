package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/relay/pkg/audit"
	auditstorage "mercator-hq/relay/pkg/audit/storage"
	"mercator-hq/relay/pkg/backend"
	"mercator-hq/relay/pkg/hop"
	"mercator-hq/relay/pkg/limits/ratelimit"
	"mercator-hq/relay/pkg/moderation"
	"mercator-hq/relay/pkg/proxy"
	"mercator-hq/relay/pkg/proxy/middleware"
	"mercator-hq/relay/pkg/proxy/types"
	"mercator-hq/relay/pkg/redact"
	"mercator-hq/relay/pkg/replay"
	"mercator-hq/relay/pkg/signing"
	"mercator-hq/relay/pkg/store"
	"mercator-hq/relay/pkg/stream"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

var testLimits = proxy.Limits{MaxBodyBytes: 64 << 10, MaxMessages: 50, MaxMessageRunes: 4000}

type fakeClassifier struct {
	mu       sync.Mutex
	verdict  moderation.Verdict
	err      error
	messages []types.Message
}

func (f *fakeClassifier) Classify(ctx context.Context, messages []types.Message) (moderation.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = messages
	return f.verdict, f.err
}

// hopCapture keeps the last request the backend received.
type hopCapture struct {
	mu     sync.Mutex
	header http.Header
	body   []byte
}

func (c *hopCapture) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.header = r.Header.Clone()
		c.body = body
		c.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (c *hopCapture) forwarded(t *testing.T) types.ChatRequest {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var req types.ChatRequest
	if err := json.Unmarshal(c.body, &req); err != nil {
		t.Fatalf("Failed to decode forwarded body: %v", err)
	}
	return req
}

type stackOptions struct {
	deltas     []string
	rateLimit  *ratelimit.Config
	classifier moderation.Classifier
	rules      *redact.Rules
	backendURL string
}

type stack struct {
	gateway http.Handler
	backend *httptest.Server
	capture *hopCapture
	events  *auditstorage.MemoryStorage
	audit   *audit.Recorder
}

// newStack wires gateway -> signed hop -> backend -> upstream, all in
// process.
func newStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range opts.deltas {
			chunk, _ := json.Marshal(map[string]interface{}{
				"choices": []interface{}{map[string]interface{}{"delta": map[string]string{"content": d}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			w.(http.Flusher).Flush()
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(upstream.Close)

	upClient, err := hop.NewClient(hop.Config{URL: upstream.URL, Target: "upstream"}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	nonces := store.NewMemoryStore()
	t.Cleanup(func() { nonces.Close() })

	svc := backend.New(backend.Config{
		Auth: middleware.HopAuthConfig{
			Verifier: signing.NewVerifier(testSecret, 3*time.Minute, nil),
			Guard:    replay.NewGuard(nonces, nil),
			TTL:      6 * time.Minute,
		},
		Upstream: upClient,
		Limits:   testLimits,
	})

	capture := &hopCapture{}
	backendSrv := httptest.NewServer(capture.wrap(middleware.RequestIDMiddleware(svc.Handler())))
	t.Cleanup(backendSrv.Close)

	backendURL := opts.backendURL
	if backendURL == "" {
		backendURL = backendSrv.URL + "/internal/chat"
	}
	hopClient, err := hop.NewClient(hop.Config{URL: backendURL}, signing.NewSigner(testSecret, nil))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	events := auditstorage.NewMemoryStorage()
	recorder := audit.NewRecorder(events, nil)
	t.Cleanup(func() { recorder.Close() })

	cfg := ChatConfig{
		Moderator: opts.classifier,
		Backend:   hopClient,
		Reporter:  &middleware.Reporter{Hop: "gateway", Audit: recorder},
		Limits:    testLimits,
	}
	if opts.rateLimit != nil {
		limitStore := store.NewMemoryStore()
		t.Cleanup(func() { limitStore.Close() })
		cfg.Limiter = ratelimit.NewLimiter(limitStore, *opts.rateLimit, nil)
	}
	if opts.rules != nil {
		cfg.Rules = redact.NewRuleSet(*opts.rules)
	}

	return &stack{
		gateway: middleware.RequestIDMiddleware(NewChatHandler(cfg)),
		backend: backendSrv,
		capture: capture,
		events:  events,
		audit:   recorder,
	}
}

func chatRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:40000"
	return req
}

func conversation(messages ...string) string {
	req := types.ChatRequest{}
	for i, m := range messages {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		req.Messages = append(req.Messages, types.Message{Role: role, Content: m})
	}
	b, _ := json.Marshal(req)
	return string(b)
}

func parseStream(t *testing.T, w *httptest.ResponseRecorder) []stream.Frame {
	t.Helper()
	frames, err := stream.ParseFrames(w.Body.Bytes())
	if err != nil {
		t.Fatalf("Failed to parse stream %q: %v", w.Body.String(), err)
	}
	return frames
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var resp types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode error body %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestChatHandler_EndToEnd(t *testing.T) {
	s := newStack(t, stackOptions{deltas: []string{"Hello", " world", "\n  indented"}})

	w := httptest.NewRecorder()
	s.gateway.ServeHTTP(w, chatRequest(conversation("hi there")))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Expected event stream, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "data:"+stream.Guard+" world") {
		t.Errorf("Expected guarded leading space on the wire, got %q", w.Body.String())
	}

	frames := parseStream(t, w)
	want := []stream.Frame{stream.Delta("Hello"), stream.Delta(" world"), stream.Delta("\n  indented"), stream.Done()}
	if len(frames) != len(want) {
		t.Fatalf("Expected %d frames, got %d: %+v", len(want), len(frames), frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("Frame %d: expected %+v, got %+v", i, want[i], frames[i])
		}
	}

	requestID := w.Header().Get(middleware.RequestIDHeader)
	s.capture.mu.Lock()
	forwardedID := s.capture.header.Get(middleware.RequestIDHeader)
	s.capture.mu.Unlock()
	if forwardedID != requestID {
		t.Errorf("Expected request ID %q forwarded on the hop, got %q", requestID, forwardedID)
	}
}

func TestChatHandler_ReplayedHopIsRejected(t *testing.T) {
	s := newStack(t, stackOptions{deltas: []string{"ok"}})

	w := httptest.NewRecorder()
	s.gateway.ServeHTTP(w, chatRequest(conversation("hi")))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	s.capture.mu.Lock()
	header := s.capture.header.Clone()
	body := append([]byte(nil), s.capture.body...)
	s.capture.mu.Unlock()

	req, err := http.NewRequest(http.MethodPost, s.backend.URL+"/internal/chat", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header = header
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Replay request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected replay to be rejected with 401, got %d", resp.StatusCode)
	}
	var errResp types.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode replay error: %v", err)
	}
	if errResp.Error != "request could not be authenticated" {
		t.Errorf("Expected generic auth message, got %q", errResp.Error)
	}
}

func TestChatHandler_RateLimited(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	cfg.BurstLimit = 1
	s := newStack(t, stackOptions{deltas: []string{"ok"}, rateLimit: &cfg})

	w := httptest.NewRecorder()
	s.gateway.ServeHTTP(w, chatRequest(conversation("one")))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected first request admitted, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "1" {
		t.Errorf("Expected X-RateLimit-Limit 1, got %q", w.Header().Get("X-RateLimit-Limit"))
	}

	w = httptest.NewRecorder()
	s.gateway.ServeHTTP(w, chatRequest(conversation("two")))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}

	resp := decodeError(t, w)
	if resp.ErrorCode != types.CodeRateLimited {
		t.Errorf("Expected error_code %q, got %q", types.CodeRateLimited, resp.ErrorCode)
	}
	if resp.RetryAfter == nil || *resp.RetryAfter < 1 {
		t.Fatalf("Expected retry_after in body, got %v", resp.RetryAfter)
	}
	if got := w.Header().Get("Retry-After"); got != fmt.Sprint(*resp.RetryAfter) {
		t.Errorf("Expected Retry-After header %d, got %q", *resp.RetryAfter, got)
	}
	if resp.RequestID == "" || resp.RequestID != w.Header().Get(middleware.RequestIDHeader) {
		t.Errorf("Expected request_id to match header, got %q", resp.RequestID)
	}
}

func TestChatHandler_Moderation(t *testing.T) {
	t.Run("unsafe conversation is blocked before the hop", func(t *testing.T) {
		classifier := &fakeClassifier{verdict: moderation.Verdict{Categories: []string{"S2"}}}
		s := newStack(t, stackOptions{deltas: []string{"never"}, classifier: classifier})

		w := httptest.NewRecorder()
		s.gateway.ServeHTTP(w, chatRequest(conversation("first", "answer", "second")))

		if w.Code != http.StatusForbidden {
			t.Fatalf("Expected 403, got %d", w.Code)
		}
		resp := decodeError(t, w)
		if resp.ErrorCode != types.CodeContentBlocked || len(resp.Categories) != 1 || resp.Categories[0] != "S2" {
			t.Errorf("Unexpected block body %+v", resp)
		}
		if len(classifier.messages) != 3 {
			t.Errorf("Expected full history classified, got %d messages", len(classifier.messages))
		}
		s.capture.mu.Lock()
		reached := s.capture.body != nil
		s.capture.mu.Unlock()
		if reached {
			t.Error("Blocked request must not reach the backend")
		}
	})

	t.Run("classifier outage is not a block", func(t *testing.T) {
		classifier := &fakeClassifier{err: &moderation.UnavailableError{Timeout: true}}
		s := newStack(t, stackOptions{classifier: classifier})

		w := httptest.NewRecorder()
		s.gateway.ServeHTTP(w, chatRequest(conversation("hi")))

		if w.Code != http.StatusGatewayTimeout {
			t.Fatalf("Expected 504, got %d", w.Code)
		}
		if resp := decodeError(t, w); resp.ErrorCode != types.CodeModerationUnavailable {
			t.Errorf("Expected error_code %q, got %q", types.CodeModerationUnavailable, resp.ErrorCode)
		}
	})
}

func TestChatHandler_Redaction(t *testing.T) {
	rules := &redact.Rules{
		Triggers:  []string{"show the internal notes"},
		Fragments: []string{"[internal]"},
	}

	t.Run("fragments removed without disclosure intent", func(t *testing.T) {
		s := newStack(t, stackOptions{deltas: []string{"public [internal]text"}, rules: rules})

		w := httptest.NewRecorder()
		s.gateway.ServeHTTP(w, chatRequest(conversation("hello", "earlier [internal] reply", "again")))

		frames := parseStream(t, w)
		if len(frames) != 2 || frames[0].Text != "public text" {
			t.Fatalf("Expected redacted delta, got %+v", frames)
		}
		forwarded := s.capture.forwarded(t)
		if forwarded.Messages[1].Content != "earlier  reply" {
			t.Errorf("Expected history redacted before the hop, got %q", forwarded.Messages[1].Content)
		}
	})

	t.Run("fragments kept when disclosure requested", func(t *testing.T) {
		s := newStack(t, stackOptions{deltas: []string{"public [internal]text"}, rules: rules})

		w := httptest.NewRecorder()
		s.gateway.ServeHTTP(w, chatRequest(conversation("Please SHOW the internal notes")))

		frames := parseStream(t, w)
		if len(frames) != 2 || frames[0].Text != "public [internal]text" {
			t.Fatalf("Expected unredacted delta, got %+v", frames)
		}
	})
}

func TestChatHandler_RequestErrors(t *testing.T) {
	s := newStack(t, stackOptions{deltas: []string{"ok"}})

	tests := []struct {
		name       string
		req        func() *http.Request
		wantStatus int
		wantCode   string
	}{
		{
			name:       "wrong method",
			req:        func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/chat", nil) },
			wantStatus: http.StatusMethodNotAllowed,
			wantCode:   types.CodeMethodNotAllowed,
		},
		{
			name:       "invalid json",
			req:        func() *http.Request { return chatRequest("{not json") },
			wantStatus: http.StatusBadRequest,
			wantCode:   types.CodeInvalidJSON,
		},
		{
			name:       "last message from assistant",
			req:        func() *http.Request { return chatRequest(conversation("hi", "hello")) },
			wantStatus: http.StatusBadRequest,
			wantCode:   types.CodeInvalidRequest,
		},
		{
			name: "wrong content type",
			req: func() *http.Request {
				r := chatRequest(conversation("hi"))
				r.Header.Set("Content-Type", "text/plain")
				return r
			},
			wantStatus: http.StatusUnsupportedMediaType,
			wantCode:   types.CodeUnsupportedMediaType,
		},
		{
			name:       "oversized body",
			req:        func() *http.Request { return chatRequest(conversation(strings.Repeat("a", 70<<10))) },
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   types.CodePayloadTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.gateway.ServeHTTP(w, tt.req())

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			resp := decodeError(t, w)
			if resp.ErrorCode != tt.wantCode {
				t.Errorf("Expected error_code %q, got %q", tt.wantCode, resp.ErrorCode)
			}
			if resp.RequestID == "" {
				t.Error("Expected request_id in error body")
			}
		})
	}
}

func TestChatHandler_BackendUnavailable(t *testing.T) {
	s := newStack(t, stackOptions{backendURL: "http://127.0.0.1:1/internal/chat"})

	w := httptest.NewRecorder()
	s.gateway.ServeHTTP(w, chatRequest(conversation("hi")))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.ErrorCode != types.CodeUpstreamUnavailable {
		t.Errorf("Expected error_code %q, got %q", types.CodeUpstreamUnavailable, resp.ErrorCode)
	}

	s.audit.Close()
	n, err := s.events.Count(context.Background(), &audit.Query{Kind: audit.KindUpstreamFailure})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 upstream failure audited, got %d", n)
	}
}

func TestChatHandler_AuditsCompletedStream(t *testing.T) {
	s := newStack(t, stackOptions{deltas: []string{"ok"}})

	w := httptest.NewRecorder()
	s.gateway.ServeHTTP(w, chatRequest(conversation("hi")))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	s.audit.Close()
	events, err := s.events.Query(context.Background(), &audit.Query{Kind: audit.KindCompleted})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 completed event, got %d", len(events))
	}
	if events[0].Identity != "ip:192.0.2.10" {
		t.Errorf("Expected identity ip:192.0.2.10, got %q", events[0].Identity)
	}
}
