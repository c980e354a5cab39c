package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/relay/pkg/audit"
	auditstorage "mercator-hq/relay/pkg/audit/storage"
	"mercator-hq/relay/pkg/proxy/types"
	"mercator-hq/relay/pkg/replay"
	"mercator-hq/relay/pkg/signing"
	"mercator-hq/relay/pkg/store"
)

var hopSecret = []byte("0123456789abcdef0123456789abcdef")

func newSignedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader([]byte(body)))
	if _, err := signing.NewSigner(hopSecret, nil).SignRequest(req, []byte(body)); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}
	return req
}

func cloneRequest(t *testing.T, req *http.Request, body string) *http.Request {
	t.Helper()
	clone := httptest.NewRequest(req.Method, req.URL.Path, bytes.NewReader([]byte(body)))
	clone.Header = req.Header.Clone()
	return clone
}

func newHopAuth(s store.Store, failOpen bool, reporter *Reporter) (http.Handler, *string) {
	received := new(string)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*received = string(b)
		w.WriteHeader(http.StatusOK)
	})
	mw := HopAuthMiddleware(HopAuthConfig{
		Verifier:     signing.NewVerifier(hopSecret, 5*time.Minute, nil),
		Guard:        replay.NewGuard(s, nil),
		TTL:          10 * time.Minute,
		FailOpen:     failOpen,
		MaxBodyBytes: 1 << 20,
		Reporter:     reporter,
	})
	return RequestIDMiddleware(mw(next)), received
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var body types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode error body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHopAuthMiddleware(t *testing.T) {
	const body = `{"messages":[{"role":"user","content":"hi"}]}`

	t.Run("admits a signed request and restores the body", func(t *testing.T) {
		s := store.NewMemoryStore()
		defer s.Close()
		handler, received := newHopAuth(s, false, nil)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newSignedRequest(t, body))

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if *received != body {
			t.Errorf("Expected body %q downstream, got %q", body, *received)
		}
	})

	t.Run("rejects a replayed request", func(t *testing.T) {
		s := store.NewMemoryStore()
		defer s.Close()
		handler, _ := newHopAuth(s, false, nil)

		req := newSignedRequest(t, body)
		replayed := cloneRequest(t, req, body)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected first request admitted, got %d", w.Code)
		}

		w = httptest.NewRecorder()
		handler.ServeHTTP(w, replayed)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("Expected 401 for replay, got %d", w.Code)
		}
		resp := decodeError(t, w)
		if resp.ErrorCode != types.CodeUnauthorized {
			t.Errorf("Expected error_code %q, got %q", types.CodeUnauthorized, resp.ErrorCode)
		}
		if resp.RequestID == "" {
			t.Error("Expected request_id in error body")
		}
	})

	t.Run("rejects a tampered body", func(t *testing.T) {
		s := store.NewMemoryStore()
		defer s.Close()
		handler, _ := newHopAuth(s, false, nil)

		req := newSignedRequest(t, body)
		tampered := cloneRequest(t, req, `{"messages":[{"role":"user","content":"bye"}]}`)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, tampered)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("Expected 401, got %d", w.Code)
		}
		if s.Len() != 0 {
			t.Errorf("Expected unauthenticated nonce not to be stored, got %d entries", s.Len())
		}
	})

	t.Run("rejects a request without headers", func(t *testing.T) {
		s := store.NewMemoryStore()
		defer s.Close()
		handler, _ := newHopAuth(s, false, nil)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader([]byte(body))))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("Expected 401, got %d", w.Code)
		}
	})

	t.Run("fails closed when the store is down", func(t *testing.T) {
		s := store.NewMemoryStore()
		s.Close()
		handler, _ := newHopAuth(s, false, nil)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newSignedRequest(t, body))
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("Expected 503, got %d", w.Code)
		}
		if resp := decodeError(t, w); resp.ErrorCode != types.CodeReplayGuardUnavailable {
			t.Errorf("Expected error_code %q, got %q", types.CodeReplayGuardUnavailable, resp.ErrorCode)
		}
	})

	t.Run("fails open when configured", func(t *testing.T) {
		s := store.NewMemoryStore()
		s.Close()
		handler, _ := newHopAuth(s, true, nil)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newSignedRequest(t, body))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200 with fail-open, got %d", w.Code)
		}
	})

	t.Run("records replay rejections for audit", func(t *testing.T) {
		s := store.NewMemoryStore()
		defer s.Close()
		events := auditstorage.NewMemoryStorage()
		recorder := audit.NewRecorder(events, nil)
		handler, _ := newHopAuth(s, false, &Reporter{Hop: "backend", Audit: recorder})

		req := newSignedRequest(t, body)
		replayed := cloneRequest(t, req, body)
		handler.ServeHTTP(httptest.NewRecorder(), req)
		handler.ServeHTTP(httptest.NewRecorder(), replayed)

		if err := recorder.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		got, err := events.Query(context.Background(), &audit.Query{Kind: audit.KindReplayRejected})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("Expected 1 replay event, got %d", len(got))
		}
		if got[0].Hop != "backend" || got[0].Status != http.StatusUnauthorized {
			t.Errorf("Unexpected event %+v", got[0])
		}
	})
}
