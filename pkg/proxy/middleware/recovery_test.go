package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mercator-hq/relay/pkg/proxy/types"
)

func TestRecoveryMiddleware(t *testing.T) {
	t.Run("recovers from panic with uniform body", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		})

		wrapped := RequestIDMiddleware(RecoveryMiddleware(handler))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, "req-panic")
		w := httptest.NewRecorder()

		wrapped.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("Status code = %v, want %v", w.Code, http.StatusInternalServerError)
		}

		var body types.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if body.ErrorCode != types.CodeInternalError || body.RequestID != "req-panic" {
			t.Errorf("Unexpected body %+v", body)
		}
		if body.Error == "test panic" {
			t.Error("Panic value must not leak to the caller")
		}
	})

	t.Run("passes through normal requests", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})

		wrapped := RecoveryMiddleware(handler)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		wrapped.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Status code = %v, want %v", w.Code, http.StatusOK)
		}
		if w.Body.String() != "OK" {
			t.Errorf("Body = %v, want OK", w.Body.String())
		}
	})

	t.Run("leaves started stream alone", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("data:partial\n\n"))
			panic("mid-stream")
		})

		wrapped := RecoveryMiddleware(handler)
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Status code = %v, want %v", w.Code, http.StatusOK)
		}
		if w.Body.String() != "data:partial\n\n" {
			t.Errorf("Expected no error body appended, got %q", w.Body.String())
		}
	})

	t.Run("re-panics abort handler", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		})

		wrapped := RecoveryMiddleware(handler)

		defer func() {
			if rec := recover(); rec != http.ErrAbortHandler {
				t.Errorf("Expected ErrAbortHandler to propagate, got %v", rec)
			}
		}()
		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
	})
}

func TestLoggingMiddleware_PreservesFlusher(t *testing.T) {
	var isFlusher bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, isFlusher = w.(http.Flusher)
		w.(http.Flusher).Flush()
		if GetStartTime(r.Context()).IsZero() {
			t.Error("Expected start time in context")
		}
	})

	w := httptest.NewRecorder()
	LoggingMiddleware(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if !isFlusher {
		t.Error("Expected wrapped writer to implement http.Flusher")
	}
	if !w.Flushed {
		t.Error("Expected flush to reach the underlying writer")
	}
}
