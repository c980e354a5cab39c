package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"mercator-hq/relay/pkg/proxy/types"
)

func TestOriginMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	allowed := []string{"https://chat.example.com"}

	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		referer    string
		wantStatus int
	}{
		{name: "empty list admits all", method: http.MethodPost, origin: "https://evil.com", wantStatus: http.StatusOK},
		{name: "matching origin", allowed: allowed, method: http.MethodPost, origin: "https://chat.example.com", wantStatus: http.StatusOK},
		{name: "matching referer", allowed: allowed, method: http.MethodPost, referer: "https://chat.example.com/page?q=1", wantStatus: http.StatusOK},
		{name: "foreign origin", allowed: allowed, method: http.MethodPost, origin: "https://evil.com", wantStatus: http.StatusForbidden},
		{name: "missing origin", allowed: allowed, method: http.MethodPost, wantStatus: http.StatusForbidden},
		{name: "null origin falls back to referer", allowed: allowed, method: http.MethodPost, origin: "null", referer: "https://chat.example.com/", wantStatus: http.StatusOK},
		{name: "preflight passes", allowed: allowed, method: http.MethodOptions, origin: "https://evil.com", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := OriginMiddleware(tt.allowed, nil)(ok)

			req := httptest.NewRequest(tt.method, "/api/chat", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.referer != "" {
				req.Header.Set("Referer", tt.referer)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantStatus == http.StatusForbidden {
				if resp := decodeError(t, w); resp.ErrorCode != types.CodeOriginNotAllowed {
					t.Errorf("Expected error_code %q, got %q", types.CodeOriginNotAllowed, resp.ErrorCode)
				}
			}
		})
	}
}

func TestRequestOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Referer", "not a url")
	if got := RequestOrigin(req); got != "" {
		t.Errorf("Expected empty origin for unparseable referer, got %q", got)
	}
}
