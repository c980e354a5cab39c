package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"mercator-hq/relay/pkg/limits/ratelimit"
)

// maxIdentityLength bounds a header-provided identity.
const maxIdentityLength = 128

// IdentityConfig selects how the rate-limit identity is derived.
type IdentityConfig struct {
	// Header, when set, names a header whose value is the identity.
	Header string

	// TrustForwarded uses the first X-Forwarded-For hop (then X-Real-IP)
	// as the client IP.
	TrustForwarded bool
}

// ClientIdentity returns the rate-limit key for r: the configured identity
// header if present, otherwise the client IP.
func ClientIdentity(r *http.Request, cfg IdentityConfig) string {
	if cfg.Header != "" {
		if id := strings.TrimSpace(r.Header.Get(cfg.Header)); id != "" && len(id) <= maxIdentityLength {
			return "id:" + id
		}
	}
	return "ip:" + ClientIP(r, cfg.TrustForwarded)
}

// ClientIP extracts the client IP from the connection, or from forwarding
// headers when trusted.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// SetRateLimitHeaders sets X-RateLimit-* headers from a decision, and
// Retry-After on a rejection.
func SetRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
	}
}
