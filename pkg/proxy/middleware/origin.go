package middleware

import (
	"net/http"
	"net/url"

	"mercator-hq/relay/pkg/proxy"
)

// OriginMiddleware rejects requests whose browser origin is not in allowed.
// With an empty list every request passes. With a list, the Origin header
// (or the origin of Referer when Origin is absent) must match an entry.
//
// Example usage:
//
//	handler = OriginMiddleware([]string{"https://chat.example.com"}, reporter)(handler)
func OriginMiddleware(allowed []string, reporter *Reporter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowed) == 0 || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			origin := RequestOrigin(r)
			if origin == "" || !isOriginAllowed(origin, allowed) {
				reporter.Reject(w, r, proxy.NewOriginError(origin))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestOrigin returns the Origin header, falling back to the scheme and
// host of Referer.
func RequestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
		return origin
	}
	if ref := r.Header.Get("Referer"); ref != "" {
		if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	return ""
}
