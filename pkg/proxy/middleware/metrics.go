package middleware

import (
	"net/http"
	"time"

	"mercator-hq/relay/pkg/telemetry/metrics"
)

// MetricsMiddleware records request count and duration per hop. The outcome
// is "success" for 2xx/3xx, "rejected" for 4xx and "error" for 5xx.
func MetricsMiddleware(collector *metrics.Collector, hop string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			collector.RecordRequest(hop, Outcome(rw.statusCode), time.Since(start))
		})
	}
}

// Outcome maps an HTTP status to a request outcome label.
func Outcome(status int) string {
	switch {
	case status >= 500:
		return "error"
	case status >= 400:
		return "rejected"
	default:
		return "success"
	}
}
