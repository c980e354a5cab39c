package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/relay/pkg/proxy"
)

// RecoveryMiddleware recovers from panics in HTTP handlers. If nothing has
// been written yet it answers with the uniform internal-error body; the panic
// is logged with its stack but never exposed to the caller.
//
// Example usage:
//
//	handler = RecoveryMiddleware(handler)
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := newResponseWriter(w)

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			slog.ErrorContext(r.Context(), "panic in handler",
				"error", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)

			if rw.written {
				// A stream is already in flight; the client sees it cut.
				return
			}
			proxy.WriteError(rw, GetRequestID(r.Context()), fmt.Errorf("panic: %v", rec))
		}()

		next.ServeHTTP(rw, r)
	})
}
