package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/relay/pkg/proxy"
	"mercator-hq/relay/pkg/replay"
	"mercator-hq/relay/pkg/signing"
)

// HopAuthConfig configures hop authentication.
type HopAuthConfig struct {
	Verifier *signing.Verifier
	Guard    *replay.Guard

	// TTL is how long a consumed nonce is remembered.
	TTL time.Duration

	// FailOpen admits requests when the replay store cannot be consulted.
	FailOpen bool

	// MaxBodyBytes bounds the signed body.
	MaxBodyBytes int64

	Reporter *Reporter
}

// HopAuthMiddleware authenticates a signed hop before anything else runs:
// the body digest and signature are verified over the exact bytes received,
// then the nonce is consumed in the replay guard. Verification happens first
// so that unauthenticated requests cannot fill the nonce store. The body is
// restored for the next handler.
//
// Example usage:
//
//	handler = HopAuthMiddleware(HopAuthConfig{Verifier: v, Guard: g, TTL: 6 * time.Minute})(handler)
func HopAuthMiddleware(cfg HopAuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			body, err := proxy.ReadBody(r, cfg.MaxBodyBytes)
			if err != nil {
				cfg.Reporter.Reject(w, r, err)
				return
			}

			env := signing.FromRequest(r)
			if err := cfg.Verifier.Verify(env, body); err != nil {
				if vErr, ok := err.(*signing.VerifyError); ok && cfg.Reporter != nil {
					cfg.Reporter.Metrics.RecordVerifyFailure(string(vErr.Reason))
				}
				cfg.Reporter.Reject(w, r, err)
				return
			}

			result := cfg.Guard.CheckAndConsume(ctx, env.Nonce, cfg.TTL)
			if cfg.Reporter != nil {
				cfg.Reporter.Metrics.RecordReplayCheck(string(result.Outcome))
			}

			switch result.Outcome {
			case replay.Rejected:
				cfg.Reporter.Reject(w, r, proxy.NewAuthError(result.Reason))
				return
			case replay.Skipped:
				if !cfg.FailOpen {
					cfg.Reporter.Reject(w, r, proxy.NewReplayUnavailableError(result.Err))
					return
				}
				slog.WarnContext(ctx, "replay store unavailable, admitting hop",
					"error", result.Err,
				)
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}
}
