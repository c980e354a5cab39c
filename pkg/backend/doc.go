// Package backend implements the private side of the hop.
//
// The backend accepts only hop-authenticated requests: HopAuthMiddleware
// verifies the signature over the exact body bytes and consumes the nonce
// before the handler runs. The handler optionally re-runs moderation,
// forwards the conversation to the generation upstream as an
// OpenAI-compatible streaming request and copies the upstream stream back
// unchanged, flushing after every read. Normalizing the stream is the
// gateway's job.
//
//	svc := backend.New(backend.Config{
//	    Auth:     middleware.HopAuthConfig{Verifier: v, Guard: g, TTL: ttl},
//	    Upstream: upstreamClient,
//	    Model:    "gpt-4o-mini",
//	})
//	mux.Handle("/internal/chat", svc.Handler())
package backend
