// Package server wires configuration into the two runnable services.
//
// NewGateway builds the public edge: the chat endpoint behind CORS and
// origin checks, backed by the rate limiter, moderation gate, redaction
// rules and the signed hop client. NewBackend builds the private side:
// the hop-authenticated chat endpoint and the generation upstream client.
// Both expose /health, /ready and the Prometheus endpoint, and share the
// outer middleware chain:
//
//	RequestID -> Recovery -> Logging -> Metrics -> routes
//
// An App owns everything it opened. Run serves until the context is
// cancelled, then stops the listener, the rules watcher and the
// maintenance scheduler, drains the audit recorder and closes the stores.
//
//	app, err := server.NewGateway(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	return app.Run(ctx)
package server
