/*
Package tracing provides OpenTelemetry tracing for the gateway and backend.

A request that enters the gateway starts a server span. The hop client
injects W3C trace context into the signed backend request, and the backend
extracts it, so one trace covers the client call, the hop and the upstream
stream. Trace headers are not part of the hop signature.

Setup:

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, "relay-gateway", version)
	if err != nil {
		return err
	}
	defer tracer.Shutdown(context.Background())

When tracing is disabled New installs a noop provider, but still installs
the W3C propagator so incoming trace context is forwarded on the hop.

Spans:

	ctx, span := tracing.Start(ctx, "moderation.classify")
	defer span.End()
	...
	tracing.SetStatus(span, err)

Sampling is parent based: the backend follows the gateway's decision, and
root spans use the configured "always", "never" or "ratio" sampler.
*/
package tracing
