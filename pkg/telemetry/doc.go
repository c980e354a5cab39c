// Package telemetry groups the observability packages shared by the gateway
// and backend.
//
// # Components
//
//   - logging: slog setup, request-scoped attributes and secret redaction
//   - metrics: Prometheus collectors for requests, guards and streams
//   - tracing: OpenTelemetry spans and W3C trace propagation over the hop
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json", RedactSecrets: true})
//	if err != nil {
//		return err
//	}
//	slog.SetDefault(logger)
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, "relay-gateway", version)
//	if err != nil {
//		return err
//	}
//	defer tracer.Shutdown(context.Background())
//
// Request-scoped values (request ID, identity, hop) are stored in the
// context by the middleware and added to every log record by the logging
// handler.
package telemetry
