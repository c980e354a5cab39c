package server

import (
	"context"
	"fmt"
	"net/http"

	"mercator-hq/relay/pkg/backend"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/hop"
	"mercator-hq/relay/pkg/proxy"
	"mercator-hq/relay/pkg/proxy/handlers"
	"mercator-hq/relay/pkg/proxy/middleware"
	"mercator-hq/relay/pkg/replay"
	"mercator-hq/relay/pkg/signing"
)

// NewBackend wires the private backend service from cfg.
func NewBackend(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	if err := config.ValidateBackend(cfg); err != nil {
		return nil, err
	}

	app := &App{Name: "backend"}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	if err := startTracing(app, cfg.Telemetry.Tracing); err != nil {
		return nil, err
	}
	app.Collector = newCollector(cfg.Telemetry.Metrics)

	storage, recorder, err := openAudit(cfg.Audit, app.Collector)
	if err != nil {
		return nil, err
	}
	if recorder != nil {
		app.closer.add(storage.Close)
		app.closer.add(recorder.Close)
	}
	reporter := &middleware.Reporter{Hop: "backend", Metrics: app.Collector, Audit: recorder}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	app.closer.add(st.Close)

	headers := map[string]string{}
	if cfg.Backend.Upstream.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.Backend.Upstream.APIKey
	}
	upstream, err := hop.NewClient(hop.Config{
		URL:     cfg.Backend.Upstream.URL,
		Target:  "upstream",
		Timeout: cfg.Backend.Upstream.Timeout,
		Headers: headers,
	}, nil)
	if err != nil {
		return nil, err
	}
	app.closer.add(func() error { upstream.Close(); return nil })

	limits := proxy.Limits{
		MaxBodyBytes:    cfg.Gateway.MaxBodyBytes,
		MaxMessages:     cfg.Gateway.MaxMessages,
		MaxMessageRunes: cfg.Gateway.MaxMessageRunes,
	}

	svcCfg := backend.Config{
		Auth: middleware.HopAuthConfig{
			Verifier:     signing.NewVerifier([]byte(cfg.Hop.Secret), cfg.Hop.MaxSkew, nil),
			Guard:        replay.NewGuard(st, nil),
			TTL:          cfg.Replay.TTL,
			FailOpen:     cfg.Replay.FailOpen,
			MaxBodyBytes: limits.MaxBodyBytes,
			Reporter:     reporter,
		},
		Upstream:  upstream,
		Model:     cfg.Backend.Upstream.Model,
		MaxTokens: cfg.Backend.Upstream.MaxTokens,
		Limits:    limits,
	}
	if cfg.Backend.Moderate {
		svcCfg.Moderator = newModerator(cfg.Moderation)
	}

	app.scheduler, err = newScheduler(cfg, storage, st)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Backend.ChatPath, backend.New(svcCfg).Handler())
	withCommonRoutes(mux, cfg.Telemetry.Metrics, app.Collector, map[string]handlers.Check{
		"store":    handlers.StoreCheck(st),
		"upstream": handlers.PeerCheck(upstream),
	})

	app.Server = NewServer("backend", cfg.Backend.Server, wrapCommon(mux, app.Collector, "backend"))
	return app, nil
}
