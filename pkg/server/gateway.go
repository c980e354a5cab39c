package server

import (
	"context"
	"fmt"
	"net/http"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/hop"
	"mercator-hq/relay/pkg/limits/ratelimit"
	"mercator-hq/relay/pkg/proxy"
	"mercator-hq/relay/pkg/proxy/handlers"
	"mercator-hq/relay/pkg/proxy/middleware"
	"mercator-hq/relay/pkg/redact"
	"mercator-hq/relay/pkg/signing"
)

// NewGateway wires the public gateway from cfg.
func NewGateway(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	if err := config.ValidateGateway(cfg); err != nil {
		return nil, err
	}

	app := &App{Name: "gateway"}
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
	reporter := &middleware.Reporter{Hop: "gateway", Metrics: app.Collector, Audit: recorder}

	chatCfg := handlers.ChatConfig{
		Reporter: reporter,
		Limits: proxy.Limits{
			MaxBodyBytes:    cfg.Gateway.MaxBodyBytes,
			MaxMessages:     cfg.Gateway.MaxMessages,
			MaxMessageRunes: cfg.Gateway.MaxMessageRunes,
		},
		Identity: middleware.IdentityConfig{
			Header:         cfg.Gateway.ClientIDHeader,
			TrustForwarded: cfg.Gateway.TrustForwarded,
		},
	}

	checks := map[string]handlers.Check{}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	app.closer.add(st.Close)
	checks["store"] = handlers.StoreCheck(st)

	if cfg.RateLimit.Enabled {
		chatCfg.Limiter = ratelimit.NewLimiter(st, ratelimit.Config{
			BurstLimit:       cfg.RateLimit.BurstLimit,
			BurstWindow:      cfg.RateLimit.BurstWindow,
			SustainedLimit:   cfg.RateLimit.SustainedLimit,
			SustainedBuckets: cfg.RateLimit.SustainedBuckets,
			BucketSize:       cfg.RateLimit.BucketSize,
		}, nil)
	}

	if cfg.Moderation.Enabled {
		chatCfg.Moderator = newModerator(cfg.Moderation)
	}

	rules, err := loadRules(cfg.Redaction)
	if err != nil {
		return nil, err
	}
	chatCfg.Rules = rules
	if cfg.Redaction.RulesFile != "" && cfg.Redaction.Watch {
		w, err := redact.NewWatcher(rules, cfg.Redaction.Debounce)
		if err != nil {
			return nil, err
		}
		app.watcher = w
		app.closer.add(w.Stop)
	}

	client, err := hop.NewClient(hop.Config{
		URL:     cfg.Gateway.BackendURL,
		Target:  "backend",
		Timeout: cfg.Gateway.BackendTimeout,
	}, signing.NewSigner([]byte(cfg.Hop.Secret), nil))
	if err != nil {
		return nil, err
	}
	app.closer.add(func() error { client.Close(); return nil })
	chatCfg.Backend = client
	checks["backend"] = handlers.PeerCheck(client)

	app.scheduler, err = newScheduler(cfg, storage, st)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	var chat http.Handler = handlers.NewChatHandler(chatCfg)
	chat = middleware.OriginMiddleware(cfg.Gateway.AllowedOrigins, reporter)(chat)
	chat = middleware.CORSMiddleware(corsConfig(cfg.Gateway))(chat)
	mux.Handle(cfg.Gateway.ChatPath, chat)
	withCommonRoutes(mux, cfg.Telemetry.Metrics, app.Collector, checks)

	app.Server = NewServer("gateway", cfg.Gateway.Server, wrapCommon(mux, app.Collector, "gateway"))
	return app, nil
}

func loadRules(cfg config.RedactionConfig) (*redact.RuleSet, error) {
	if cfg.RulesFile != "" {
		rules, err := redact.NewRuleSetFromFile(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load redaction rules: %w", err)
		}
		return rules, nil
	}
	if len(cfg.Fragments) == 0 {
		return nil, nil
	}
	return redact.NewRuleSet(redact.Rules{Triggers: cfg.Triggers, Fragments: cfg.Fragments}), nil
}

func corsConfig(cfg config.GatewayConfig) *middleware.CORSConfig {
	cors := middleware.DefaultCORSConfig()
	cors.Enabled = cfg.CORS.Enabled
	cors.AllowedOrigins = cfg.AllowedOrigins
	if len(cfg.CORS.AllowedMethods) > 0 {
		cors.AllowedMethods = cfg.CORS.AllowedMethods
	}
	if len(cfg.CORS.AllowedHeaders) > 0 {
		cors.AllowedHeaders = cfg.CORS.AllowedHeaders
	}
	if cfg.CORS.MaxAge > 0 {
		cors.MaxAge = cfg.CORS.MaxAge
	}
	return cors
}
