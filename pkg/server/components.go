package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"mercator-hq/relay/pkg/audit"
	"mercator-hq/relay/pkg/audit/retention"
	auditstorage "mercator-hq/relay/pkg/audit/storage"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/moderation"
	"mercator-hq/relay/pkg/proxy/handlers"
	"mercator-hq/relay/pkg/proxy/middleware"
	"mercator-hq/relay/pkg/store"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/telemetry/tracing"
)

const tracerFlushTimeout = 5 * time.Second

// openStore opens the keyed store selected by cfg.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemoryStoreWithConfig(store.MemoryConfig{CleanupInterval: cfg.CleanupInterval}), nil
	case "sqlite":
		return store.NewSQLiteStore(store.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
	case "redis":
		return store.NewRedisStore(ctx, store.RedisConfig{
			URL:         cfg.Redis.URL,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			DialTimeout: cfg.Redis.DialTimeout,
			LockTTL:     cfg.Redis.LockTTL,
			LockWait:    cfg.Redis.LockWait,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// openAudit opens the audit storage and starts its recorder. Both are nil
// when audit is disabled.
func openAudit(cfg config.AuditConfig, collector *metrics.Collector) (audit.Storage, *audit.Recorder, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	var storage audit.Storage
	switch cfg.Backend {
	case "", "memory":
		storage = auditstorage.NewMemoryStorage()
	case "sqlite":
		sqlCfg := auditstorage.DefaultSQLiteConfig()
		sqlCfg.Path = cfg.SQLitePath
		s, err := auditstorage.NewSQLiteStorage(sqlCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit storage: %w", err)
		}
		storage = s
	default:
		return nil, nil, fmt.Errorf("unknown audit backend %q", cfg.Backend)
	}

	recorder := audit.NewRecorder(storage, &audit.Config{
		BufferSize:   cfg.BufferSize,
		WriteTimeout: cfg.WriteTimeout,
		OnDrop:       collector.RecordAuditDropped,
	})
	return storage, recorder, nil
}

// newScheduler registers the maintenance jobs: audit retention pruning and
// expired-key cleanup for stores that do not expire keys themselves.
func newScheduler(cfg *config.Config, storage audit.Storage, st store.Store) (*retention.Scheduler, error) {
	scheduler := retention.NewScheduler()

	if storage != nil && cfg.Audit.RetentionDays > 0 {
		pruner := retention.NewPruner(storage, cfg.Audit.RetentionDays, nil)
		if err := scheduler.AddJob("audit-prune", cfg.Audit.PruneSchedule, pruner.Prune); err != nil {
			return nil, err
		}
	}

	if _, ok := st.(*store.SQLiteStore); ok {
		cleanup := func(ctx context.Context) (int64, error) {
			n, err := st.Cleanup(ctx)
			return int64(n), err
		}
		if err := scheduler.AddJob("store-cleanup", cfg.Store.CleanupSchedule, cleanup); err != nil {
			return nil, err
		}
	}

	return scheduler, nil
}

func newCollector(cfg config.MetricsConfig) *metrics.Collector {
	return metrics.NewCollector(&cfg, nil)
}

func newModerator(cfg config.ModerationConfig) *moderation.Gate {
	return moderation.NewGate(moderation.Config{
		URL:               cfg.URL,
		APIKey:            cfg.APIKey,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxResponseBytes:  cfg.MaxResponseBytes,
	}, nil)
}

// withCommonRoutes registers health, readiness and metrics endpoints.
func withCommonRoutes(mux *http.ServeMux, cfg config.MetricsConfig, collector *metrics.Collector, checks map[string]handlers.Check) {
	mux.Handle("/health", handlers.NewHealthHandler())
	mux.Handle("/ready", handlers.NewReadyHandler(checks))
	if cfg.Enabled {
		path := cfg.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, collector.Handler())
	}
}

// wrapCommon applies the middleware shared by both services. The result,
// outermost first: RequestID, Tracing, Recovery, Logging, Metrics, inner.
// The request ID comes first so a recovered panic still reports it.
func wrapCommon(h http.Handler, collector *metrics.Collector, hop string) http.Handler {
	h = middleware.MetricsMiddleware(collector, hop)(h)
	h = middleware.LoggingMiddleware(h)
	h = middleware.RecoveryMiddleware(h)
	h = middleware.TracingMiddleware(hop)(h)
	return middleware.RequestIDMiddleware(h)
}

// startTracing installs the process tracer and registers its flush.
func startTracing(app *App, cfg config.TracingConfig) error {
	tracer, err := tracing.New(&cfg, "relay-"+app.Name, buildVersion())
	if err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}
	app.closer.add(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), tracerFlushTimeout)
		defer cancel()
		return tracer.Shutdown(ctx)
	})
	return nil
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "devel"
}

// closer collects cleanup functions run in reverse order.
type closer struct {
	fns []func() error
}

func (c *closer) add(fn func() error) {
	c.fns = append(c.fns, fn)
}

func (c *closer) close() error {
	var first error
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil && first == nil {
			first = err
		}
	}
	c.fns = nil
	return first
}
