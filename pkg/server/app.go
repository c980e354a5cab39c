package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"mercator-hq/relay/pkg/audit/retention"
	"mercator-hq/relay/pkg/redact"
	"mercator-hq/relay/pkg/telemetry/metrics"
)

// App is a fully wired service: its listener plus the background workers
// that live as long as it does.
type App struct {
	Name      string
	Server    *Server
	Collector *metrics.Collector

	scheduler *retention.Scheduler
	watcher   *redact.Watcher
	closer    closer
}

// Run starts the background workers and serves until ctx is cancelled.
// Resources are released before Run returns.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.watcher.Watch(ctx); err != nil {
				slog.Error("rules watcher stopped", "error", err)
			}
		}()
	}
	a.scheduler.Start(ctx)

	err := a.Server.Start(ctx)

	cancel()
	wg.Wait()
	if cerr := a.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close stops background workers and releases stores. It is safe to call
// more than once.
func (a *App) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	return a.closer.close()
}

// Handler returns the root handler.
func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}
