package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is a maintenance job. It returns the number of items it removed.
type JobFunc func(ctx context.Context) (int64, error)

// Scheduler runs named jobs on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewScheduler creates an idle scheduler.
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
		logger:  slog.Default().With("component", "retention.scheduler"),
	}
}

// AddJob registers fn under name with a standard cron expression or a
// descriptor such as "@every 5m". An empty schedule skips the job.
func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	if schedule == "" {
		s.logger.Info("job schedule not configured, skipping", "job", name)
		return nil
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q for job %s: %w", schedule, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	id, err := s.cron.AddFunc(schedule, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	s.entries[name] = id

	s.logger.Info("job scheduled", "job", name, "schedule", schedule)
	return nil
}

// RunNow executes the named job synchronously.
func (s *Scheduler) RunNow(name string, fn JobFunc) {
	s.run(name, fn)
}

func (s *Scheduler) run(name string, fn JobFunc) {
	start := time.Now()
	removed, err := fn(s.ctx)
	if err != nil {
		s.logger.Error("scheduled job failed",
			"job", name,
			"error", err,
		)
		return
	}

	s.logger.Debug("scheduled job completed",
		"job", name,
		"removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Start begins running jobs. The scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.ctx.Done():
		}
	}()
}

// Stop stops the scheduler and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("retention scheduler stopped")
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next run time of the named job.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}
