package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config contains configuration for the audit recorder.
type Config struct {
	// BufferSize is the size of the async event channel.
	// Default: 1000
	BufferSize int

	// WriteTimeout bounds a single storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// OnDrop is called for every dropped event. Optional.
	OnDrop func()
}

// Recorder writes audit events asynchronously. A nil *Recorder discards
// everything, so callers need not check whether auditing is enabled.
type Recorder struct {
	storage Storage
	config  Config
	events  chan *Event
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	written atomic.Int64
}

// NewRecorder creates a recorder and starts its worker.
func NewRecorder(storage Storage, config *Config) *Recorder {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	r := &Recorder{
		storage: storage,
		config:  cfg,
		events:  make(chan *Event, cfg.BufferSize),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "audit.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("audit recorder initialized",
		"buffer_size", cfg.BufferSize,
		"write_timeout", cfg.WriteTimeout,
	)

	return r
}

// Record enqueues ev. It never blocks: when the buffer is full the event is
// dropped, counted and ErrBufferFull returned.
func (r *Recorder) Record(ev Event) error {
	if r == nil {
		return nil
	}

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRecorderClosed
	}

	select {
	case r.events <- &ev:
		return nil
	default:
		r.dropped.Add(1)
		if r.config.OnDrop != nil {
			r.config.OnDrop()
		}
		r.logger.Warn("audit buffer full, dropping event",
			"kind", ev.Kind,
			"request_id", ev.RequestID,
			"buffer_size", r.config.BufferSize,
		)
		return ErrBufferFull
	}
}

// Dropped returns the number of events dropped so far.
func (r *Recorder) Dropped() int64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Written returns the number of events stored so far.
func (r *Recorder) Written() int64 {
	if r == nil {
		return 0
	}
	return r.written.Load()
}

// Close stops accepting events, drains the buffer and waits for the worker.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("audit recorder shut down", "written", r.written.Load(), "dropped", r.dropped.Load())
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case ev := <-r.events:
			r.write(ev)
		case <-r.done:
			for {
				select {
				case ev := <-r.events:
					r.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.storage.Store(ctx, ev); err != nil {
		r.logger.Error("failed to store audit event",
			"event_id", ev.ID,
			"request_id", ev.RequestID,
			"error", err,
		)
		return
	}
	r.written.Add(1)
}
