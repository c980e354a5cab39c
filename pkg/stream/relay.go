package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// DefaultReadSize is the size of a single read from the backend.
const DefaultReadSize = 4096

// Sink receives canonical frames.
type Sink interface {
	WriteFrame(f Frame) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f Frame) error

// WriteFrame calls fn(f).
func (fn SinkFunc) WriteFrame(f Frame) error { return fn(f) }

// Transform rewrites the text of a delta before it is written. Deltas that
// become empty are dropped.
type Transform func(text string) string

// Options configures Relay.
type Options struct {
	// Transform is applied to every delta. Optional.
	Transform Transform

	// ReadSize is the read buffer size. Default DefaultReadSize.
	ReadSize int

	// MaxBuffer bounds one incomplete unit. Default DefaultMaxBuffer.
	MaxBuffer int
}

// Outcome describes how a relay ended.
type Outcome string

const (
	// OutcomeCompleted means the stream ended with a done frame.
	OutcomeCompleted Outcome = "completed"

	// OutcomeUpstreamError means the backend sent an error event.
	OutcomeUpstreamError Outcome = "upstream-error"

	// OutcomeFailed means a read or parse failure ended the stream with an
	// error frame.
	OutcomeFailed Outcome = "failed"

	// OutcomeCanceled means the context was cancelled; no terminal frame
	// was written.
	OutcomeCanceled Outcome = "canceled"

	// OutcomeSinkFailed means writing to the client failed; no terminal
	// frame was written.
	OutcomeSinkFailed Outcome = "sink-failed"
)

// Result summarizes a relay.
type Result struct {
	Outcome  Outcome
	Mode     Mode
	Deltas   int
	Bytes    int64
	Duration time.Duration

	// Err is the read, parse or write error that ended the stream (if any).
	Err error
}

// Message sent to the client when the backend stream breaks. Details stay
// in Result.Err.
const streamFailureMessage = "stream interrupted"

// Relay copies src into sink as canonical frames. src is closed exactly once
// before Relay returns, and as soon as ctx is cancelled so that a blocked
// read returns.
func Relay(ctx context.Context, src io.ReadCloser, sink Sink, opts Options) Result {
	start := time.Now()

	var once sync.Once
	release := func() { once.Do(func() { src.Close() }) }
	defer release()
	stop := context.AfterFunc(ctx, release)
	defer stop()

	readSize := opts.ReadSize
	if readSize <= 0 {
		readSize = DefaultReadSize
	}

	r := &relay{
		sink:      sink,
		transform: opts.Transform,
		bridge:    NewBridge(opts.MaxBuffer),
	}
	r.run(ctx, src, make([]byte, readSize))

	r.result.Mode = r.bridge.Mode()
	r.result.Duration = time.Since(start)
	return r.result
}

type relay struct {
	sink      Sink
	transform Transform
	bridge    *Bridge
	result    Result
}

func (r *relay) run(ctx context.Context, src io.Reader, buf []byte) {
	for {
		if ctx.Err() != nil {
			r.end(OutcomeCanceled, ctx.Err())
			return
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			r.result.Bytes += int64(n)
			frames, err := r.bridge.Feed(buf[:n])
			if r.emit(frames) {
				return
			}
			if err != nil {
				r.fail(err)
				return
			}
		}

		if readErr == nil {
			continue
		}
		if ctx.Err() != nil {
			r.end(OutcomeCanceled, ctx.Err())
			return
		}
		if !errors.Is(readErr, io.EOF) {
			r.fail(readErr)
			return
		}

		frames, err := r.bridge.Close()
		if r.emit(frames) {
			return
		}
		if err != nil {
			r.fail(err)
		}
		return
	}
}

// emit writes frames and reports whether the relay is over.
func (r *relay) emit(frames []Frame) bool {
	for _, f := range frames {
		if f.Kind == KindDelta && r.transform != nil {
			f.Text = r.transform(f.Text)
			if f.Text == "" {
				continue
			}
		}

		if err := r.sink.WriteFrame(f); err != nil {
			r.end(OutcomeSinkFailed, err)
			return true
		}

		switch f.Kind {
		case KindDelta:
			r.result.Deltas++
		case KindDone:
			r.end(OutcomeCompleted, nil)
			return true
		case KindError:
			r.end(OutcomeUpstreamError, errors.New(f.Text))
			return true
		}
	}
	return false
}

// fail writes the terminal error frame for a local failure.
func (r *relay) fail(err error) {
	if werr := r.sink.WriteFrame(Error(streamFailureMessage)); werr != nil {
		r.end(OutcomeSinkFailed, werr)
		return
	}
	r.end(OutcomeFailed, err)
}

func (r *relay) end(outcome Outcome, err error) {
	r.result.Outcome = outcome
	r.result.Err = err
}
