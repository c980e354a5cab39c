package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"

	"mercator-hq/relay/pkg/stream"
)

// WriteJSONResponse writes a JSON response with the given status.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}

	return nil
}

// SetSSEHeaders sets the headers for an event stream response.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// FrameWriter writes canonical frames to an HTTP response and flushes after
// each one. Headers are sent with the first frame.
type FrameWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	buf     []byte
	frames  int
}

// NewFrameWriter wraps w.
func NewFrameWriter(w http.ResponseWriter) *FrameWriter {
	fw := &FrameWriter{w: w}
	fw.flusher, _ = w.(http.Flusher)
	return fw
}

// Start sends the stream headers. It is called implicitly by WriteFrame.
func (fw *FrameWriter) Start() {
	if fw.started {
		return
	}
	fw.started = true
	SetSSEHeaders(fw.w)
	fw.w.WriteHeader(http.StatusOK)
	fw.flush()
}

// WriteFrame implements stream.Sink.
func (fw *FrameWriter) WriteFrame(f stream.Frame) error {
	fw.Start()
	fw.buf = stream.AppendFrame(fw.buf[:0], f)
	if _, err := fw.w.Write(fw.buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	fw.frames++
	fw.flush()
	return nil
}

// Frames returns the number of frames written.
func (fw *FrameWriter) Frames() int {
	return fw.frames
}

func (fw *FrameWriter) flush() {
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
}
