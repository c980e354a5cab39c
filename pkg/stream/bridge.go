package stream

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxBuffer bounds the bytes held for one incomplete unit.
const DefaultMaxBuffer = 1 << 20

// ErrBufferOverflow is returned when an incomplete unit exceeds the buffer
// limit.
var ErrBufferOverflow = errors.New("stream unit exceeds buffer limit")

// Mode is the detected framing of the backend stream.
type Mode int

const (
	ModeDetecting Mode = iota
	ModeDelimited
	ModeRecords
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeDelimited:
		return "delimited"
	case ModeRecords:
		return "records"
	default:
		return "detecting"
	}
}

// ParseError reports malformed backend output.
type ParseError struct {
	Mode    Mode
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("stream parse error (%s): %s", e.Mode, e.Message)
}

// sseFields are the field prefixes that identify delimited framing.
var sseFields = [][]byte{
	[]byte("data:"),
	[]byte("event:"),
	[]byte("id:"),
	[]byte("retry:"),
	[]byte(":"),
}

// Bridge converts backend bytes into frames. It is not safe for concurrent
// use; one Bridge serves one stream.
type Bridge struct {
	buf       []byte
	mode      Mode
	done      bool
	maxBuffer int

	// framed is set once a data, event, id or retry field is seen. Until
	// then, blocks made only of ':'-led lines wait in pending: they are
	// dropped as comments if framing follows and emitted as text otherwise.
	framed       bool
	pending      [][]byte
	pendingBytes int

	// record scanner state, offsets relative to buf
	scan     int
	start    int
	depth    int
	inString bool
	escaped  bool
}

// NewBridge creates a bridge. maxBuffer <= 0 uses DefaultMaxBuffer.
func NewBridge(maxBuffer int) *Bridge {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Bridge{maxBuffer: maxBuffer}
}

// Mode returns the detected framing.
func (b *Bridge) Mode() Mode { return b.mode }

// Done reports whether the bridge reached a terminal state.
func (b *Bridge) Done() bool { return b.done }

// Feed consumes the next chunk and returns the frames it completes. A
// terminal frame is always the last one returned. After a terminal frame or
// an error the bridge ignores further input.
func (b *Bridge) Feed(p []byte) ([]Frame, error) {
	if b.done {
		return nil, nil
	}
	b.buf = append(b.buf, p...)

	if b.mode == ModeDetecting {
		mode, skip, ok := detect(b.buf)
		if !ok {
			return nil, b.checkOverflow()
		}
		b.mode = mode
		b.buf = b.buf[skip:]
	}

	var frames []Frame
	var err error
	switch b.mode {
	case ModeDelimited:
		frames, err = b.drainBlocks(frames, false)
	case ModeRecords:
		frames, err = b.drainRecords(frames)
	}
	if err != nil {
		return frames, b.fail(err)
	}
	if b.done {
		return frames, nil
	}
	return frames, b.checkOverflow()
}

// Close signals the end of input. It flushes what is left in the buffer and
// returns the final frames, ending with Done unless the stream already
// terminated.
func (b *Bridge) Close() ([]Frame, error) {
	if b.done {
		return nil, nil
	}

	var frames []Frame
	switch b.mode {
	case ModeDetecting:
		rest := bytes.TrimLeft(b.buf, " \t\r\n")
		if len(rest) > 0 {
			if !utf8.Valid(b.buf) {
				return nil, b.fail(&ParseError{Mode: b.mode, Message: "invalid UTF-8 in raw stream"})
			}
			frames = append(frames, Delta(string(b.buf)))
		}
	case ModeDelimited:
		var err error
		frames, err = b.drainBlocks(frames, true)
		if err != nil {
			return frames, b.fail(err)
		}
		if b.done {
			return frames, nil
		}
	case ModeRecords:
		if b.depth > 0 {
			return nil, b.fail(&ParseError{Mode: b.mode, Message: "truncated record at end of stream"})
		}
	}

	b.done = true
	b.buf = nil
	return append(frames, Done()), nil
}

func (b *Bridge) fail(err error) error {
	b.done = true
	b.buf = nil
	return err
}

func (b *Bridge) checkOverflow() error {
	if len(b.buf)+b.pendingBytes > b.maxBuffer {
		return b.fail(ErrBufferOverflow)
	}
	return nil
}

// detect classifies the buffered prefix. ok is false while the prefix is
// still ambiguous. skip is the number of leading bytes that carry nothing.
func detect(buf []byte) (mode Mode, skip int, ok bool) {
	rest := bytes.TrimLeft(buf, " \t\r\n")
	if len(rest) == 0 {
		return ModeDetecting, 0, false
	}
	skip = len(buf) - len(rest)

	if rest[0] == '{' || rest[0] == '[' {
		return ModeRecords, skip, true
	}

	partial := false
	for _, field := range sseFields {
		if bytes.HasPrefix(rest, field) {
			return ModeDelimited, skip, true
		}
		if len(rest) < len(field) && bytes.HasPrefix(field, rest) {
			partial = true
		}
	}
	if partial {
		return ModeDetecting, 0, false
	}

	// Plain text keeps its leading white space.
	if _, end := blockEnd(buf); end > 0 {
		return ModeDelimited, 0, true
	}
	return ModeDetecting, 0, false
}

// blockEnd finds the first blank line. It returns the length of the block
// before it and the offset just past it, or -1, 0 if there is none yet.
func blockEnd(buf []byte) (int, int) {
	lineStart := 0
	for lineStart < len(buf) {
		i := bytes.IndexByte(buf[lineStart:], '\n')
		if i < 0 {
			return -1, 0
		}
		line := buf[lineStart : lineStart+i]
		if len(line) == 0 || (len(line) == 1 && line[0] == '\r') {
			return lineStart, lineStart + i + 1
		}
		lineStart += i + 1
	}
	return -1, 0
}

// drainBlocks extracts every complete block. With final set, a trailing
// block without a blank-line terminator is processed as well.
func (b *Bridge) drainBlocks(frames []Frame, final bool) ([]Frame, error) {
	for {
		n, next := blockEnd(b.buf)
		var block []byte
		if n < 0 {
			if !final || len(bytes.TrimSpace(b.buf)) == 0 {
				if final {
					return b.flushPending(frames)
				}
				return frames, nil
			}
			block, b.buf = b.buf, nil
		} else {
			block = b.buf[:n]
			b.buf = b.buf[next:]
		}

		if !b.framed {
			if hasField(block) {
				b.framed = true
				b.pending, b.pendingBytes = nil, 0
			} else if commentOnly(block) {
				b.pending = append(b.pending, bytes.Clone(block))
				b.pendingBytes += len(block)
				continue
			} else {
				var err error
				if frames, err = b.flushPending(frames); err != nil {
					return frames, err
				}
			}
		}

		parsed, err := parseBlock(block, b.framed)
		if err != nil {
			return frames, err
		}
		for _, f := range parsed {
			frames = append(frames, f)
			if f.Terminal() {
				b.done = true
				b.buf = nil
				return frames, nil
			}
		}
	}
}

// flushPending emits held ':'-led blocks as text.
func (b *Bridge) flushPending(frames []Frame) ([]Frame, error) {
	pending := b.pending
	b.pending, b.pendingBytes = nil, 0
	for _, block := range pending {
		parsed, err := parseBlock(block, false)
		if err != nil {
			return frames, err
		}
		frames = append(frames, parsed...)
	}
	return frames, nil
}

// hasField reports whether block contains an SSE field line.
func hasField(block []byte) bool {
	for len(block) > 0 {
		var line []byte
		line, block, _ = bytes.Cut(block, []byte("\n"))
		field, _, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		switch string(field) {
		case "data", "event", "id", "retry":
			return true
		}
	}
	return false
}

// commentOnly reports whether every non-empty line of block starts with ':'.
func commentOnly(block []byte) bool {
	seen := false
	for len(block) > 0 {
		var line []byte
		line, block, _ = bytes.Cut(block, []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}
		if line[0] != ':' {
			return false
		}
		seen = true
	}
	return seen
}

// parseBlock interprets one event block. ':'-led lines are comments only in
// a framed stream; otherwise they are text.
func parseBlock(block []byte, framed bool) ([]Frame, error) {
	var event string
	var data [][]byte

	for len(block) > 0 {
		var line []byte
		line, block, _ = bytes.Cut(block, []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}
		if line[0] == ':' {
			if !framed {
				data = append(data, line)
			}
			continue
		}

		field, value, hasColon := bytes.Cut(line, []byte(":"))
		if hasColon {
			value = bytes.TrimPrefix(value, []byte(" "))
		}

		switch string(field) {
		case "event":
			event = string(value)
		case "data":
			data = append(data, value)
		case "id", "retry":
		default:
			// Lines that are not SSE fields carry plain text.
			data = append(data, line)
		}
	}

	switch event {
	case "done":
		return []Frame{Done()}, nil
	case "error":
		msg := joinData(data)
		if msg == "" {
			msg = "upstream error"
		}
		return []Frame{Error(msg)}, nil
	}

	if len(data) == 0 {
		return nil, nil
	}
	if len(data) == 1 && string(data[0]) == DoneSentinel {
		return []Frame{Done()}, nil
	}

	joined := bytes.Join(data, []byte("\n"))
	if trimmed := bytes.TrimSpace(joined); len(trimmed) > 0 && trimmed[0] == '{' {
		if frames, err := decodeRecord(trimmed); err == nil {
			return frames, nil
		}
	}

	if !utf8.Valid(joined) {
		return nil, &ParseError{Mode: ModeDelimited, Message: "invalid UTF-8 in event data"}
	}
	if text := joinData(data); text != "" {
		return []Frame{Delta(text)}, nil
	}
	return nil, nil
}

func joinData(data [][]byte) string {
	lines := make([]string, len(data))
	for i, d := range data {
		lines[i] = unguardLine(string(d))
	}
	return strings.Join(lines, "\n")
}

// drainRecords scans balanced JSON records out of the buffer.
func (b *Bridge) drainRecords(frames []Frame) ([]Frame, error) {
	for b.scan < len(b.buf) {
		c := b.buf[b.scan]

		if b.depth == 0 {
			switch c {
			case ' ', '\t', '\r', '\n', ',', '[', ']':
				b.scan++
				continue
			case '{':
				b.start = b.scan
				b.depth = 1
				b.scan++
				continue
			default:
				return frames, &ParseError{Mode: ModeRecords, Message: fmt.Sprintf("unexpected byte %q between records", c)}
			}
		}

		b.scan++
		if b.inString {
			switch {
			case b.escaped:
				b.escaped = false
			case c == '\\':
				b.escaped = true
			case c == '"':
				b.inString = false
			}
			continue
		}

		switch c {
		case '"':
			b.inString = true
		case '{', '[':
			b.depth++
		case '}', ']':
			b.depth--
			if b.depth > 0 {
				continue
			}
			unit := b.buf[b.start:b.scan]
			decoded, err := decodeRecord(unit)
			if err != nil {
				return frames, &ParseError{Mode: ModeRecords, Message: err.Error()}
			}
			for _, f := range decoded {
				frames = append(frames, f)
				if f.Terminal() {
					b.done = true
					b.buf = nil
					return frames, nil
				}
			}
		}
	}

	// Keep only the unfinished record.
	if b.depth == 0 {
		b.buf = b.buf[:0]
		b.scan = 0
	} else if b.start > 0 {
		b.buf = append(b.buf[:0], b.buf[b.start:]...)
		b.scan -= b.start
		b.start = 0
	}
	return frames, nil
}
