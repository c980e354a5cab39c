package stream

import (
	"bytes"
	"fmt"
	"strings"
)

// Guard protects leading and trailing whitespace of a data line.
const Guard = "\u2060"

// DoneSentinel is the payload of the terminal done frame.
const DoneSentinel = "[DONE]"

// Kind is the type of a frame.
type Kind string

const (
	KindDelta Kind = "delta"
	KindDone  Kind = "done"
	KindError Kind = "error"
)

// Frame is one canonical unit of the client stream.
type Frame struct {
	Kind Kind
	Text string
}

// Delta returns a delta frame.
func Delta(text string) Frame { return Frame{Kind: KindDelta, Text: text} }

// Done returns the terminal done frame.
func Done() Frame { return Frame{Kind: KindDone} }

// Error returns a terminal error frame.
func Error(message string) Frame { return Frame{Kind: KindError, Text: message} }

// Terminal reports whether no frame may follow f.
func (f Frame) Terminal() bool {
	return f.Kind == KindDone || f.Kind == KindError
}

// Encode returns the wire form of f.
func Encode(f Frame) []byte {
	return AppendFrame(nil, f)
}

// AppendFrame appends the wire form of f to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	switch f.Kind {
	case KindDone:
		dst = append(dst, "event: done\ndata:"...)
		dst = append(dst, DoneSentinel...)
		dst = append(dst, '\n')
	case KindError:
		dst = append(dst, "event: error\n"...)
		dst = appendDataLines(dst, f.Text)
	default:
		dst = appendDataLines(dst, f.Text)
	}
	return append(dst, '\n')
}

func appendDataLines(dst []byte, text string) []byte {
	for {
		line, rest, more := strings.Cut(text, "\n")
		dst = append(dst, "data:"...)
		dst = append(dst, guardLine(line)...)
		dst = append(dst, '\n')
		if !more {
			return dst
		}
		text = rest
	}
}

func guardLine(line string) string {
	if line == DoneSentinel {
		return Guard + line
	}
	if line == "" {
		return line
	}
	if c := line[0]; c == ' ' || c == '\t' || strings.HasPrefix(line, Guard) {
		line = Guard + line
	}
	if c := line[len(line)-1]; c == ' ' || c == '\t' || c == '\r' || strings.HasSuffix(line, Guard) {
		line += Guard
	}
	return line
}

// unguardLine reverses guardLine.
func unguardLine(line string) string {
	line = strings.TrimPrefix(line, Guard)
	return strings.TrimSuffix(line, Guard)
}

// ParseFrames decodes a complete canonical stream. It is the inverse of
// Encode for a sequence of frames.
func ParseFrames(data []byte) ([]Frame, error) {
	var frames []Frame
	for len(data) > 0 {
		block, rest, found := bytes.Cut(data, []byte("\n\n"))
		if !found {
			return frames, fmt.Errorf("unterminated frame: %q", block)
		}
		data = rest

		var event string
		var lines []string
		for _, line := range strings.Split(string(block), "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data:"):
				lines = append(lines, unguardLine(strings.TrimPrefix(line, "data:")))
			default:
				return frames, fmt.Errorf("unexpected line in frame: %q", line)
			}
		}

		text := strings.Join(lines, "\n")
		switch event {
		case "":
			frames = append(frames, Delta(text))
		case "done":
			frames = append(frames, Done())
		case "error":
			frames = append(frames, Error(text))
		default:
			return frames, fmt.Errorf("unknown event %q", event)
		}
	}
	return frames, nil
}
