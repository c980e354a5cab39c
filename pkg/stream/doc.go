// Package stream re-frames a backend reply stream into canonical frames.
//
// # Bridge
//
// Bridge is an explicit state machine advanced by Feed (more bytes arrived)
// and Close (no more bytes). It holds the unconsumed buffer, the detected
// mode and the record scanner state, so it can be driven and tested without
// any network layer.
//
// Detection runs on every Feed until the framing is known:
//
//   - delimited: the stream begins with an SSE field ("data:", "event:",
//     "id:", "retry:" or a ":" comment) or contains a blank line
//   - records: the first non-space byte is '{' or '[' (concatenated JSON
//     records, optionally wrapped in an array)
//
// Units are only decoded once complete, so multi-byte UTF-8 sequences split
// across reads are reassembled before they are interpreted.
//
// # Canonical Frames
//
// Each delta line is written as "data:<text>" with no space after the colon,
// and every frame ends with a blank line:
//
//	data:Hello
//	data:⁠ world
//
//	event: done
//	data:[DONE]
//
// A line that starts with a space or tab is prefixed with Guard (U+2060 WORD
// JOINER), and a line that ends with whitespace gets a trailing Guard, so a
// consumer that trims lines cannot change the text. Guard is not Unicode
// white space and survives strings.TrimSpace.
//
// # Relay
//
// Relay drives a Bridge from an io.ReadCloser into a Sink. It closes the
// reader exactly once on every exit path, stops reading as soon as the
// context is cancelled, and ends the stream with exactly one terminal frame
// unless the client is already gone.
package stream
