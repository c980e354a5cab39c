// Package audit records security-relevant request outcomes without blocking
// request handling.
//
// An Event describes what happened to one request (authentication failure,
// replay, rate limit, moderation block, upstream failure, stream failure or
// completion) with the internal detail code that is never returned to the
// caller. Events never contain message content.
//
// The Recorder enqueues events on a buffered channel drained by a single
// worker. When the buffer is full the event is dropped and counted; Record
// never waits.
//
//	rec := audit.NewRecorder(storage.NewMemoryStorage(), &audit.Config{BufferSize: 1000})
//	defer rec.Close()
//	rec.Record(audit.Event{Kind: audit.KindRateLimited, RequestID: id, Code: "rate-limited"})
//
// Storage backends live in the storage subpackage; retention pruning and
// other scheduled jobs live in the retention subpackage.
package audit
