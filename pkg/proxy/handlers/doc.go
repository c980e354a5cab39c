// Package handlers provides the HTTP handlers of the gateway.
//
// # Chat
//
// ChatHandler serves the streaming chat endpoint. A request passes, in
// order, method and shape validation, the per-identity rate limiter, the
// moderation gate over the full history, history redaction, and the signed
// hop to the backend. Each step that refuses the request writes the uniform
// error body:
//
//	{"error": "...", "error_code": "rate-limited", "request_id": "...", "retry_after": 7}
//
// Once the backend answers, its stream is relayed as canonical frames and
// the response can no longer turn into a JSON error; a failure mid-stream
// ends it with an error frame.
//
// # Health
//
// HealthHandler answers liveness probes unconditionally. ReadyHandler runs
// named checks such as PeerCheck (hop client health) and StoreCheck (keyed
// store reachability) and answers 503 while any of them fails.
package handlers
