// Package proxy holds the request and error plumbing shared by the gateway
// and backend HTTP surfaces.
//
// # Errors
//
// Every failure that happens before a stream starts is rendered as one JSON
// body:
//
//	{"error": "rate limit exceeded", "error_code": "rate-limited",
//	 "request_id": "9b1d...", "retry_after": 7}
//
// HandleError classifies any error with errors.As into an *Error carrying a
// Class (auth, validation, rate_limit, moderation_block,
// upstream_unavailable, internal), the HTTP status and the error_code.
// Authentication failures always return the same generic message; the
// verify or replay reason is kept in Error.Detail for logs and audit only.
// Rate-limit rejections carry retry_after in the body and in a Retry-After
// header.
//
// # Requests
//
// ParseChatRequest enforces the JSON content type and the body size limit,
// decodes the message list, strips control characters, truncates long
// messages and validates roles.
//
// # Streams
//
// FrameWriter is a stream.Sink that writes canonical frames to an HTTP
// response, sending event-stream headers with the first frame and flushing
// after every frame.
//
// Subpackages: handlers (gateway and backend endpoints, health checks),
// middleware (request ID, logging, recovery, CORS, origin and hop
// authentication, rate limiting) and types (wire types).
package proxy
