// Package types defines the request and response bodies shared by the
// gateway, the backend, and the moderation classifier call.
//
// # Core Types
//
// Request types:
//   - ChatRequest: body of POST /api/chat and POST /internal/chat
//   - Message: one conversation turn (role user or assistant)
//   - UpstreamRequest: OpenAI-compatible body sent to the generation upstream
//
// Error types:
//   - ErrorResponse: uniform JSON error body
//
// # Error Body
//
// Every non-streaming failure is reported as:
//
//	{"error": "rate limit exceeded", "error_code": "rate-limited",
//	 "request_id": "3f0c...", "retry_after": 7}
//
// retry_after is present only for rate-limit rejections and categories
// only for moderation blocks.
package types
