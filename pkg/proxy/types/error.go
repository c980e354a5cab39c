package types

// ErrorResponse is the uniform error body returned for every failure that
// happens before a stream starts.
type ErrorResponse struct {
	// Error is a human-readable message. Authentication failures always
	// carry a generic message.
	Error string `json:"error"`

	// ErrorCode is a machine-readable kebab-case code.
	ErrorCode string `json:"error_code"`

	// RequestID correlates the response with logs and audit records.
	RequestID string `json:"request_id"`

	// RetryAfter is the suggested wait in seconds (rate limits only).
	RetryAfter *int `json:"retry_after,omitempty"`

	// Categories lists the moderation categories of a blocked request.
	Categories []string `json:"categories,omitempty"`
}

// Error codes.
const (
	CodeUnauthorized           = "unauthorized"
	CodeOriginNotAllowed       = "origin-not-allowed"
	CodeInvalidRequest         = "invalid-request"
	CodeInvalidJSON            = "invalid-json"
	CodePayloadTooLarge        = "payload-too-large"
	CodeUnsupportedMediaType   = "unsupported-media-type"
	CodeMethodNotAllowed       = "method-not-allowed"
	CodeRateLimited            = "rate-limited"
	CodeContentBlocked         = "content-blocked"
	CodeModerationUnavailable  = "moderation-unavailable"
	CodeUpstreamUnavailable    = "upstream-unavailable"
	CodeUpstreamTimeout        = "upstream-timeout"
	CodeReplayGuardUnavailable = "replay-guard-unavailable"
	CodeRateLimiterUnavailable = "rate-limiter-unavailable"
	CodeInternalError          = "internal-error"
)

// NewErrorResponse creates a new error response with the given details.
func NewErrorResponse(message, code, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Error:     message,
		ErrorCode: code,
		RequestID: requestID,
	}
}

// WithRetryAfter sets the retry_after field.
func (e *ErrorResponse) WithRetryAfter(seconds int) *ErrorResponse {
	e.RetryAfter = &seconds
	return e
}
