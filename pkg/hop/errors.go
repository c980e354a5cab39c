package hop

import "fmt"

// UpstreamError reports a failed hop call.
type UpstreamError struct {
	// Target names the called service ("backend" or "upstream").
	Target string

	// StatusCode is the HTTP status (0 if no response was received).
	StatusCode int

	// Timeout is true when the call exceeded its deadline.
	Timeout bool

	// Code is the error_code from the peer's error body, if it sent one.
	Code string

	// Cause is the underlying error (if any).
	Cause error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s timed out", e.Target)
	case e.StatusCode > 0 && e.Code != "":
		return fmt.Sprintf("%s returned status %d (%s)", e.Target, e.StatusCode, e.Code)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s returned status %d", e.Target, e.StatusCode)
	case e.Cause != nil:
		return fmt.Sprintf("%s unavailable: %v", e.Target, e.Cause)
	default:
		return fmt.Sprintf("%s unavailable", e.Target)
	}
}

// Unwrap returns the underlying error for error chain support.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}
