package moderation

import "fmt"

// UnavailableError reports that the classifier could not produce a reply.
// It is distinct from an unsafe verdict.
type UnavailableError struct {
	// StatusCode is the classifier HTTP status (0 if no response was received).
	StatusCode int

	// Timeout is true when the call exceeded its deadline.
	Timeout bool

	// Cause is the underlying error (if any).
	Cause error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	switch {
	case e.Timeout:
		return "moderation classifier timed out"
	case e.StatusCode > 0:
		return fmt.Sprintf("moderation classifier returned status %d", e.StatusCode)
	case e.Cause != nil:
		return fmt.Sprintf("moderation classifier unavailable: %v", e.Cause)
	default:
		return "moderation classifier unavailable"
	}
}

// Unwrap returns the underlying error for error chain support.
func (e *UnavailableError) Unwrap() error {
	return e.Cause
}
