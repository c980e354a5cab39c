package proxy

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"mercator-hq/relay/pkg/hop"
	"mercator-hq/relay/pkg/limits/ratelimit"
	"mercator-hq/relay/pkg/moderation"
	"mercator-hq/relay/pkg/proxy/types"
	"mercator-hq/relay/pkg/signing"
)

// Class groups failures by how they are handled and audited.
type Class string

const (
	ClassAuth       Class = "auth"
	ClassValidation Class = "validation"
	ClassRateLimit  Class = "rate_limit"
	ClassModeration Class = "moderation_block"
	ClassUpstream   Class = "upstream_unavailable"
	ClassInternal   Class = "internal"
)

// genericAuthMessage is the only message an authentication failure ever
// returns to the caller.
const genericAuthMessage = "request could not be authenticated"

// Error is a classified request failure. It renders as the uniform error
// body; Detail is internal and never sent to the caller.
type Error struct {
	Class      Class
	Code       string
	Message    string
	Status     int
	RetryAfter int
	Categories []string
	Detail     string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Message + " (" + e.Detail + ")"
	}
	return e.Message
}

// Unwrap returns the underlying error for error chain support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Response renders the error body for requestID.
func (e *Error) Response(requestID string) *types.ErrorResponse {
	resp := types.NewErrorResponse(e.Message, e.Code, requestID)
	if e.RetryAfter > 0 {
		resp.WithRetryAfter(e.RetryAfter)
	}
	if len(e.Categories) > 0 {
		resp.Categories = e.Categories
	}
	return resp
}

// NewAuthError returns an authentication failure. detail is the internal
// reason (verify reason, replay reason) kept for logs and audit.
func NewAuthError(detail string) *Error {
	return &Error{
		Class:   ClassAuth,
		Code:    types.CodeUnauthorized,
		Message: genericAuthMessage,
		Status:  http.StatusUnauthorized,
		Detail:  detail,
	}
}

// NewBlockedError returns a moderation block.
func NewBlockedError(categories []string) *Error {
	return &Error{
		Class:      ClassModeration,
		Code:       types.CodeContentBlocked,
		Message:    "message was blocked by content policy",
		Status:     http.StatusForbidden,
		Categories: categories,
	}
}

// NewOriginError returns the rejection for a disallowed Origin.
func NewOriginError(origin string) *Error {
	return &Error{
		Class:   ClassAuth,
		Code:    types.CodeOriginNotAllowed,
		Message: "origin not allowed",
		Status:  http.StatusForbidden,
		Detail:  origin,
	}
}

// NewReplayUnavailableError is returned when the replay store cannot be
// consulted and the guard fails closed.
func NewReplayUnavailableError(err error) *Error {
	return &Error{
		Class:   ClassUpstream,
		Code:    types.CodeReplayGuardUnavailable,
		Message: "service temporarily unavailable",
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

// NewLimiterUnavailableError is returned when rate-limit state cannot be
// read or written. Requests are not admitted without a decision.
func NewLimiterUnavailableError(err error) *Error {
	return &Error{
		Class:   ClassUpstream,
		Code:    types.CodeRateLimiterUnavailable,
		Message: "service temporarily unavailable",
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

// HandleError classifies err. Unknown errors become a generic internal error.
//
// Example usage:
//
//	if err != nil {
//	    WriteError(w, requestID, err)
//	    return
//	}
func HandleError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		status := reqErr.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		return &Error{
			Class:   ClassValidation,
			Code:    reqErr.Code,
			Message: reqErr.Message,
			Status:  status,
			Detail:  reqErr.Param,
			Err:     err,
		}
	}

	var verifyErr *signing.VerifyError
	if errors.As(err, &verifyErr) {
		auth := NewAuthError(string(verifyErr.Reason))
		auth.Err = err
		return auth
	}

	var rejected *ratelimit.RejectedError
	if errors.As(err, &rejected) {
		return &Error{
			Class:      ClassRateLimit,
			Code:       types.CodeRateLimited,
			Message:    "rate limit exceeded",
			Status:     http.StatusTooManyRequests,
			RetryAfter: rejected.Decision.RetryAfterSeconds(),
			Detail:     string(rejected.Decision.Tier),
			Err:        err,
		}
	}

	var modErr *moderation.UnavailableError
	if errors.As(err, &modErr) {
		status := http.StatusBadGateway
		if modErr.Timeout {
			status = http.StatusGatewayTimeout
		}
		return &Error{
			Class:   ClassUpstream,
			Code:    types.CodeModerationUnavailable,
			Message: "content moderation is unavailable, please retry",
			Status:  status,
			Detail:  modErr.Error(),
			Err:     err,
		}
	}

	var upErr *hop.UpstreamError
	if errors.As(err, &upErr) {
		return handleUpstreamError(upErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Class:   ClassUpstream,
			Code:    types.CodeUpstreamTimeout,
			Message: "upstream timed out, please retry",
			Status:  http.StatusGatewayTimeout,
			Err:     err,
		}
	}

	return &Error{
		Class:   ClassInternal,
		Code:    types.CodeInternalError,
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// handleUpstreamError maps a failed hop. A peer that rejected the hop
// itself (bad signature, replay) is a deployment fault, not the client's.
func handleUpstreamError(err *hop.UpstreamError) *Error {
	switch {
	case err.Timeout:
		return &Error{
			Class:   ClassUpstream,
			Code:    types.CodeUpstreamTimeout,
			Message: "upstream timed out, please retry",
			Status:  http.StatusGatewayTimeout,
			Detail:  err.Error(),
			Err:     err,
		}
	case err.Code == types.CodeContentBlocked:
		blocked := NewBlockedError(nil)
		blocked.Detail = err.Target
		blocked.Err = err
		return blocked
	default:
		return &Error{
			Class:   ClassUpstream,
			Code:    types.CodeUpstreamUnavailable,
			Message: "upstream unavailable, please retry",
			Status:  http.StatusBadGateway,
			Detail:  err.Error(),
			Err:     err,
		}
	}
}

// WriteError classifies err, writes the uniform error body and returns the
// classified error for logging and audit.
func WriteError(w http.ResponseWriter, requestID string, err error) *Error {
	e := HandleError(err)
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	_ = WriteJSONResponse(w, e.Status, e.Response(requestID))
	return e
}
