package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"mercator-hq/relay/pkg/proxy/types"
)

const (
	// RequestIDHeader is the HTTP header for request ID propagation.
	RequestIDHeader = "X-Request-ID"

	// ClientIDHeader is the default header carrying a caller-chosen identity.
	ClientIDHeader = "X-Client-ID"
)

// Limits bounds an inbound chat request.
type Limits struct {
	// MaxBodyBytes is the largest accepted body.
	MaxBodyBytes int64

	// MaxMessages is the largest accepted history length.
	MaxMessages int

	// MaxMessageRunes caps each message; longer content is truncated.
	MaxMessageRunes int
}

// RequestError represents a request parsing or validation error.
type RequestError struct {
	Message string
	Code    string
	Param   string
	Status  int
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return e.Message
}

// ReadBody reads at most limit bytes from r. A larger body is a 413.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	if limit > 0 && r.ContentLength > limit {
		return nil, tooLarge(limit)
	}

	reader := io.Reader(r.Body)
	if limit > 0 {
		reader = io.LimitReader(r.Body, limit+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, tooLarge(limit)
		}
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, tooLarge(limit)
	}
	return body, nil
}

func tooLarge(limit int64) *RequestError {
	return &RequestError{
		Message: fmt.Sprintf("request body exceeds maximum size of %d bytes", limit),
		Code:    types.CodePayloadTooLarge,
		Param:   "body",
		Status:  http.StatusRequestEntityTooLarge,
	}
}

// CheckContentType requires a JSON body.
func CheckContentType(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return &RequestError{
			Message: "content type must be application/json",
			Code:    types.CodeUnsupportedMediaType,
			Param:   "Content-Type",
			Status:  http.StatusUnsupportedMediaType,
		}
	}
	return nil
}

// ParseChatRequest reads, decodes, sanitizes and validates a chat request.
//
// Example usage:
//
//	req, err := ParseChatRequest(r, limits)
//	if err != nil {
//	    WriteError(w, requestID, err)
//	    return
//	}
func ParseChatRequest(r *http.Request, limits Limits) (*types.ChatRequest, error) {
	if err := CheckContentType(r); err != nil {
		return nil, err
	}

	body, err := ReadBody(r, limits.MaxBodyBytes)
	if err != nil {
		return nil, err
	}

	return DecodeChatRequest(body, limits)
}

// DecodeChatRequest decodes and validates an already-read body.
func DecodeChatRequest(body []byte, limits Limits) (*types.ChatRequest, error) {
	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &RequestError{
			Message: fmt.Sprintf("invalid JSON: %v", err),
			Code:    types.CodeInvalidJSON,
			Param:   "body",
		}
	}

	if limits.MaxMessages > 0 && len(req.Messages) > limits.MaxMessages {
		return nil, &RequestError{
			Message: fmt.Sprintf("at most %d messages are allowed", limits.MaxMessages),
			Code:    types.CodeInvalidRequest,
			Param:   "messages",
		}
	}

	for i := range req.Messages {
		req.Messages[i].Role = strings.ToLower(strings.TrimSpace(req.Messages[i].Role))
		req.Messages[i].Content = SanitizeContent(req.Messages[i].Content, limits.MaxMessageRunes)
	}

	if err := req.Validate(); err != nil {
		var valErr *types.ValidationError
		if errors.As(err, &valErr) {
			return nil, &RequestError{
				Message: valErr.Message,
				Code:    types.CodeInvalidRequest,
				Param:   valErr.Field,
			}
		}
		return nil, err
	}

	return &req, nil
}

// SanitizeContent drops invalid UTF-8 and control characters other than
// newline and tab, trims surrounding whitespace and truncates to maxRunes
// (0 means unlimited).
func SanitizeContent(s string, maxRunes int) string {
	s = strings.ToValidUTF8(s, "")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\r' {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())

	if maxRunes > 0 && utf8.RuneCountInString(out) > maxRunes {
		runes := []rune(out)
		out = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return out
}

// ExtractRequestID extracts the request ID from the X-Request-ID header.
func ExtractRequestID(r *http.Request) string {
	return r.Header.Get(RequestIDHeader)
}
