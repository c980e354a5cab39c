package types

import "fmt"

// Message roles accepted from clients.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is the chat body accepted by the gateway and forwarded to the
// backend unchanged in shape.
type ChatRequest struct {
	// Messages is the conversation history in chronological order.
	Messages []Message `json:"messages"`
}

// Message represents a single message in a conversation.
type Message struct {
	// Role is the author of the message ("user" or "assistant").
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`
}

// Validate checks the structural rules of a chat request.
// Content sanitization happens before validation, so empty content here
// means the message was empty or consisted only of control characters.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return &ValidationError{
			Field:   "messages",
			Message: "messages must contain at least one message",
		}
	}

	for i, msg := range r.Messages {
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			return &ValidationError{
				Field:   fmt.Sprintf("messages[%d].role", i),
				Message: "message role must be user or assistant",
			}
		}
		if msg.Content == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("messages[%d].content", i),
				Message: "message content is required",
			}
		}
	}

	if last := r.Messages[len(r.Messages)-1]; last.Role != RoleUser {
		return &ValidationError{
			Field:   "messages",
			Message: "last message must be from the user",
		}
	}

	return nil
}

// UserText returns the content of every user message joined by newlines.
func (r *ChatRequest) UserText() string {
	return UserText(r.Messages)
}

// UserText returns the content of every user-authored message joined by
// newlines.
func UserText(msgs []Message) string {
	var n int
	for _, m := range msgs {
		if m.Role == RoleUser {
			n += len(m.Content) + 1
		}
	}
	buf := make([]byte, 0, n)
	for _, m := range msgs {
		if m.Role != RoleUser {
			continue
		}
		if len(buf) > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, m.Content...)
	}
	return string(buf)
}

// ValidationError represents a request validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}
