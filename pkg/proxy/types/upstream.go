package types

// UpstreamRequest is the OpenAI-compatible streaming request the backend
// sends to the generation upstream.
type UpstreamRequest struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`

	// MaxTokens caps the generated length. Optional.
	MaxTokens *int `json:"max_tokens,omitempty"`
}

// ClassifierRequest is the body POSTed to the safety classifier.
type ClassifierRequest struct {
	Messages []Message `json:"messages"`
}
