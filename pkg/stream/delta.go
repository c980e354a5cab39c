package stream

import (
	"bytes"
	"encoding/json"
)

// record is the union of the backend record shapes that carry text.
type record struct {
	Choices []struct {
		Delta *struct {
			Content *string `json:"content"`
		} `json:"delta"`
		Text *string `json:"text"`
	} `json:"choices"`

	Delta    json.RawMessage `json:"delta"`
	Message  json.RawMessage `json:"message"`
	Response *string         `json:"response"`
	Text     *string         `json:"text"`
	Content  json.RawMessage `json:"content"`
	Token    json.RawMessage `json:"token"`

	Done  *bool           `json:"done"`
	Type  string          `json:"type"`
	Error json.RawMessage `json:"error"`
}

// textField is an object with a text or content member.
type textField struct {
	Text    *string `json:"text"`
	Content *string `json:"content"`
}

// decodeRecord extracts frames from one structured record. A record may
// produce a delta, a terminal frame, both, or nothing (keep-alives, role
// announcements).
func decodeRecord(unit []byte) ([]Frame, error) {
	var rec record
	if err := json.Unmarshal(unit, &rec); err != nil {
		return nil, err
	}

	if msg, ok := errorMessage(rec.Error); ok {
		return []Frame{Error(msg)}, nil
	}

	var frames []Frame
	if text, ok := rec.text(); ok && text != "" {
		frames = append(frames, Delta(text))
	}
	if (rec.Done != nil && *rec.Done) || rec.Type == "message_stop" {
		frames = append(frames, Done())
	}
	return frames, nil
}

// text locates the delta text in the order the supported backends use it.
func (r *record) text() (string, bool) {
	if len(r.Choices) > 0 {
		c := r.Choices[0]
		if c.Delta != nil && c.Delta.Content != nil {
			return *c.Delta.Content, true
		}
		if c.Text != nil {
			return *c.Text, true
		}
	}

	for _, raw := range []json.RawMessage{r.Delta, r.Message} {
		if s, ok := stringOrText(raw); ok {
			return s, true
		}
	}

	if r.Response != nil {
		return *r.Response, true
	}
	if r.Text != nil {
		return *r.Text, true
	}

	for _, raw := range []json.RawMessage{r.Content, r.Token} {
		if s, ok := stringOrText(raw); ok {
			return s, true
		}
	}
	return "", false
}

// stringOrText reads either a JSON string or an object with a text or
// content string member.
func stringOrText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true
		}
	case '{':
		var f textField
		if err := json.Unmarshal(raw, &f); err == nil {
			if f.Text != nil {
				return *f.Text, true
			}
			if f.Content != nil {
				return *f.Content, true
			}
		}
	}
	return "", false
}

// errorMessage reads an "error" member given as a string or as an object
// with a message.
func errorMessage(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "upstream error", true
		}
		return s, true
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message, true
	}
	return "upstream error", true
}
