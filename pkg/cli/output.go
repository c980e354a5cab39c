package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is "Name: value" lines (default).
	FormatText OutputFormat = "text"
	// FormatJSON is a single JSON object.
	FormatJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Field is one named command result.
type Field struct {
	Name  string
	Value string
}

// Fields is an ordered list of command results.
type Fields []Field

// Formatter formats command output.
type Formatter interface {
	Format(fields Fields) ([]byte, error)
	FormatTo(w io.Writer, fields Fields) error
}

// TextFormatter formats output as "Name: value" lines.
type TextFormatter struct{}

// Format converts fields to text.
func (f *TextFormatter) Format(fields Fields) ([]byte, error) {
	var b strings.Builder
	for _, field := range fields {
		b.WriteString(field.Name)
		b.WriteString(": ")
		b.WriteString(field.Value)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// FormatTo writes fields to w as text.
func (f *TextFormatter) FormatTo(w io.Writer, fields Fields) error {
	out, _ := f.Format(fields)
	_, err := w.Write(out)
	return err
}

// JSONFormatter formats output as a JSON object keyed by field name.
type JSONFormatter struct {
	Indent bool
}

// Format converts fields to JSON.
func (f *JSONFormatter) Format(fields Fields) ([]byte, error) {
	obj := fields.Map()
	if f.Indent {
		return json.MarshalIndent(obj, "", "  ")
	}
	return json.Marshal(obj)
}

// FormatTo writes fields to w as JSON.
func (f *JSONFormatter) FormatTo(w io.Writer, fields Fields) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(fields.Map())
}

// Map returns the fields keyed by name. Later duplicates win.
func (fs Fields) Map() map[string]string {
	m := make(map[string]string, len(fs))
	for _, f := range fs {
		m[f.Name] = f.Value
	}
	return m
}

// NewFormatter creates a new formatter for the specified format.
func NewFormatter(format OutputFormat) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	default:
		return &TextFormatter{}
	}
}
