package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Pattern is a custom redaction rule applied to string values.
type Pattern struct {
	Name        string
	Pattern     string
	Replacement string
}

// Redactor removes secrets from log attributes.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternBearerToken = "bearer_token"
	PatternAPIKey      = "api_key"
	PatternHopHeader   = "hop_signature"
)

// sensitiveKeys are attribute keys whose values are always masked.
var sensitiveKeys = []string{
	"secret", "signature", "authorization",
	"api_key", "apikey", "token", "password",
	"private_key", "cookie",
}

// NewRedactor creates a Redactor with the built-in patterns plus custom ones.
// Invalid custom patterns are skipped and reported through the returned
// slice of names.
func NewRedactor(custom []Pattern) (*Redactor, []string) {
	r := &Redactor{}
	r.add(PatternBearerToken, `Bearer\s+[A-Za-z0-9\-._~+/]+=*`, "Bearer ***")
	r.add(PatternAPIKey, `sk-[A-Za-z0-9_\-]{8,}`, "sk-***")
	r.add(PatternHopHeader, `(?i)(request-signature|body-digest)[:=]\s*[A-Za-z0-9+/=_\-]+`, "$1: ***")

	var skipped []string
	for _, p := range custom {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			skipped = append(skipped, p.Name)
			continue
		}
		r.patterns = append(r.patterns, &redactPattern{name: p.Name, regex: regex, replacement: p.Replacement})
	}
	return r, skipped
}

func (r *Redactor) add(name, expr, replacement string) {
	r.patterns = append(r.patterns, &redactPattern{
		name:        name,
		regex:       regexp.MustCompile(expr),
		replacement: replacement,
	})
}

// RedactString applies every pattern to value.
func (r *Redactor) RedactString(value string) string {
	if r == nil || value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, maskValue(a.Value.String()))
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.RedactString(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return a
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

// maskValue keeps a short prefix of long values for correlation.
func maskValue(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 8 {
		return "***"
	}
	return v[:4] + "***"
}

// RedactAPIKey redacts an API key, keeping only a prefix.
func RedactAPIKey(apiKey string) string {
	if len(apiKey) <= 4 {
		return "***"
	}
	return apiKey[:4] + "***"
}
