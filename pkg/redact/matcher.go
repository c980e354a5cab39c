package redact

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// IntentMatcher decides whether a text explicitly asks for disclosure.
type IntentMatcher interface {
	Matches(text string) bool
}

// DefaultTriggers are the built-in explicit-ask phrases.
var DefaultTriggers = []string{
	"who made you",
	"who created you",
	"who built you",
	"who developed you",
	"who trained you",
	"who is behind you",
	"attribution",
	"quién te creó",
	"quién te hizo",
	"quién te desarrolló",
	"qui t'a créé",
	"qui t'a développé",
	"wer hat dich erstellt",
	"wer hat dich entwickelt",
	"quem te criou",
	"chi ti ha creato",
	"谁创造了你",
	"谁开发了你",
	"誰があなたを作った",
}

// PhraseMatcher matches trigger phrases as substrings after normalizing
// both sides: compatibility decomposition, accents removed, case folded and
// white space collapsed.
type PhraseMatcher struct {
	phrases []string
}

// NewPhraseMatcher creates a matcher. Empty phrases are ignored.
func NewPhraseMatcher(phrases []string) *PhraseMatcher {
	m := &PhraseMatcher{}
	for _, p := range phrases {
		if n := normalize(p); n != "" {
			m.phrases = append(m.phrases, n)
		}
	}
	return m
}

// Matches reports whether text contains any trigger phrase.
func (m *PhraseMatcher) Matches(text string) bool {
	if len(m.phrases) == 0 {
		return false
	}
	normalized := normalize(text)
	for _, p := range m.phrases {
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}

// normalize folds text for matching. A new transformer is built per call
// because transform.Chain is stateful.
func normalize(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = cases.Fold().String(folded)
	folded = strings.NewReplacer("’", "'", "‘", "'").Replace(folded)
	return strings.Join(strings.Fields(folded), " ")
}
