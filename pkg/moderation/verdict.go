package moderation

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// CategoryUnparseable marks a verdict produced from an unrecognised reply.
const CategoryUnparseable = "unparseable"

// maxNesting bounds how deep wrapper objects are followed.
const maxNesting = 4

// Verdict is the outcome of classifying a conversation.
type Verdict struct {
	Safe       bool     `json:"safe"`
	Categories []string `json:"categories,omitempty"`
}

// Unparseable returns the fail-closed verdict.
func Unparseable() Verdict {
	return Verdict{Safe: false, Categories: []string{CategoryUnparseable}}
}

// replyKind tags the shape of a classifier reply.
type replyKind int

const (
	replyUnknown replyKind = iota
	replyObject
	replyText
)

// reply is a classifier response reduced to one of the known shapes.
type reply struct {
	kind   replyKind
	object map[string]json.RawMessage
	text   string
}

func parseReply(raw []byte) reply {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !utf8.Valid(trimmed) {
		return reply{kind: replyUnknown}
	}

	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return reply{kind: replyUnknown}
		}
		return reply{kind: replyObject, object: obj}
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return reply{kind: replyUnknown}
		}
		return reply{kind: replyText, text: s}
	case '[':
		return reply{kind: replyUnknown}
	default:
		return reply{kind: replyText, text: string(trimmed)}
	}
}

// Decode converts a raw classifier reply into a Verdict. It never fails:
// anything it cannot interpret decodes to Unparseable().
func Decode(raw []byte) Verdict {
	return decode(raw, 0)
}

func decode(raw []byte, depth int) Verdict {
	if depth > maxNesting {
		return Unparseable()
	}

	r := parseReply(raw)
	switch r.kind {
	case replyObject:
		return decodeObject(r.object, depth)
	case replyText:
		return decodeText(r.text)
	default:
		return Unparseable()
	}
}

func decodeObject(obj map[string]json.RawMessage, depth int) Verdict {
	if v, ok := obj["safe"]; ok {
		var safe bool
		if err := json.Unmarshal(v, &safe); err != nil {
			return Unparseable()
		}
		return verdictWithCategories(safe, obj)
	}

	if v, ok := obj["flagged"]; ok {
		var flagged bool
		if err := json.Unmarshal(v, &flagged); err != nil {
			return Unparseable()
		}
		return verdictWithCategories(!flagged, obj)
	}

	for _, key := range []string{"result", "output", "verdict"} {
		if v, ok := obj[key]; ok {
			return decode(v, depth+1)
		}
	}

	if v, ok := obj["results"]; ok {
		var results []json.RawMessage
		if err := json.Unmarshal(v, &results); err != nil || len(results) == 0 {
			return Unparseable()
		}
		return decode(results[0], depth+1)
	}

	return Unparseable()
}

// verdictWithCategories reads "categories" as either a list of names or a
// name to bool map (OpenAI moderation style).
func verdictWithCategories(safe bool, obj map[string]json.RawMessage) Verdict {
	verdict := Verdict{Safe: safe}
	raw, ok := obj["categories"]
	if !ok {
		return verdict
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		verdict.Categories = dedupe(list)
		return verdict
	}

	var flags map[string]bool
	if err := json.Unmarshal(raw, &flags); err == nil {
		for name, set := range flags {
			if set {
				verdict.Categories = append(verdict.Categories, name)
			}
		}
		sort.Strings(verdict.Categories)
		return verdict
	}

	// A malformed category list on a safe verdict makes the verdict ambiguous.
	if safe {
		return Unparseable()
	}
	return verdict
}

// decodeText handles bare-string replies such as "safe" or
// "unsafe\nS1,S10".
func decodeText(text string) Verdict {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for i, line := range lines {
		words := tokens(line)
		if contains(words, "unsafe") {
			return Verdict{Safe: false, Categories: textCategories(lines[i+1:])}
		}
	}

	for _, line := range lines {
		words := tokens(line)
		if contains(words, "safe") {
			if contains(words, "not") || contains(words, "no") {
				return Unparseable()
			}
			return Verdict{Safe: true}
		}
	}

	return Unparseable()
}

func tokens(line string) []string {
	return strings.FieldsFunc(strings.ToLower(line), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func textCategories(lines []string) []string {
	var out []string
	for _, line := range lines {
		for _, field := range strings.Split(line, ",") {
			if field = strings.TrimSpace(field); field != "" {
				out = append(out, field)
			}
		}
	}
	return dedupe(out)
}

func contains(words []string, target string) bool {
	for _, w := range words {
		if w == target {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
