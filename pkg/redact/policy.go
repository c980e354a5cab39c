package redact

import (
	"strings"

	"mercator-hq/relay/pkg/proxy/types"
)

// Policy is the disclosure decision for one request.
type Policy struct {
	DisclosureAllowed bool
}

// NewPolicy evaluates the user-authored conversation once. A nil matcher
// never allows disclosure.
func NewPolicy(m IntentMatcher, messages []types.Message) Policy {
	if m == nil {
		return Policy{}
	}
	return Policy{DisclosureAllowed: m.Matches(types.UserText(messages))}
}

// Filter removes disallowed fragments under a Policy.
type Filter struct {
	policy    Policy
	fragments []string
}

// NewFilter creates a filter. Empty fragments are ignored.
func NewFilter(policy Policy, fragments []string) *Filter {
	f := &Filter{policy: policy}
	for _, frag := range fragments {
		if frag != "" {
			f.fragments = append(f.fragments, frag)
		}
	}
	return f
}

// Policy returns the policy the filter applies.
func (f *Filter) Policy() Policy {
	return f.policy
}

// Active reports whether the filter can change any text.
func (f *Filter) Active() bool {
	return !f.policy.DisclosureAllowed && len(f.fragments) > 0
}

// Apply removes every fragment from one delta.
func (f *Filter) Apply(text string) string {
	if !f.Active() {
		return text
	}
	for _, frag := range f.fragments {
		if strings.Contains(text, frag) {
			text = strings.ReplaceAll(text, frag, "")
		}
	}
	return text
}

// ApplyHistory returns a copy of messages with fragments removed from every
// message.
func (f *Filter) ApplyHistory(messages []types.Message) []types.Message {
	out := make([]types.Message, len(messages))
	for i, m := range messages {
		out[i] = types.Message{Role: m.Role, Content: f.Apply(m.Content)}
	}
	return out
}
