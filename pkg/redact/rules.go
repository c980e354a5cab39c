package redact

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"mercator-hq/relay/pkg/proxy/types"
)

// Rules is the content of a rules file.
type Rules struct {
	// Triggers are explicit-ask phrases. Empty means DefaultTriggers.
	Triggers []string `yaml:"triggers"`

	// Fragments are removed verbatim when disclosure is not allowed.
	Fragments []string `yaml:"fragments"`
}

// LoadRules reads and validates a rules file.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}

	for i, frag := range rules.Fragments {
		if frag == "" {
			return Rules{}, fmt.Errorf("rules file %q: fragments[%d] is empty", path, i)
		}
	}
	return rules, nil
}

// ruleState is one immutable generation of rules.
type ruleState struct {
	rules   Rules
	matcher IntentMatcher
}

// RuleSet holds the current rules and can be swapped at runtime.
type RuleSet struct {
	mu     sync.RWMutex
	state  ruleState
	path   string
	logger *slog.Logger
}

// NewRuleSet creates a rule set from rules.
func NewRuleSet(rules Rules) *RuleSet {
	s := &RuleSet{logger: slog.Default().With("component", "redact")}
	s.Store(rules)
	return s
}

// NewRuleSetFromFile loads path and remembers it for Reload.
func NewRuleSetFromFile(path string) (*RuleSet, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	s := NewRuleSet(rules)
	s.path = path
	return s, nil
}

// Store replaces the current rules.
func (s *RuleSet) Store(rules Rules) {
	triggers := rules.Triggers
	if len(triggers) == 0 {
		triggers = DefaultTriggers
	}
	state := ruleState{rules: rules, matcher: NewPhraseMatcher(triggers)}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Rules returns the current rules.
func (s *RuleSet) Rules() Rules {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.rules
}

// Reload re-reads the rules file. On error the current rules are kept.
func (s *RuleSet) Reload() error {
	if s.path == "" {
		return fmt.Errorf("rule set has no backing file")
	}
	rules, err := LoadRules(s.path)
	if err != nil {
		return err
	}
	s.Store(rules)
	s.logger.Info("redaction rules reloaded",
		"path", s.path,
		"triggers", len(rules.Triggers),
		"fragments", len(rules.Fragments),
	)
	return nil
}

// Evaluate computes the policy for a conversation and returns the filter
// to use for the whole request. Later reloads do not affect it.
func (s *RuleSet) Evaluate(messages []types.Message) *Filter {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	return NewFilter(NewPolicy(state.matcher, messages), state.rules.Fragments)
}
