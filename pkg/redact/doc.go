// Package redact implements the conditional disclosure filter.
//
// A Policy is computed once per request from the user-authored part of the
// conversation: disclosure is allowed only when an IntentMatcher recognises
// an explicit request for it. When disclosure is not allowed, a Filter
// removes every configured fragment verbatim from each streamed delta and
// from the history forwarded to the backend. Text around a fragment is left
// untouched.
//
// The filter works on one delta at a time. A fragment that arrives split
// across two deltas is not recognised and passes through unchanged.
//
// Trigger phrases and fragments are loaded from a YAML rules file:
//
//	triggers:
//	  - who made you
//	  - quién te creó
//	fragments:
//	  - "Attribution: Example Labs"
//
// A Watcher reloads the file into a RuleSet when it changes on disk.
package redact
