// Package moderation implements the synchronous content-safety gate.
//
// Gate.Classify sends the full conversation to an external classifier and
// reduces the reply to a Verdict. Classifier replies come in several shapes,
// so every reply goes through a single decoder (Decode) that recognises:
//
//   - a JSON object with a boolean "safe" or "flagged" field and an optional
//     category list, possibly nested under "result", "output", "verdict" or
//     "results[0]"
//   - a JSON string or plain text containing the token "unsafe" or "safe",
//     optionally followed by category codes on later lines
//   - anything else, which is decoded as unsafe with category "unparseable"
//
// A classifier that cannot be reached, times out, or answers with a non-2xx
// status is reported as *UnavailableError, never as an unsafe verdict.
package moderation
