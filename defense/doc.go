// Package defense guards the model boundary.
//
// Scanner matches user queries and tool output against prompt-injection
// signatures and either blocks the text (INJECTION_BLOCKED) or replaces the
// offending spans. Masker replaces sensitive fields in tool results for
// callers without an unmasking role, walking nested maps and lists.
package defense
