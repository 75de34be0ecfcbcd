// Package redact strips sensitive values from log output before it leaves
// the process boundary.
//
// The values that must never appear in a log line are the generative
// backend's API key and its endpoint URL — both can end up embedded in error
// text, since the key travels in the request URL. Redaction is best-effort:
// it operates on string representations and relies on callers passing the
// right set of sensitive terms.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(err.Error(), apiKey, baseURL)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}
