// Package policy masks sensitive content before utterances are persisted.
package policy

import "regexp"

type rule struct {
	label   string
	pattern *regexp.Regexp
	mask    string
}

// Order matters: card numbers must be masked before the looser phone rule
// sees them, and secrets before either.
var rules = []rule{
	{label: "secret", pattern: regexp.MustCompile(`(?i)\b(?:bearer\s+)?[a-f0-9]{32,}\b|\b[A-Za-z0-9_\-]{40,}\b`), mask: "[REDACTED_SECRET]"},
	{label: "email", pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), mask: "[REDACTED_EMAIL]"},
	{label: "card", pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), mask: "[REDACTED_CARD]"},
	{label: "phone", pattern: regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), mask: "[REDACTED_PHONE]"},
}

// Redact masks tokens, emails, card and phone numbers in text and reports
// which kinds were found.
func Redact(text string) (string, []string) {
	var hits []string
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(text, r.mask)
		if next != text {
			hits = append(hits, r.label)
			text = next
		}
	}
	return text, hits
}
