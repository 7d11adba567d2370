// Package sanitize scrubs model output for secret-shaped content before it
// is posted. Sanitize is a pure transform; policy (block vs. redact) is the
// caller's decision.
package sanitize

import "regexp"

// Mode selects how the pipeline treats unsafe content.
type Mode string

const (
	// ModeStrict refuses to post anything that triggered a redaction.
	ModeStrict Mode = "strict"
	// ModePermissive posts the redacted body and logs the redaction count.
	ModePermissive Mode = "permissive"
)

// Result reports the outcome of sanitizing one body of text.
type Result struct {
	Safe             bool
	SanitizedContent string
	RedactedPatterns []string
}

type rule struct {
	name string
	re   *regexp.Regexp
}

// rules is the immutable redaction table, compiled once at init. Names are
// what gets logged; the matched text never is.
var rules = []rule{
	{"github_token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"anthropic_key", regexp.MustCompile(`\bsk-ant-[A-Za-z0-9-]{20,}\b`)},
	{"generic_api_key", regexp.MustCompile(`(?i)\b(api[_-]?key|secret[_-]?key)\b\s*[:=]\s*['"]?[A-Za-z0-9/+_-]{16,}`)},
	{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{20,}=*`)},
	{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"password_in_url", regexp.MustCompile(`(?i)\b[a-z][a-z0-9+.-]*://[^/\s:@]+:[^@\s]+@`)},
	{"slack_token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
}

const redactedPlaceholder = "[REDACTED]"

// Sanitize redacts secret-shaped substrings and reports which rules fired.
// Safe is true iff nothing matched.
func Sanitize(text string) Result {
	out := text
	var fired []string
	for _, r := range rules {
		if !r.re.MatchString(out) {
			continue
		}
		out = r.re.ReplaceAllString(out, redactedPlaceholder)
		fired = append(fired, r.name)
	}
	return Result{
		Safe:             len(fired) == 0,
		SanitizedContent: out,
		RedactedPatterns: fired,
	}
}
