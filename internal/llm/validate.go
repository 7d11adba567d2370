package llm

import (
	"fmt"
	"strings"
)

// Structural validity thresholds for a review body. Tuned low enough that a
// short but real review passes, high enough to reject stubs and refusals.
const (
	minReviewLength = 200
	minProseLength  = 80
)

// refusalPhrases reject responses where the model declined the task instead
// of reviewing. Matched case-insensitively against the whole body.
var refusalPhrases = []string{
	"i cannot assist",
	"i can't assist",
	"i cannot help with",
	"i'm unable to review",
	"i am unable to review",
	"as an ai language model",
	"i apologize, but i cannot",
	"i will not provide",
}

// requiredSectionMarkers: a structurally valid review carries at least one
// markdown heading.
var requiredSectionMarkers = []string{"## ", "# "}

// ValidateReviewBody checks that a raw model response is a plausible review:
// minimum length, no refusal phrasing, at least one section marker, and
// non-trivial prose outside code fences. It returns a reason string usable
// in logs (never the body itself).
func ValidateReviewBody(content string) error {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < minReviewLength {
		return fmt.Errorf("response too short (%d chars)", len(trimmed))
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return fmt.Errorf("response contains refusal phrasing")
		}
	}

	hasSection := false
	for _, marker := range requiredSectionMarkers {
		if strings.Contains(trimmed, "\n"+marker) || strings.HasPrefix(trimmed, marker) {
			hasSection = true
			break
		}
	}
	if !hasSection {
		return fmt.Errorf("response has no section markers")
	}

	if len(proseOutsideCodeFences(trimmed)) < minProseLength {
		return fmt.Errorf("response has no substantial prose outside code blocks")
	}
	return nil
}

// proseOutsideCodeFences strips fenced code blocks, markdown headings, and
// HTML comments, leaving the free prose.
func proseOutsideCodeFences(s string) string {
	var b strings.Builder
	inFence := false
	for _, line := range strings.Split(s, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "```") {
			inFence = !inFence
			continue
		}
		if inFence || strings.HasPrefix(t, "#") || strings.HasPrefix(t, "<!--") {
			continue
		}
		b.WriteString(t)
	}
	return b.String()
}
