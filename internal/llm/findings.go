package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sevigo/pr-warden/internal/core"
)

// Sentinel markers bounding the machine-parseable findings block inside
// otherwise free-form model output. HTML comments render invisibly on
// GitHub, so the block survives in posted review bodies.
const (
	FindingsBegin = "<!-- wrdn:findings:begin -->"
	FindingsEnd   = "<!-- wrdn:findings:end -->"
)

// ExtractFindingsBlock locates the sentinel-marker pair in content, strips
// any code-fence wrapping, and parses the block as a findings array. It
// returns the raw block text (markers excluded) alongside the parsed
// findings.
func ExtractFindingsBlock(content string) (string, []core.Finding, error) {
	start := strings.Index(content, FindingsBegin)
	if start < 0 {
		return "", nil, fmt.Errorf("findings block begin marker not found")
	}
	rest := content[start+len(FindingsBegin):]
	end := strings.Index(rest, FindingsEnd)
	if end < 0 {
		return "", nil, fmt.Errorf("findings block end marker not found")
	}

	raw := strings.TrimSpace(rest[:end])
	body := stripCodeFence(raw)

	var findings []core.Finding
	if err := json.Unmarshal([]byte(body), &findings); err != nil {
		return raw, nil, fmt.Errorf("failed to parse findings block: %w", err)
	}

	seen := make(map[string]struct{}, len(findings))
	for i, f := range findings {
		if f.ID == "" {
			return raw, nil, fmt.Errorf("finding %d has no id", i)
		}
		if _, dup := seen[f.ID]; dup {
			return raw, nil, fmt.Errorf("duplicate finding id %q", f.ID)
		}
		seen[f.ID] = struct{}{}
		if !f.Severity.Valid() {
			return raw, nil, fmt.Errorf("finding %q has unknown severity %q", f.ID, f.Severity)
		}
	}
	return raw, findings, nil
}

// stripCodeFence removes a ``` or ```json wrapper some models add around
// the block.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	idx := strings.Index(trimmed, "\n")
	if idx < 0 {
		return trimmed
	}
	inner := trimmed[idx+1:]
	if last := strings.LastIndex(inner, "```"); last >= 0 {
		inner = inner[:last]
	}
	return strings.TrimSpace(inner)
}

// CheckPreservation enforces the enrichment contract: pass 2 must carry
// exactly the pass-1 finding ids with identical severities. Any added,
// removed, or reclassified finding is a violation.
func CheckPreservation(pass1, pass2 []core.Finding) error {
	if len(pass1) != len(pass2) {
		return fmt.Errorf("finding count changed: pass1 has %d, pass2 has %d", len(pass1), len(pass2))
	}

	sev1 := make(map[string]core.Severity, len(pass1))
	for _, f := range pass1 {
		sev1[f.ID] = f.Severity
	}

	var missing, reclassified []string
	for _, f := range pass2 {
		want, ok := sev1[f.ID]
		if !ok {
			missing = append(missing, f.ID)
			continue
		}
		if want != f.Severity {
			reclassified = append(reclassified, f.ID)
		}
	}
	sort.Strings(missing)
	sort.Strings(reclassified)

	if len(missing) > 0 {
		return fmt.Errorf("pass2 introduced unknown finding ids: %s", strings.Join(missing, ", "))
	}
	if len(reclassified) > 0 {
		return fmt.Errorf("pass2 reclassified findings: %s", strings.Join(reclassified, ", "))
	}
	return nil
}

// WrapUnenriched synthesizes the minimal fallback review: a one-line
// summary plus the verbatim pass-1 findings block between the markers.
// Used whenever enrichment fails so findings are never dropped or altered.
func WrapUnenriched(item *core.ReviewItem, rawFindings string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Review: %s\n\n", item.PRTitle)
	b.WriteString("Automated review findings for this pull request are listed below.\n\n")
	b.WriteString(FindingsBegin)
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(rawFindings))
	b.WriteString("\n")
	b.WriteString(FindingsEnd)
	b.WriteString("\n")
	return b.String()
}
