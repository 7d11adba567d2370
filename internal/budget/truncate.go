package budget

import (
	"fmt"
	"strings"

	"github.com/sevigo/pr-warden/internal/core"
)

// oversizeDiffBytes caps any single file's diff contribution. One runaway
// generated file must not starve the rest of the budget.
const oversizeDiffBytes = 50 * 1024

// budgetHeadroom reserves a share of the nominal budget for estimation
// error: levels succeed only when the estimate fits 90% of the budget.
const budgetHeadroom = 0.9

// maxLevel is the most aggressive truncation level.
const maxLevel = 3

// contextLinesAtLevel maps a truncation level to per-hunk context lines.
var contextLinesAtLevel = map[int]int{0: 3, 1: 1, 2: 0, 3: 0}

// RenderedFile is a file's contribution to the user prompt after truncation.
type RenderedFile struct {
	Filename  string
	Body      string
	StatsOnly bool
}

// FileStat identifies a file excluded from the prompt body.
type FileStat struct {
	Filename  string
	Status    core.FileStatus
	Additions int
	Deletions int
}

// Estimate breaks the token estimate into its prompt parts.
type Estimate struct {
	System int
	User   int
	Total  int
}

// Decision is the outcome of one truncation attempt. Produced fresh per
// attempt and never persisted.
type Decision struct {
	Level      int
	Included   []RenderedFile
	Excluded   []FileStat
	Disclaimer string
	Estimate   Estimate
	Success    bool
}

// AllPolicyExcluded reports whether every file in the set is removed from
// review by the framework-path policy (Tier 1).
func AllPolicyExcluded(files []ClassifiedFile) bool {
	if len(files) == 0 {
		return false
	}
	for _, f := range files {
		if f.Zone != ZoneTier1 {
			return false
		}
	}
	return true
}

// ProgressiveTruncate shrinks the classified diff set until its estimated
// prompt size fits within 90% of budgetTokens, escalating through levels:
//
//	0: full diffs for all included files
//	1: per-hunk context reduced to 1 line
//	2: per-hunk context reduced to 0 lines
//	3: drop lowest-priority files to stats-only entries until it fits
//
// files must already be in classification priority order (see Classify).
// If no level fits, Success is false and the caller must skip the item —
// an over-budget prompt is never sent.
func ProgressiveTruncate(files []ClassifiedFile, budgetTokens int, model string, fixedOverheadChars int) Decision {
	target := int(float64(budgetTokens) * budgetHeadroom)
	systemTokens := EstimateTokens(strings.Repeat("x", fixedOverheadChars), model)

	for level := 0; level <= maxLevel; level++ {
		included, excluded := renderAtLevel(files, level)

		if level == maxLevel {
			// Drop from the tail (lowest priority) until the estimate fits
			// or nothing droppable remains.
			for {
				est := estimateDecision(included, model, systemTokens)
				if est.Total <= target || len(included) == 0 {
					break
				}
				last := included[len(included)-1]
				included = included[:len(included)-1]
				excluded = append(excluded, statForRendered(files, last.Filename))
			}
		}

		est := estimateDecision(included, model, systemTokens)
		if est.Total <= target {
			return Decision{
				Level:      level,
				Included:   included,
				Excluded:   excluded,
				Disclaimer: disclaimerFor(level, len(excluded)),
				Estimate:   est,
				Success:    true,
			}
		}
	}

	included, excluded := renderAtLevel(files, maxLevel)
	return Decision{
		Level:    maxLevel,
		Included: nil,
		Excluded: append(excluded, statsForAll(included, files)...),
		Estimate: estimateDecision(nil, model, systemTokens),
		Success:  false,
	}
}

// renderAtLevel produces the per-file prompt bodies for a truncation level.
// Zone policy applies at every level: Tier 1 files are excluded outright,
// Tier 2 files contribute only their first hunk, exempt files pass through
// untouched.
func renderAtLevel(files []ClassifiedFile, level int) ([]RenderedFile, []FileStat) {
	var included []RenderedFile
	var excluded []FileStat

	for _, f := range files {
		switch f.Zone {
		case ZoneTier1:
			excluded = append(excluded, statFor(f))
			continue
		case ZoneExempt:
			included = append(included, RenderedFile{Filename: f.Filename, Body: f.Patch})
			continue
		}

		body := f.Patch
		if f.Zone == ZoneTier2 {
			body = firstHunk(body)
		}
		if len(body) > oversizeDiffBytes {
			body = hunkSummary(body)
		} else if ctx := contextLinesAtLevel[level]; ctx < 3 {
			body = reduceHunkContext(body, ctx)
		}

		if body == "" {
			included = append(included, RenderedFile{
				Filename:  f.Filename,
				Body:      statLine(f),
				StatsOnly: true,
			})
			continue
		}
		included = append(included, RenderedFile{Filename: f.Filename, Body: body})
	}
	return included, excluded
}

func estimateDecision(included []RenderedFile, model string, systemTokens int) Estimate {
	var b strings.Builder
	for _, f := range included {
		b.WriteString(f.Filename)
		b.WriteString("\n")
		b.WriteString(f.Body)
		b.WriteString("\n")
	}
	user := EstimateTokens(b.String(), model)
	return Estimate{System: systemTokens, User: user, Total: systemTokens + user}
}

func statFor(f ClassifiedFile) FileStat {
	return FileStat{
		Filename:  f.Filename,
		Status:    f.Status,
		Additions: f.Additions,
		Deletions: f.Deletions,
	}
}

func statLine(f ClassifiedFile) string {
	return fmt.Sprintf("(stats only) %s: %s, +%d/-%d", f.Filename, f.Status, f.Additions, f.Deletions)
}

// statForRendered looks a rendered file back up in the classified set so a
// dropped file keeps its real stats in the exclusion list.
func statForRendered(files []ClassifiedFile, filename string) FileStat {
	for _, f := range files {
		if f.Filename == filename {
			return statFor(f)
		}
	}
	return FileStat{Filename: filename}
}

func statsForAll(included []RenderedFile, files []ClassifiedFile) []FileStat {
	out := make([]FileStat, 0, len(included))
	for _, r := range included {
		out = append(out, statForRendered(files, r.Filename))
	}
	return out
}

func disclaimerFor(level, excludedCount int) string {
	switch {
	case level == 0 && excludedCount == 0:
		return ""
	case level == 0:
		return fmt.Sprintf("Note: %d file(s) were excluded from this review by path policy.", excludedCount)
	case level < maxLevel:
		return fmt.Sprintf("Note: diff context was reduced (truncation level %d) to fit the review budget.", level)
	default:
		return fmt.Sprintf("Note: %d file(s) were omitted and diff context reduced (truncation level %d) to fit the review budget.", excludedCount, level)
	}
}

// firstHunk returns the first diff hunk of a patch, header included.
func firstHunk(patch string) string {
	first := strings.Index(patch, "@@")
	if first < 0 {
		return patch
	}
	rest := patch[first+2:]
	// Skip past the closing "@@" of the first hunk header.
	end := strings.Index(rest, "@@")
	if end < 0 {
		return patch
	}
	next := strings.Index(rest[end+2:], "\n@@")
	if next < 0 {
		return patch
	}
	return patch[:first+2+end+2+next]
}

// hunkSummary caps an oversized patch to its first hunk, itself bounded, so
// the reviewer still sees the shape of the change.
func hunkSummary(patch string) string {
	h := firstHunk(patch)
	const summaryLimit = 2048
	if len(h) > summaryLimit {
		h = h[:summaryLimit]
	}
	return h + "\n... (diff truncated: file exceeds the per-file size cap)"
}

// reduceHunkContext rewrites a unified diff keeping only keep context lines
// around each run of +/- lines. Hunk headers are preserved as-is; their
// line counts go stale, which is acceptable for prompt consumption.
func reduceHunkContext(patch string, keep int) string {
	lines := strings.Split(patch, "\n")
	changed := make([]bool, len(lines))
	header := make([]bool, len(lines))

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "@@"):
			header[i] = true
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"),
			strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			changed[i] = true
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"),
			strings.HasPrefix(line, "diff "), strings.HasPrefix(line, "index "):
			header[i] = true
		}
	}

	var out []string
	for i, line := range lines {
		if header[i] || changed[i] {
			out = append(out, line)
			continue
		}
		near := false
		for d := 1; d <= keep; d++ {
			if i-d >= 0 && changed[i-d] {
				near = true
				break
			}
			if i+d < len(lines) && changed[i+d] {
				near = true
				break
			}
		}
		if near {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
