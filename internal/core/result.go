package core

import "time"

// SkipReason names why an item was passed over without error. Skips are a
// disjoint vocabulary from errors: a skipped item is a correct outcome.
type SkipReason string

const (
	SkipUnchanged              SkipReason = "unchanged"
	SkipAlreadyReviewed        SkipReason = "already_reviewed"
	SkipClaimFailed            SkipReason = "claim_failed"
	SkipAllFilesExcluded       SkipReason = "all_files_excluded"
	SkipPromptTooLarge         SkipReason = "prompt_too_large_after_truncation"
	SkipInvalidLLMResponse     SkipReason = "invalid_llm_response"
	SkipRuntimeLimit           SkipReason = "runtime_limit"
	SkipRepoInaccessible       SkipReason = "repo_inaccessible"
	SkipRecheckFailed          SkipReason = "recheck_failed"
	SkipAlreadyReviewedRecheck SkipReason = "already_reviewed_recheck"
)

// PassMetrics records the token and latency cost of one generation pass.
type PassMetrics struct {
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// ReviewResult is the outcome of processing one item in one run.
type ReviewResult struct {
	Item       *ReviewItem
	Posted     bool
	Skipped    bool
	SkipReason SkipReason
	Err        error

	InputTokens  int
	OutputTokens int

	// Two-pass accounting. Pass1Output carries the raw analytical findings
	// block so a fallback post can be reconstructed from the result alone.
	Pass1Output string
	Pass1       *PassMetrics
	Pass2       *PassMetrics
}

// RunSummary is built once per run invocation and never mutated afterward.
type RunSummary struct {
	RunID         string
	StartTime     time.Time
	EndTime       time.Time
	ReviewedCount int
	SkippedCount  int
	ErrorCount    int
	Results       []*ReviewResult
}

// Add appends a result and bumps the matching counter.
func (s *RunSummary) Add(r *ReviewResult) {
	s.Results = append(s.Results, r)
	switch {
	case r.Err != nil:
		s.ErrorCount++
	case r.Skipped:
		s.SkippedCount++
	case r.Posted:
		s.ReviewedCount++
	}
}
