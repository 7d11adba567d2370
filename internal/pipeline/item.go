package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/sevigo/pr-warden/internal/budget"
	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/llm"
	"github.com/sevigo/pr-warden/internal/sanitize"
)

// retryBudgetFactor shrinks the token budget for the single adaptive retry
// after a provider-reported token-limit failure.
const retryBudgetFactor = 0.85

// allExcludedNotice is posted (as a plain comment) when path policy removes
// every file from review, so the PR author knows the bot looked.
const allExcludedNotice = "Automated review skipped: every file in this pull request is excluded " +
	"from review by path policy (generated, vendored, or lock files)."

// criticalSeverityPattern detects critical-severity language in the final
// body to decide between COMMENT and REQUEST_CHANGES.
var criticalSeverityPattern = regexp.MustCompile(`"severity"\s*:\s*"CRITICAL"|\*\*CRITICAL\*\*|\bCRITICAL\b`)

// processItem runs one item through the full decision sequence. Every exit
// is a well-formed result: posted, skipped with a reason, or errored.
func (r *Runner) processItem(ctx context.Context, item *core.ReviewItem, runLog *slog.Logger) *core.ReviewResult {
	res := &core.ReviewResult{Item: item}
	log := runLog.With("repo", item.FullName(), "pr", item.PRNumber)

	// 1. Change detection. Store read failures fail open: an unreachable
	// store must cause a re-review, never a silent skip.
	changed, err := r.store.HasChanged(ctx, item)
	if err != nil {
		log.Warn("change detection read failed, assuming changed", "error", err)
		changed = true
	}
	if !changed {
		return skip(res, core.SkipUnchanged)
	}

	// 2. Duplicate pre-check against the live provider. An error here also
	// fails open; the post-generation re-check closes the race.
	exists, err := r.gh.HasExistingReview(ctx, item.Owner, item.Repo, item.PRNumber, item.HeadCommit)
	if err != nil {
		log.Warn("duplicate pre-check failed, continuing", "kind", core.KindOf(err))
	} else if exists {
		return skip(res, core.SkipAlreadyReviewed)
	}

	// 3. Claim. Losing the claim means another runner owns this item.
	claimed, err := r.store.ClaimReview(ctx, item)
	if err != nil {
		log.Warn("claim attempt failed", "error", err)
		return skip(res, core.SkipClaimFailed)
	}
	if !claimed {
		log.Info("claim lost to a concurrent runner")
		return skip(res, core.SkipClaimFailed)
	}
	// An item that errors after claiming, without a review reaching the
	// provider, gives the claim back so the next run can retry immediately
	// instead of waiting out the claim expiry.
	defer func() {
		if res.Err != nil && !res.Posted {
			if relErr := r.store.ReleaseClaim(ctx, item); relErr != nil {
				log.Warn("failed to release claim", "error", relErr)
			}
		}
	}()

	// 4. Incremental narrowing: review only the files changed since the
	// last finalized head commit, when that set is a strict subset of the
	// PR's files. Any failure here silently falls back to a full review.
	scope, extras := r.narrowScope(ctx, item, log)

	// 5. Path policy. When every file is policy-excluded there is nothing
	// to review; tell the author so instead of staying silent.
	classified := r.classifier.Classify(scope.Files)
	if budget.AllPolicyExcluded(classified) {
		if r.cfg.DryRun {
			log.Info("dry run: would post all-files-excluded notice")
		} else if postErr := r.gh.PostReview(ctx, item.Owner, item.Repo, item.PRNumber, allExcludedNotice, github.EventComment); postErr != nil {
			log.Warn("failed to post exclusion notice", "kind", core.KindOf(postErr))
		}
		return skip(res, core.SkipAllFilesExcluded)
	}
	if n := excludedCount(classified); n > 0 {
		extras.ExclusionBanner = fmt.Sprintf("%d file(s) in this pull request are excluded from review by path policy.", n)
	}

	// 6. Budget admission and generation, with one adaptive retry when the
	// provider contradicts the local estimate.
	out, dec, err := r.generate(ctx, scope, classified, extras, log)
	if err != nil {
		res.Err = err
		return res
	}
	if !dec.Success {
		return skip(res, core.SkipPromptTooLarge)
	}
	recordTokens(res, out)

	if out.Outcome == llm.OutcomeRejected {
		log.Warn("model response unusable, skipping item")
		return skip(res, core.SkipInvalidLLMResponse)
	}

	// 7. Structural validation, for model-authored bodies only. A locally
	// synthesized fallback wrapper is trusted by construction.
	if out.ModelOutput() {
		if vErr := llm.ValidateReviewBody(out.Body); vErr != nil {
			log.Warn("review body failed structural validation", "reason", vErr)
			return skip(res, core.SkipInvalidLLMResponse)
		}
	}

	// 8. Sanitization.
	body, err := r.sanitizeBody(out.Body, log)
	if err != nil {
		res.Err = err
		return res
	}

	// 9. Duplicate re-check, closing the window between the pre-check and
	// now. One retry on error; two failures mean posting is not safe.
	dup, ok := r.recheckDuplicate(ctx, item, log)
	if !ok {
		return skip(res, core.SkipRecheckFailed)
	}
	if dup {
		log.Info("review appeared during generation, discarding ours")
		return skip(res, core.SkipAlreadyReviewedRecheck)
	}

	// 10. Post.
	event := github.EventComment
	if criticalSeverityPattern.MatchString(body) {
		event = github.EventRequestChanges
	}
	if r.cfg.DryRun {
		log.Info("dry run: review not posted",
			"event", event, "outcome", out.Outcome, "body_bytes", len(body))
		res.Posted = true
	} else {
		if postErr := r.gh.PostReview(ctx, item.Owner, item.Repo, item.PRNumber, body, event); postErr != nil {
			res.Err = postErr
			return res
		}
		res.Posted = true
	}

	// 11. Finalize, in dry-run mode too: a successful dry run counts as
	// having handled this head commit, so the next run treats it as
	// unchanged rather than reviewing it again.
	if finErr := r.store.FinalizeReview(ctx, item, res); finErr != nil {
		log.Error("failed to finalize review state", "error", finErr)
		res.Err = fmt.Errorf("review posted but state finalize failed: %w", finErr)
		return res
	}
	if r.cfg.DryRun {
		return res
	}

	log.Info("review posted",
		"event", event,
		"outcome", out.Outcome,
		"truncation_level", dec.Level,
		"cache_hit", out.CacheHit,
		"input_tokens", res.InputTokens,
		"output_tokens", res.OutputTokens,
	)
	return res
}

// narrowScope applies incremental review narrowing. It returns the item to
// review (possibly with a reduced file set) plus the prompt extras carrying
// the incremental banner. Every failure path returns the full item.
func (r *Runner) narrowScope(ctx context.Context, item *core.ReviewItem, log *slog.Logger) (*core.ReviewItem, llm.PromptExtras) {
	var extras llm.PromptExtras
	if r.cfg.ForceFullReview {
		return item, extras
	}

	lastSHA, err := r.store.GetLastReviewedSHA(ctx, item)
	if err != nil || lastSHA == "" || lastSHA == item.HeadCommit {
		return item, extras
	}

	delta, err := r.gh.GetCommitDelta(ctx, item.Owner, item.Repo, lastSHA, item.HeadCommit)
	if err != nil || len(delta) == 0 {
		return item, extras
	}

	byName := make(map[string]core.ChangedFile, len(item.Files))
	for _, f := range item.Files {
		byName[f.Filename] = f
	}

	narrowed := make([]core.ChangedFile, 0, len(delta))
	for _, name := range delta {
		f, ok := byName[name]
		if !ok {
			// The delta mentions a file outside the PR's current file set
			// (force push, rebase); the incremental basis is unreliable.
			return item, extras
		}
		narrowed = append(narrowed, f)
	}
	if len(narrowed) >= len(item.Files) {
		// Not a strict subset; a full review costs the same.
		return item, extras
	}

	log.Info("narrowing review to incremental delta",
		"since", shortSHA(lastSHA), "files", len(narrowed), "of", len(item.Files))

	scoped := *item
	scoped.Files = narrowed
	extras.IncrementalBanner = fmt.Sprintf(
		"This is an incremental review covering only the %d file(s) changed since commit %s.",
		len(narrowed), shortSHA(lastSHA))
	return &scoped, extras
}

// generate admits the diff set against the token budget and runs the
// configured review protocol. A provider token-limit failure triggers
// exactly one retry against a reduced budget; the mismatch between the
// local estimate and the provider's count is logged for calibration.
func (r *Runner) generate(ctx context.Context, item *core.ReviewItem, classified []budget.ClassifiedFile, extras llm.PromptExtras, log *slog.Logger) (*llm.Output, budget.Decision, error) {
	overhead := r.builder.FixedOverheadChars(r.cfg.ReviewMode)

	dec := budget.ProgressiveTruncate(classified, r.cfg.TokenBudget, r.cfg.Model, overhead)
	if !dec.Success {
		log.Warn("diff does not fit the token budget at any truncation level",
			"budget", r.cfg.TokenBudget, "estimate", dec.Estimate.Total)
		return nil, dec, nil
	}
	extras.Disclaimer = dec.Disclaimer

	out, err := r.runProtocol(ctx, item, &dec, extras)
	if err == nil {
		return out, dec, nil
	}
	if core.KindOf(err) != core.ErrKindTokenLimit {
		return nil, dec, err
	}

	// The provider counted more tokens than we estimated. Retry once at a
	// reduced budget; the logged ratio feeds coefficient calibration.
	log.Warn("provider rejected prompt as over limit, retrying with reduced budget",
		"estimated_tokens", dec.Estimate.Total,
		"budget", r.cfg.TokenBudget,
		"retry_budget", int(float64(r.cfg.TokenBudget)*retryBudgetFactor),
		"calibration_ratio", float64(dec.Estimate.Total)/float64(r.cfg.TokenBudget),
	)
	retryDec := budget.ProgressiveTruncate(classified, int(float64(r.cfg.TokenBudget)*retryBudgetFactor), r.cfg.Model, overhead)
	if !retryDec.Success {
		return nil, retryDec, nil
	}
	extras.Disclaimer = retryDec.Disclaimer

	out, err = r.runProtocol(ctx, item, &retryDec, extras)
	if err != nil {
		if core.KindOf(err) == core.ErrKindTokenLimit {
			// Still over after the reduced-budget retry: treat as too large
			// rather than erroring, the item is simply not reviewable today.
			log.Warn("prompt still over provider limit after retry, skipping item")
			return nil, budget.Decision{Level: retryDec.Level}, nil
		}
		return nil, retryDec, err
	}
	return out, retryDec, nil
}

func (r *Runner) runProtocol(ctx context.Context, item *core.ReviewItem, dec *budget.Decision, extras llm.PromptExtras) (*llm.Output, error) {
	if r.cfg.ReviewMode == config.ModeSinglePass {
		return r.engine.SinglePass(ctx, item, dec, extras)
	}
	return r.engine.TwoPass(ctx, item, dec, extras)
}

// sanitizeBody applies the configured sanitizer policy to the final body.
func (r *Runner) sanitizeBody(body string, log *slog.Logger) (string, error) {
	sres := sanitize.Sanitize(body)
	if sres.Safe {
		return body, nil
	}
	if sanitize.Mode(r.cfg.SanitizerMode) == sanitize.ModeStrict {
		log.Error("sanitizer blocked review content", "patterns", sres.RedactedPatterns)
		return "", core.ErrSanitizerBlocked
	}
	log.Warn("sanitizer redacted review content",
		"redactions", len(sres.RedactedPatterns), "patterns", sres.RedactedPatterns)
	return sres.SanitizedContent, nil
}

// recheckDuplicate re-queries the provider for a review at this head commit,
// retrying once on error. ok is false when both attempts failed.
func (r *Runner) recheckDuplicate(ctx context.Context, item *core.ReviewItem, log *slog.Logger) (dup, ok bool) {
	for attempt := 1; attempt <= 2; attempt++ {
		exists, err := r.gh.HasExistingReview(ctx, item.Owner, item.Repo, item.PRNumber, item.HeadCommit)
		if err == nil {
			return exists, true
		}
		log.Warn("duplicate re-check failed", "attempt", attempt, "kind", core.KindOf(err))
	}
	return false, false
}

func recordTokens(res *core.ReviewResult, out *llm.Output) {
	res.Pass1Output = out.RawFindings
	res.Pass1 = out.Pass1
	res.Pass2 = out.Pass2
	if out.Pass1 != nil {
		res.InputTokens += out.Pass1.InputTokens
		res.OutputTokens += out.Pass1.OutputTokens
	}
	if out.Pass2 != nil {
		res.InputTokens += out.Pass2.InputTokens
		res.OutputTokens += out.Pass2.OutputTokens
	}
}

func excludedCount(files []budget.ClassifiedFile) int {
	n := 0
	for _, f := range files {
		if f.Zone == budget.ZoneTier1 {
			n++
		}
	}
	return n
}

func skip(res *core.ReviewResult, reason core.SkipReason) *core.ReviewResult {
	res.Skipped = true
	res.SkipReason = reason
	return res
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
