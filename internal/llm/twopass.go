package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/sevigo/pr-warden/internal/budget"
	"github.com/sevigo/pr-warden/internal/cache"
	"github.com/sevigo/pr-warden/internal/core"
)

// Outcome names the terminal state of the review protocol for one item.
type Outcome string

const (
	// OutcomeEnriched: pass 1 and pass 2 both succeeded and the preservation
	// check passed.
	OutcomeEnriched Outcome = "enriched"
	// OutcomeFallbackUnenriched: enrichment failed in some way; the posted
	// body wraps the pass-1 findings verbatim.
	OutcomeFallbackUnenriched Outcome = "fallback_unenriched"
	// OutcomePass1AsReview: findings extraction failed but the pass-1 body
	// is independently a valid review and is used directly.
	OutcomePass1AsReview Outcome = "pass1_as_review"
	// OutcomeRejected: pass 1 produced neither a findings block nor a valid
	// review; the item must be skipped as invalid_llm_response.
	OutcomeRejected Outcome = "rejected"
	// OutcomeSinglePass: one-shot mode.
	OutcomeSinglePass Outcome = "single_pass"
)

// Output is the protocol's result for one item.
type Output struct {
	Body        string
	Outcome     Outcome
	RawFindings string
	Findings    []core.Finding
	Pass1       *core.PassMetrics
	Pass2       *core.PassMetrics
	CacheHit    bool
}

// ModelOutput reports whether Body came from the model (and therefore still
// needs structural validation) rather than being synthesized locally.
func (o *Output) ModelOutput() bool {
	return o.Outcome != OutcomeFallbackUnenriched
}

// Engine runs the single-pass and two-pass review protocols over one item.
type Engine struct {
	gen             Generator
	builder         *Builder
	cache           cache.ResultCache
	maxOutputTokens int
	logger          *slog.Logger
}

// NewEngine creates a review protocol engine.
func NewEngine(gen Generator, builder *Builder, resultCache cache.ResultCache, maxOutputTokens int, logger *slog.Logger) *Engine {
	return &Engine{
		gen:             gen,
		builder:         builder,
		cache:           resultCache,
		maxOutputTokens: maxOutputTokens,
		logger:          logger,
	}
}

// SinglePass builds one prompt pair and makes one model call. The caller
// validates and sanitizes the body.
func (e *Engine) SinglePass(ctx context.Context, item *core.ReviewItem, dec *budget.Decision, extras PromptExtras) (*Output, error) {
	prompts, err := e.builder.SinglePass(item, dec, extras)
	if err != nil {
		return nil, err
	}

	res, dur, err := e.generate(ctx, prompts)
	if err != nil {
		return nil, err
	}

	return &Output{
		Body:    res.Content,
		Outcome: OutcomeSinglePass,
		Pass1: &core.PassMetrics{
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
			Duration:     dur,
		},
	}, nil
}

// TwoPass runs the convergence/enrichment state machine:
//
//	CONVERGENCE -> ENRICHMENT -> DONE
//	            -> PASS1_AS_REVIEW -> DONE
//	            -> REJECTED
//	ENRICHMENT (any failure) -> FALLBACK_UNENRICHED -> DONE
//
// A pass-1 provider error is returned to the caller (it owns retry policy);
// every enrichment failure is absorbed into the unenriched fallback so
// findings are never dropped or altered.
func (e *Engine) TwoPass(ctx context.Context, item *core.ReviewItem, dec *budget.Decision, extras PromptExtras) (*Output, error) {
	raw, findings, pass1Metrics, pass1Body, cacheHit, err := e.converge(ctx, item, dec, extras)
	if err != nil {
		return nil, err
	}

	if raw == "" {
		// Extraction failed. Use the pass-1 body directly when it stands on
		// its own as a review; otherwise the response is unusable.
		if vErr := ValidateReviewBody(pass1Body); vErr == nil {
			e.logger.Info("findings extraction failed, using pass-1 body as review",
				"repo", item.FullName(), "pr", item.PRNumber)
			return &Output{
				Body:    pass1Body,
				Outcome: OutcomePass1AsReview,
				Pass1:   pass1Metrics,
			}, nil
		}
		return &Output{Outcome: OutcomeRejected, Pass1: pass1Metrics}, nil
	}

	fallback := &Output{
		Body:        WrapUnenriched(item, raw),
		Outcome:     OutcomeFallbackUnenriched,
		RawFindings: raw,
		Findings:    findings,
		Pass1:       pass1Metrics,
		CacheHit:    cacheHit,
	}

	prompts, err := e.builder.Enrichment(item, raw)
	if err != nil {
		e.logger.Warn("enrichment prompt render failed, posting unenriched findings",
			"repo", item.FullName(), "pr", item.PRNumber, "error", err)
		return fallback, nil
	}

	res, dur, err := e.generate(ctx, prompts)
	if err != nil {
		e.logger.Warn("enrichment pass failed, posting unenriched findings",
			"repo", item.FullName(), "pr", item.PRNumber, "kind", core.KindOf(err))
		return fallback, nil
	}

	if vErr := ValidateReviewBody(res.Content); vErr != nil {
		e.logger.Warn("enrichment response structurally invalid, posting unenriched findings",
			"repo", item.FullName(), "pr", item.PRNumber, "reason", vErr)
		return fallback, nil
	}

	_, pass2Findings, exErr := ExtractFindingsBlock(res.Content)
	if exErr != nil {
		e.logger.Warn("enrichment response lost the findings block, posting unenriched findings",
			"repo", item.FullName(), "pr", item.PRNumber, "reason", exErr)
		return fallback, nil
	}
	if pErr := CheckPreservation(findings, pass2Findings); pErr != nil {
		e.logger.Warn("enrichment violated finding preservation, posting unenriched findings",
			"repo", item.FullName(), "pr", item.PRNumber, "reason", pErr)
		return fallback, nil
	}

	return &Output{
		Body:        res.Content,
		Outcome:     OutcomeEnriched,
		RawFindings: raw,
		Findings:    findings,
		Pass1:       pass1Metrics,
		Pass2: &core.PassMetrics{
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
			Duration:     dur,
		},
		CacheHit: cacheHit,
	}, nil
}

// converge produces the pass-1 findings, serving from the advisory cache
// when the (head commit, truncation level, template) key matches. Returns
// raw == "" when extraction failed; pass1Body then carries the raw model
// response for the PASS1_AS_REVIEW check.
func (e *Engine) converge(ctx context.Context, item *core.ReviewItem, dec *budget.Decision, extras PromptExtras) (raw string, findings []core.Finding, metrics *core.PassMetrics, pass1Body string, cacheHit bool, err error) {
	key := cache.ComputeKey(item.HeadCommit, dec.Level, e.builder.TemplateHash())
	if rec := e.cache.Get(ctx, key); rec != nil {
		e.logger.Debug("pass-1 cache hit",
			"repo", item.FullName(), "pr", item.PRNumber, "hits", rec.HitCount)
		return rec.RawFindings, rec.Findings, &core.PassMetrics{
			InputTokens:  rec.InputTokens,
			OutputTokens: rec.OutputTokens,
		}, "", true, nil
	}

	prompts, err := e.builder.Convergence(item, dec, extras)
	if err != nil {
		return "", nil, nil, "", false, err
	}

	res, dur, err := e.generate(ctx, prompts)
	if err != nil {
		return "", nil, nil, "", false, err
	}
	metrics = &core.PassMetrics{
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		Duration:     dur,
	}

	raw, findings, exErr := ExtractFindingsBlock(res.Content)
	if exErr != nil {
		e.logger.Warn("pass-1 findings extraction failed",
			"repo", item.FullName(), "pr", item.PRNumber, "reason", exErr)
		return "", nil, metrics, res.Content, false, nil
	}

	e.cache.Set(ctx, key, &cache.Record{
		RawFindings:  raw,
		Findings:     findings,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		CreatedAt:    time.Now(),
	})
	return raw, findings, metrics, res.Content, false, nil
}

func (e *Engine) generate(ctx context.Context, prompts *Prompts) (*GenerateResult, time.Duration, error) {
	start := time.Now()
	res, err := e.gen.GenerateReview(ctx, GenerateRequest{
		SystemPrompt:    prompts.System,
		UserPrompt:      prompts.User,
		MaxOutputTokens: e.maxOutputTokens,
	})
	return res, time.Since(start), err
}
