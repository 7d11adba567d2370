// Package pipeline implements the per-run review orchestrator: preflight,
// work-item resolution, the per-item decision sequence, and the run
// summary. Processing is strictly sequential within a run; the only
// concurrency defended against is other runner processes racing on the
// same pull requests.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sevigo/pr-warden/internal/budget"
	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/llm"
	"github.com/sevigo/pr-warden/internal/store"
)

// Runner executes one review run end to end.
type Runner struct {
	cfg        *config.Config
	gh         github.Client
	store      store.ContextStore
	engine     *llm.Engine
	builder    *llm.Builder
	classifier *budget.Classifier
	logger     *slog.Logger

	// now is swappable for tests exercising the runtime ceiling.
	now func() time.Time
}

// NewRunner wires a Runner from its ports.
func NewRunner(
	cfg *config.Config,
	gh github.Client,
	ctxStore store.ContextStore,
	engine *llm.Engine,
	builder *llm.Builder,
	classifier *budget.Classifier,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		cfg:        cfg,
		gh:         gh,
		store:      ctxStore,
		engine:     engine,
		builder:    builder,
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes one full review run and always returns a summary: item-level
// failures become result errors, and run-level preflight failures end the
// run early with an empty or partial summary. Run never panics the caller
// out of a campaign.
func (r *Runner) Run(ctx context.Context) *core.RunSummary {
	summary := &core.RunSummary{
		RunID:     ulid.Make().String(),
		StartTime: r.now(),
	}
	defer func() { summary.EndTime = r.now() }()

	log := r.logger.With("run_id", summary.RunID)
	log.Info("starting review run",
		"repos", len(r.cfg.Repos),
		"mode", r.cfg.ReviewMode,
		"dry_run", r.cfg.DryRun,
	)

	remaining, err := r.gh.Preflight(ctx)
	if err != nil {
		log.Error("quota preflight failed, ending run", "kind", core.KindOf(err))
		return summary
	}
	if remaining < r.cfg.QuotaFloor {
		log.Warn("remaining API quota below safety floor, ending run",
			"remaining", remaining, "floor", r.cfg.QuotaFloor)
		return summary
	}

	accessible := r.accessibleRepos(ctx, summary, log)
	if len(accessible) == 0 {
		log.Warn("no accessible repositories, ending run")
		return summary
	}

	items := r.resolveItems(ctx, accessible, summary, log)
	log.Info("resolved work items", "count", len(items))

	deadline := summary.StartTime.Add(r.cfg.MaxRuntime)
	for i, item := range items {
		if r.cfg.MaxRuntime > 0 && r.now().After(deadline) {
			log.Warn("run-time ceiling exceeded, skipping remaining items",
				"remaining", len(items)-i)
			for _, rest := range items[i:] {
				summary.Add(&core.ReviewResult{
					Item:       rest,
					Skipped:    true,
					SkipReason: core.SkipRuntimeLimit,
				})
			}
			break
		}
		summary.Add(r.processItem(ctx, item, log))
	}

	log.Info("review run finished",
		"reviewed", summary.ReviewedCount,
		"skipped", summary.SkippedCount,
		"errors", summary.ErrorCount,
	)
	return summary
}

// accessibleRepos preflights every configured repo and records a skip
// result for each inaccessible one.
func (r *Runner) accessibleRepos(ctx context.Context, summary *core.RunSummary, log *slog.Logger) []string {
	var accessible []string
	for _, slug := range r.cfg.Repos {
		owner, name, err := config.SplitRepo(slug)
		if err != nil {
			log.Error("invalid repository slug", "repo", slug)
			continue
		}
		if err := r.gh.PreflightRepo(ctx, owner, name); err != nil {
			log.Warn("repository inaccessible", "repo", slug, "kind", core.KindOf(err))
			summary.Add(&core.ReviewResult{
				Item:       &core.ReviewItem{Owner: owner, Repo: name},
				Skipped:    true,
				SkipReason: core.SkipRepoInaccessible,
			})
			continue
		}
		accessible = append(accessible, slug)
	}
	return accessible
}

// resolveItems lists open PRs per accessible repo (bounded, optionally
// filtered to a single PR), fetches files, and builds review items.
// Resolution failures are recorded as item-level errors, never aborting
// the run.
func (r *Runner) resolveItems(ctx context.Context, repos []string, summary *core.RunSummary, log *slog.Logger) []*core.ReviewItem {
	var items []*core.ReviewItem
	for _, slug := range repos {
		owner, name, _ := config.SplitRepo(slug)

		prs, err := r.gh.ListOpenPRs(ctx, owner, name, r.cfg.MaxPRsPerRepo)
		if err != nil {
			log.Error("failed to list open pull requests", "repo", slug, "kind", core.KindOf(err))
			summary.Add(&core.ReviewResult{
				Item: &core.ReviewItem{Owner: owner, Repo: name},
				Err:  err,
			})
			continue
		}

		for _, pr := range prs {
			if r.cfg.PRFilter > 0 && pr.Number != r.cfg.PRFilter {
				continue
			}
			files, err := r.gh.GetPRFiles(ctx, owner, name, pr.Number)
			if err != nil {
				log.Error("failed to fetch pull request files",
					"repo", slug, "pr", pr.Number, "kind", core.KindOf(err))
				summary.Add(&core.ReviewResult{
					Item: &core.ReviewItem{Owner: owner, Repo: name, PRNumber: pr.Number},
					Err:  err,
				})
				continue
			}
			items = append(items, &core.ReviewItem{
				Owner:      owner,
				Repo:       name,
				PRNumber:   pr.Number,
				PRTitle:    pr.Title,
				Author:     pr.Author,
				BaseBranch: pr.BaseBranch,
				HeadCommit: pr.HeadSHA,
				Labels:     pr.Labels,
				Files:      files,
			})
		}
	}
	return items
}
