package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/pr-warden/internal/budget"
	"github.com/sevigo/pr-warden/internal/cache"
	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/llm"
	"github.com/sevigo/pr-warden/internal/store"
)

// ---- fakes ----

type postedReview struct {
	Repo   string
	Number int
	Body   string
	Event  github.ReviewEvent
}

type existingAnswer struct {
	exists bool
	err    error
}

type fakeGitHub struct {
	prs       []github.PRSummary
	files     map[int][]core.ChangedFile
	delta     []string
	deltaErr  error
	deltaCall int

	preflight    int
	preflightErr error
	repoErr      error

	existing []existingAnswer
	existIdx int

	posted  []postedReview
	postErr error
}

func (f *fakeGitHub) ListOpenPRs(_ context.Context, _, _ string, _ int) ([]github.PRSummary, error) {
	return f.prs, nil
}

func (f *fakeGitHub) GetPRFiles(_ context.Context, _, _ string, number int) ([]core.ChangedFile, error) {
	return f.files[number], nil
}

func (f *fakeGitHub) GetCommitDelta(_ context.Context, _, _, _, _ string) ([]string, error) {
	f.deltaCall++
	return f.delta, f.deltaErr
}

func (f *fakeGitHub) Preflight(_ context.Context) (int, error) {
	if f.preflightErr != nil {
		return 0, f.preflightErr
	}
	if f.preflight == 0 {
		return 5000, nil
	}
	return f.preflight, nil
}

func (f *fakeGitHub) PreflightRepo(_ context.Context, _, _ string) error {
	return f.repoErr
}

func (f *fakeGitHub) HasExistingReview(_ context.Context, _, _ string, _ int, _ string) (bool, error) {
	if f.existIdx < len(f.existing) {
		ans := f.existing[f.existIdx]
		f.existIdx++
		return ans.exists, ans.err
	}
	return false, nil
}

func (f *fakeGitHub) PostReview(_ context.Context, owner, repo string, number int, body string, event github.ReviewEvent) error {
	if f.postErr != nil {
		return f.postErr
	}
	f.posted = append(f.posted, postedReview{Repo: owner + "/" + repo, Number: number, Body: body, Event: event})
	return nil
}

type fakeStore struct {
	changed    bool
	changedErr error
	claimOK    bool
	claimErr   error
	lastSHA    string
	lastSHAErr error

	claims    int
	released  int
	finalized []*core.ReviewResult
	finErr    error
}

func (s *fakeStore) HasChanged(_ context.Context, _ *core.ReviewItem) (bool, error) {
	return s.changed, s.changedErr
}

func (s *fakeStore) ClaimReview(_ context.Context, _ *core.ReviewItem) (bool, error) {
	s.claims++
	return s.claimOK, s.claimErr
}

func (s *fakeStore) ReleaseClaim(_ context.Context, _ *core.ReviewItem) error {
	s.released++
	return nil
}

func (s *fakeStore) FinalizeReview(_ context.Context, _ *core.ReviewItem, result *core.ReviewResult) error {
	if s.finErr != nil {
		return s.finErr
	}
	s.finalized = append(s.finalized, result)
	return nil
}

func (s *fakeStore) GetLastReviewedSHA(_ context.Context, _ *core.ReviewItem) (string, error) {
	return s.lastSHA, s.lastSHAErr
}

type scriptedGenerator struct {
	responses []*llm.GenerateResult
	errs      []error
	requests  []llm.GenerateRequest
}

func (g *scriptedGenerator) GenerateReview(_ context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	i := len(g.requests)
	g.requests = append(g.requests, req)
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	return nil, errors.New("unexpected generator call")
}

type noopCache struct{}

func (noopCache) Get(_ context.Context, _ string) *cache.Record    { return nil }
func (noopCache) Set(_ context.Context, _ string, _ *cache.Record) {}
func (noopCache) Clear(_ context.Context)                          {}

// ---- scaffolding ----

const pass1Block = `[{"id":"F1","title":"No backoff","severity":"HIGH","category":"reliability","file":"client.go","description":"The retry loop has no backoff."}]`

func pass1Response(block string) *llm.GenerateResult {
	return &llm.GenerateResult{
		Content:      "analysis\n" + llm.FindingsBegin + "\n" + block + "\n" + llm.FindingsEnd,
		InputTokens:  1000,
		OutputTokens: 200,
	}
}

func enrichedResponse(block string) *llm.GenerateResult {
	return &llm.GenerateResult{
		Content: "## Review Summary\n\n" +
			"Solid change overall; the retry addition closes the gap we saw in production incidents, " +
			"and the structure of the new client wrapper is easy to follow and well named throughout.\n\n" +
			"## Findings\n\nThe retry loop needs exponential backoff before this merges.\n\n" +
			llm.FindingsBegin + "\n" + block + "\n" + llm.FindingsEnd + "\n",
		InputTokens:  800,
		OutputTokens: 400,
	}
}

func happyGenerator() *scriptedGenerator {
	return &scriptedGenerator{responses: []*llm.GenerateResult{
		pass1Response(pass1Block), enrichedResponse(pass1Block),
	}}
}

func testConfig() *config.Config {
	return &config.Config{
		Repos:           []string{"sevigo/demo"},
		MaxPRsPerRepo:   10,
		MaxRuntime:      time.Hour,
		Model:           "claude-sonnet-4-5",
		TokenBudget:     150000,
		MaxOutputTokens: 4096,
		SanitizerMode:   "strict",
		ReviewMode:      config.ModeTwoPass,
		QuotaFloor:      100,
	}
}

func openPR(gh *fakeGitHub) {
	gh.prs = []github.PRSummary{{
		Number: 42, Title: "Add retry logic", Author: "octocat", BaseBranch: "main", HeadSHA: "abc123def456",
	}}
	gh.files = map[int][]core.ChangedFile{42: {
		{Filename: "client.go", Status: core.FileModified, Additions: 20, Deletions: 4, Patch: "@@ -1,4 +1,4 @@\n+retry := backoff.New()\n context\n"},
	}}
}

func newTestRunner(t *testing.T, cfg *config.Config, gh github.Client, st store.ContextStore, gen llm.Generator) *Runner {
	t.Helper()
	return newTestRunnerWithLogger(t, cfg, gh, st, gen, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestRunnerWithLogger(t *testing.T, cfg *config.Config, gh github.Client, st store.ContextStore, gen llm.Generator, logger *slog.Logger) *Runner {
	t.Helper()
	builder, err := llm.NewBuilder()
	require.NoError(t, err)
	engine := llm.NewEngine(gen, builder, noopCache{}, cfg.MaxOutputTokens, logger)
	classifier := budget.NewClassifier(config.DefaultPolicy().ZoneRules())
	return NewRunner(cfg, gh, st, engine, builder, classifier, logger)
}

func changedStore() *fakeStore {
	return &fakeStore{changed: true, claimOK: true}
}

// ---- tests ----

func TestRunPostsReviewAndFinalizes(t *testing.T) {
	gh := &fakeGitHub{}
	openPR(gh)
	st := changedStore()
	runner := newTestRunner(t, testConfig(), gh, st, happyGenerator())

	summary := runner.Run(context.Background())

	assert.Equal(t, 1, summary.ReviewedCount)
	assert.Equal(t, 0, summary.SkippedCount)
	assert.Equal(t, 0, summary.ErrorCount)
	require.Len(t, gh.posted, 1)
	assert.Equal(t, "sevigo/demo", gh.posted[0].Repo)
	assert.Equal(t, 42, gh.posted[0].Number)
	require.Len(t, st.finalized, 1)
	assert.True(t, st.finalized[0].Posted)
	assert.NotEmpty(t, summary.RunID)
	assert.False(t, summary.EndTime.Before(summary.StartTime))
}

func TestRunCriticalFindingRequestsChanges(t *testing.T) {
	critical := `[{"id":"F1","title":"SQL injection","severity":"CRITICAL","category":"security","file":"db.go","description":"Raw string concat into the query."}]`
	gen := &scriptedGenerator{responses: []*llm.GenerateResult{
		pass1Response(critical), enrichedResponse(critical),
	}}
	gh := &fakeGitHub{}
	openPR(gh)
	runner := newTestRunner(t, testConfig(), gh, changedStore(), gen)

	runner.Run(context.Background())

	require.Len(t, gh.posted, 1)
	assert.Equal(t, github.EventRequestChanges, gh.posted[0].Event)
}

func TestRunSkipsUnchangedItem(t *testing.T) {
	gh := &fakeGitHub{}
	openPR(gh)
	st := &fakeStore{changed: false, claimOK: true}
	runner := newTestRunner(t, testConfig(), gh, st, &scriptedGenerator{})

	summary := runner.Run(context.Background())

	assert.Equal(t, 1, summary.SkippedCount)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.SkipUnchanged, summary.Results[0].SkipReason)
	assert.Empty(t, gh.posted)
	assert.Equal(t, 0, st.claims, "unchanged items must not be claimed")
}

func TestRunStoreReadFailureFailsOpen(t *testing.T) {
	gh := &fakeGitHub{}
	openPR(gh)
	st := &fakeStore{changedErr: errors.New("store down"), claimOK: true}
	runner := newTestRunner(t, testConfig(), gh, st, happyGenerator())

	summary := runner.Run(context.Background())

	assert.Equal(t, 1, summary.ReviewedCount, "a flaky store must cause a re-review, not a skip")
}

func TestRunSkipsAlreadyReviewed(t *testing.T) {
	gh := &fakeGitHub{existing: []existingAnswer{{exists: true}}}
	openPR(gh)
	runner := newTestRunner(t, testConfig(), gh, changedStore(), &scriptedGenerator{})

	summary := runner.Run(context.Background())

	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.SkipAlreadyReviewed, summary.Results[0].SkipReason)
	assert.Empty(t, gh.posted)
}

func TestRunSkipsWhenClaimLost(t *testing.T) {
	gh := &fakeGitHub{}
	openPR(gh)
	st := &fakeStore{changed: true, claimOK: false}
	runner := newTestRunner(t, testConfig(), gh, st, &scriptedGenerator{})

	summary := runner.Run(context.Background())

	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.SkipClaimFailed, summary.Results[0].SkipReason)
}

func TestRunAllFilesExcludedPostsNotice(t *testing.T) {
	gh := &fakeGitHub{}
	openPR(gh)
	gh.files[42] = []core.ChangedFile{
		{Filename: "vendor/dep/a.go", Status: core.FileModified, Patch: "+x"},
		{Filename: "go.sum", Status: core.FileModified, Patch: "+y"},
	}
	runner := newTestRunner(t, testConfig(), gh, changedStore(), &scriptedGenerator{})

	summary := runner.Run(context.Background())

	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.SkipAllFilesExcluded, summary.Results[0].SkipReason)
	require.Len(t, gh.posted, 1, "the author must get a neutral notice")
	assert.Equal(t, github.EventComment, gh.posted[0].Event)
	assert.Contains(t, gh.posted[0].Body, "excluded")
}

func TestRunDryRunPostsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	gh := &fakeGitHub{}
	openPR(gh)
	st := changedStore()
	runner := newTestRunner(t, cfg, gh, st, happyGenerator())

	summary := runner.Run(context.Background())

	assert.Equal(t, 1, summary.ReviewedCount)
	assert.Empty(t, gh.posted, "dry run must not post")
	require.Len(t, st.finalized, 1, "a successful dry run still finalizes")
	assert.True(t, st.finalized[0].Posted)
}

func TestRunDryRunSuppressesRepeatOnNextRun(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	gh := &fakeGitHub{}
	openPR(gh)
	shared := store.NewMemoryStore()

	first := newTestRunner(t, cfg, gh, shared, happyGenerator()).Run(context.Background())
	assert.Equal(t, 1, first.ReviewedCount)

	second := newTestRunner(t, testConfig(), gh, shared, happyGenerator()).Run(context.Background())

	require.Len(t, second.Results, 1)
	assert.Equal(t, core.SkipUnchanged, second.Results[0].SkipReason)
	assert.Empty(t, gh.posted, "a head commit handled by a dry run is not re-reviewed")
}

func TestRunRecheckDetectsConcurrentReview(t *testing.T) {
	gh := &fakeGitHub{existing: []existingAnswer{
		{exists: false}, // pre-check
		{exists: true},  // re-check after generation
	}}
	openPR(gh)
	runner := newTestRunner(t, testConfig(), gh, changedStore(), happyGenerator())

	summary := runner.Run(context.Background())

	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.SkipAlreadyReviewedRecheck, summary.Results[0].SkipReason)
	assert.Empty(t, gh.posted, "a duplicate must never be posted")
}

func TestRunRecheckFailureBlocksPosting(t *testing.T) {
	boom := errors.New("api down")
	gh := &fakeGitHub{existing: []existingAnswer{
		{exists: false},
		{err: boom},
		{err: boom},
	}}
	openPR(gh)
	runner := newTestRunner(t, testConfig(), gh, changedStore(), happyGenerator())

	summary := runner.Run(context.Background())

	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.SkipRecheckFailed, summary.Results[0].SkipReason)
	assert.Empty(t, gh.posted)
}

func TestRunRecheckRecoversAfterOneFailure(t *testing.T) {
	gh := &fakeGitHub{existing: []existingAnswer{
		{exists: false},
		{err: errors.New("blip")},
		{exists: false},
	}}
	openPR(gh)
	runner := newTestRunner(t, testConfig(), gh, changedStore(), happyGenerator())

	summary := runner.Run(context.Background())

	assert.Equal(t, 1, summary.ReviewedCount)
	require.Len(t, gh.posted, 1)
}

func TestRunGeneratorErrorBecomesResultError(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{
		core.NewProviderError("llm", core.ErrKindRateLimited, errors.New("429")),
	}}
	gh := &fakeGitHub{}
	openPR(gh)
	runner := newTestRunner(t, testConfig(), gh, changedStore(), gen)

	summary := runner.Run(context.Background())

	assert.Equal(t, 1, summary.ErrorCount)
	require.Len(t, summary.Results, 1)
	assert.Error(t, summary.Results[0].Err)
	assert.Empty(t, gh.posted)
}

func TestRunGeneratorErrorReleasesClaim(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{
		core.NewProviderError("llm", core.ErrKindNetwork, errors.New("connection reset")),
	}}
	gh := &fakeGitHub{}
	openPR(gh)
	st := changedStore()
	runner := newTestRunner(t, testConfig(), gh, st, gen)

	runner.Run(context.Background())

	assert.Equal(t, 1, st.claims)
	assert.Equal(t, 1, st.released, "an errored item must give its claim back")
	assert.Empty(t, st.finalized)
}

func TestRunTransientErrorDoesNotWedgeItem(t *testing.T) {
	gh := &fakeGitHub{}
	openPR(gh)
	shared := store.NewMemoryStore()

	flaky := &scriptedGenerator{errs: []error{
		core.NewProviderError("llm", core.ErrKindNetwork, errors.New("connection reset")),
	}}
	first := newTestRunner(t, testConfig(), gh, shared, flaky).Run(context.Background())
	assert.Equal(t, 1, first.ErrorCount)

	second := newTestRunner(t, testConfig(), gh, shared, happyGenerator()).Run(context.Background())

	assert.Equal(t, 1, second.ReviewedCount)
	require.Len(t, second.Results, 1)
	assert.True(t, second.Results[0].Posted)
	require.Len(t, gh.posted, 1)
}

func TestRunTokenLimitRetriesOnceWithSmallerBudget(t *testing.T) {
	tokenErr := core.NewProviderError("llm", core.ErrKindTokenLimit, errors.New("prompt is too long"))
	gen := &scriptedGenerator{
		errs:      []error{tokenErr, nil, nil},
		responses: []*llm.GenerateResult{nil, pass1Response(pass1Block), enrichedResponse(pass1Block)},
	}
	gh := &fakeGitHub{}
	openPR(gh)
	runner := newTestRunner(t, testConfig(), gh, changedStore(), gen)

	summary := runner.Run(context.Background())

	assert.Equal(t, 1, summary.ReviewedCount)
	assert.Len(t, gen.requests, 3, "one failed pass plus the full retried protocol")
	require.Len(t, gh.posted, 1)
}

func TestRunTokenLimitRetryLogsCalibrationRatio(t *testing.T) {
	tokenErr := core.NewProviderError("llm", core.ErrKindTokenLimit, errors.New("prompt is too long"))
	gen := &scriptedGenerator{
		errs:      []error{tokenErr, nil, nil},
		responses: []*llm.GenerateResult{nil, pass1Response(pass1Block), enrichedResponse(pass1Block)},
	}
	gh := &fakeGitHub{}
	openPR(gh)
	var logs strings.Builder
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	runner := newTestRunnerWithLogger(t, testConfig(), gh, changedStore(), gen, logger)

	runner.Run(context.Background())

	assert.Contains(t, logs.String(), "calibration_ratio=",
		"the retry must record the estimate-to-budget ratio for coefficient calibration")
}

func TestRunTokenLimitTwiceSkipsItem(t *testing.T) {
	tokenErr := core.NewProviderError("llm", core.ErrKindTokenLimit, errors.New("prompt is too long"))
	gen := &scriptedGenerator{errs: []error{tokenErr, tokenErr}}
	gh := &fakeGitHub{}
	openPR(gh)
	runner := newTestRunner(t, testConfig(), gh, changedStore(), gen)

	summary := runner.Run(context.Background())

	assert.Equal(t, 0, summary.ErrorCount)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.SkipPromptTooLarge, summary.Results[0].SkipReason)
}

func TestRunInvalidResponseSkips(t *testing.T) {
	gen := &scriptedGenerator{responses: []*llm.GenerateResult{
		{Content: "nonsense", InputTokens: 5, OutputTokens: 1},
	}}
	gh := &fakeGitHub{}
	openPR(gh)
	runner := newTestRunner(t, testConfig(), gh, changedStore(), gen)

	summary := runner.Run(context.Background())

	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.SkipInvalidLLMResponse, summary.Results[0].SkipReason)
}

func TestRunStrictSanitizerBlocksLeakyReview(t *testing.T) {
	leaky := enrichedResponse(pass1Block)
	leaky.Content += "\nFound credential ghp_" + strings.Repeat("A", 36) + " in the diff.\n"
	gen := &scriptedGenerator{responses: []*llm.GenerateResult{pass1Response(pass1Block), leaky}}
	gh := &fakeGitHub{}
	openPR(gh)
	runner := newTestRunner(t, testConfig(), gh, changedStore(), gen)

	summary := runner.Run(context.Background())

	assert.Equal(t, 1, summary.ErrorCount)
	require.Len(t, summary.Results, 1)
	assert.ErrorIs(t, summary.Results[0].Err, core.ErrSanitizerBlocked)
	assert.Empty(t, gh.posted)
}

func TestRunPermissiveSanitizerRedactsAndPosts(t *testing.T) {
	cfg := testConfig()
	cfg.SanitizerMode = "permissive"
	secret := "ghp_" + strings.Repeat("A", 36)
	leaky := enrichedResponse(pass1Block)
	leaky.Content += "\nFound credential " + secret + " in the diff.\n"
	gen := &scriptedGenerator{responses: []*llm.GenerateResult{pass1Response(pass1Block), leaky}}
	gh := &fakeGitHub{}
	openPR(gh)
	runner := newTestRunner(t, cfg, gh, changedStore(), gen)

	summary := runner.Run(context.Background())

	assert.Equal(t, 1, summary.ReviewedCount)
	require.Len(t, gh.posted, 1)
	assert.NotContains(t, gh.posted[0].Body, secret)
	assert.Contains(t, gh.posted[0].Body, "[REDACTED]")
}

func TestRunIncrementalNarrowingBannersThePrompt(t *testing.T) {
	gh := &fakeGitHub{delta: []string{"client.go"}}
	openPR(gh)
	gh.files[42] = append(gh.files[42], core.ChangedFile{
		Filename: "README.md", Status: core.FileModified, Patch: "+docs",
	})
	st := changedStore()
	st.lastSHA = "older-sha"
	gen := happyGenerator()
	runner := newTestRunner(t, testConfig(), gh, st, gen)

	summary := runner.Run(context.Background())

	assert.Equal(t, 1, summary.ReviewedCount)
	assert.Equal(t, 1, gh.deltaCall)
	require.NotEmpty(t, gen.requests)
	assert.Contains(t, gen.requests[0].UserPrompt, "incremental review")
	assert.NotContains(t, gen.requests[0].UserPrompt, "README.md", "narrowed prompt must omit unchanged files")
}

func TestRunIncrementalFallsBackToFullOnDeltaError(t *testing.T) {
	gh := &fakeGitHub{deltaErr: errors.New("compare failed")}
	openPR(gh)
	st := changedStore()
	st.lastSHA = "older-sha"
	gen := happyGenerator()
	runner := newTestRunner(t, testConfig(), gh, st, gen)

	summary := runner.Run(context.Background())

	assert.Equal(t, 1, summary.ReviewedCount, "delta failure must silently fall back to full review")
	require.NotEmpty(t, gen.requests)
	assert.NotContains(t, gen.requests[0].UserPrompt, "incremental review")
}

func TestRunForceFullReviewSkipsNarrowing(t *testing.T) {
	cfg := testConfig()
	cfg.ForceFullReview = true
	gh := &fakeGitHub{delta: []string{"client.go"}}
	openPR(gh)
	st := changedStore()
	st.lastSHA = "older-sha"
	runner := newTestRunner(t, cfg, gh, st, happyGenerator())

	runner.Run(context.Background())

	assert.Equal(t, 0, gh.deltaCall, "force-full-review must not consult the commit delta")
}

func TestRunQuotaFloorEndsRunEarly(t *testing.T) {
	gh := &fakeGitHub{preflight: 50}
	openPR(gh)
	runner := newTestRunner(t, testConfig(), gh, changedStore(), &scriptedGenerator{})

	summary := runner.Run(context.Background())

	assert.Empty(t, summary.Results)
	assert.Empty(t, gh.posted)
}

func TestRunInaccessibleRepoRecordedAsSkip(t *testing.T) {
	gh := &fakeGitHub{repoErr: errors.New("404")}
	openPR(gh)
	runner := newTestRunner(t, testConfig(), gh, changedStore(), &scriptedGenerator{})

	summary := runner.Run(context.Background())

	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.SkipRepoInaccessible, summary.Results[0].SkipReason)
}

func TestRunRuntimeCeilingSkipsRemainingItems(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRuntime = time.Minute

	gh := &fakeGitHub{}
	gh.prs = []github.PRSummary{
		{Number: 1, Title: "first", HeadSHA: "sha-1"},
		{Number: 2, Title: "second", HeadSHA: "sha-2"},
		{Number: 3, Title: "third", HeadSHA: "sha-3"},
	}
	gh.files = map[int][]core.ChangedFile{
		1: {{Filename: "a.go", Status: core.FileModified, Patch: "+a"}},
		2: {{Filename: "b.go", Status: core.FileModified, Patch: "+b"}},
		3: {{Filename: "c.go", Status: core.FileModified, Patch: "+c"}},
	}

	runner := newTestRunner(t, cfg, gh, changedStore(), happyGenerator())

	// Advance the clock past the ceiling after the first item.
	base := time.Now()
	calls := 0
	runner.now = func() time.Time {
		// Call 1 stamps StartTime, call 2 is the check before the first
		// item; everything after that is past the ceiling.
		calls++
		if calls > 2 {
			return base.Add(2 * time.Minute)
		}
		return base
	}

	summary := runner.Run(context.Background())

	assert.Equal(t, 1, summary.ReviewedCount)
	var limited int
	for _, r := range summary.Results {
		if r.SkipReason == core.SkipRuntimeLimit {
			limited++
		}
	}
	assert.Equal(t, 2, limited, "items past the ceiling must be skipped, not dropped")
	assert.Len(t, summary.Results, 3, "every resolved item must appear in the summary")
}

func TestRunNeverReturnsWithoutSummary(t *testing.T) {
	// Every failure mode must still produce a summary.
	cases := []struct {
		name string
		gh   *fakeGitHub
	}{
		{"preflight error", &fakeGitHub{preflightErr: errors.New("down")}},
		{"post error", func() *fakeGitHub {
			gh := &fakeGitHub{postErr: errors.New("forbidden")}
			openPR(gh)
			return gh
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := newTestRunner(t, testConfig(), tc.gh, changedStore(), happyGenerator())
			summary := runner.Run(context.Background())
			require.NotNil(t, summary)
			assert.NotEmpty(t, summary.RunID)
		})
	}
}

func TestRunPRFilterLimitsScope(t *testing.T) {
	cfg := testConfig()
	cfg.PRFilter = 7
	gh := &fakeGitHub{}
	openPR(gh) // PR 42 only
	runner := newTestRunner(t, cfg, gh, changedStore(), &scriptedGenerator{})

	summary := runner.Run(context.Background())

	assert.Empty(t, summary.Results, "non-matching PRs must be filtered out")
}

func TestRunTokenAccounting(t *testing.T) {
	gh := &fakeGitHub{}
	openPR(gh)
	runner := newTestRunner(t, testConfig(), gh, changedStore(), happyGenerator())

	summary := runner.Run(context.Background())

	require.Len(t, summary.Results, 1)
	r := summary.Results[0]
	assert.Equal(t, 1800, r.InputTokens, "pass-1 and pass-2 input tokens must sum")
	assert.Equal(t, 600, r.OutputTokens)
	require.NotNil(t, r.Pass1)
	require.NotNil(t, r.Pass2)
	assert.Equal(t, pass1Block, r.Pass1Output)
}
