// Package store persists per-PR review state and arbitrates review claims
// between possibly-concurrent runners. The physical layout is abstracted
// behind ContextStore so a trivial in-memory store (single runner) and a
// Postgres compare-and-swap store (distributed runners) satisfy the same
// contract.
package store

import (
	"context"
	"time"

	"github.com/sevigo/pr-warden/internal/core"
)

// PersistedState is the durable record for one pull request, keyed by
// (owner, repo, number). Absent until the first successful review,
// overwritten on every subsequent finalize, never deleted by this core.
type PersistedState struct {
	LastHash               string
	LastReviewedHeadCommit string
	LastOutcome            string
	UpdatedAt              time.Time
}

// ContextStore is the port the pipeline uses for change detection,
// optimistic claims, and durable finalize.
//
// Failure semantics the pipeline relies on: errors from the read methods
// (HasChanged, GetLastReviewedSHA) are treated by the caller as
// "unknown/changed" so a flaky store re-reviews rather than silently
// skipping; FinalizeReview errors propagate, since a lost finalize causes
// duplicate future reviews.
type ContextStore interface {
	// HasChanged reports whether the item's canonical hash differs from the
	// persisted one. True when no state exists yet.
	HasChanged(ctx context.Context, item *core.ReviewItem) (bool, error)

	// ClaimReview attempts an atomic claim for (item, head commit). Under a
	// distributed deployment the implementation must use compare-and-swap
	// semantics so two concurrent runners cannot both claim the same item.
	ClaimReview(ctx context.Context, item *core.ReviewItem) (bool, error)

	// ReleaseClaim drops the claim for (item, head commit). Called when an
	// item errors after claiming without reaching a post, so a transient
	// failure does not hold the claim until it expires.
	ReleaseClaim(ctx context.Context, item *core.ReviewItem) error

	// FinalizeReview durably records a successful posting outcome. Only
	// called after a successful claim for the same item in the same run.
	FinalizeReview(ctx context.Context, item *core.ReviewItem, result *core.ReviewResult) error

	// GetLastReviewedSHA returns the head commit of the last finalized
	// review, or "" when there is no incremental basis.
	GetLastReviewedSHA(ctx context.Context, item *core.ReviewItem) (string, error)
}

// outcomeOf reduces a result to the short outcome string kept in state.
func outcomeOf(result *core.ReviewResult) string {
	switch {
	case result == nil:
		return "unknown"
	case result.Posted:
		return "posted"
	case result.Skipped:
		return "skipped:" + string(result.SkipReason)
	default:
		return "unknown"
	}
}
