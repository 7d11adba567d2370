// Package cache holds the content-addressed cache of first-pass analytical
// findings. The cache is advisory only: every storage failure is absorbed
// internally and reported as a miss or no-op, so a cache fault can never
// turn an otherwise-successful review into a failure.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sevigo/pr-warden/internal/core"
)

// Record is one cached pass-1 result.
type Record struct {
	RawFindings  string
	Findings     []core.Finding
	InputTokens  int
	OutputTokens int
	CreatedAt    time.Time
	HitCount     int
}

// ResultCache is the advisory pass-1 cache port.
type ResultCache interface {
	// Get returns the cached record for key, or nil on miss (including any
	// internal failure).
	Get(ctx context.Context, key string) *Record

	// Set stores a record. Failures are silently absorbed.
	Set(ctx context.Context, key string, rec *Record)

	// Clear drops every record, for end-of-campaign cleanup.
	Clear(ctx context.Context)
}

// ComputeKey derives the cache key for a pass-1 result. Pure function:
// any change to the head commit, truncation level, or prompt template
// yields a new key, so invalidation is implicit in the derivation.
func ComputeKey(headCommit string, truncationLevel int, promptTemplateHash string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", headCommit, truncationLevel, promptTemplateHash)))
	return hex.EncodeToString(h[:])
}
