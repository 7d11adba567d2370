package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sevigo/pr-warden/internal/core"
)

// claimTTL bounds how long a claim can wedge a pull request if the runner
// that took it crashed before finalizing.
const claimTTL = time.Hour

// postgresStore is the compare-and-swap ContextStore for distributed
// deployments. Claims are arbitrated by a unique-key insert; state writes
// are idempotent upserts.
type postgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a ContextStore backed by Postgres.
func NewPostgresStore(db *sqlx.DB) ContextStore {
	return &postgresStore{db: db}
}

func (s *postgresStore) HasChanged(ctx context.Context, item *core.ReviewItem) (bool, error) {
	var lastHash string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_hash FROM review_state WHERE owner = $1 AND repo = $2 AND pr_number = $3`,
		item.Owner, item.Repo, item.PRNumber,
	).Scan(&lastHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return true, fmt.Errorf("failed to read review state: %w", err)
	}
	return lastHash != item.CanonicalHash(), nil
}

// ClaimReview inserts a claim row keyed by (owner, repo, pr, head commit).
// The insert only wins when no live claim exists; a conflicting live claim
// means another runner holds the item.
func (s *postgresStore) ClaimReview(ctx context.Context, item *core.ReviewItem) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM review_claims WHERE claimed_at < $1`,
		time.Now().Add(-claimTTL),
	)
	if err != nil {
		return false, fmt.Errorf("failed to expire stale claims: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO review_claims (owner, repo, pr_number, head_sha, claimed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner, repo, pr_number, head_sha) DO NOTHING`,
		item.Owner, item.Repo, item.PRNumber, item.HeadCommit, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert claim: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return rows == 1, nil
}

func (s *postgresStore) ReleaseClaim(ctx context.Context, item *core.ReviewItem) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM review_claims
		 WHERE owner = $1 AND repo = $2 AND pr_number = $3 AND head_sha = $4`,
		item.Owner, item.Repo, item.PRNumber, item.HeadCommit,
	)
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

func (s *postgresStore) FinalizeReview(ctx context.Context, item *core.ReviewItem, result *core.ReviewResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_state (owner, repo, pr_number, last_hash, last_head_sha, last_outcome, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (owner, repo, pr_number) DO UPDATE SET
		   last_hash = EXCLUDED.last_hash,
		   last_head_sha = EXCLUDED.last_head_sha,
		   last_outcome = EXCLUDED.last_outcome,
		   updated_at = EXCLUDED.updated_at`,
		item.Owner, item.Repo, item.PRNumber,
		item.CanonicalHash(), item.HeadCommit, outcomeOf(result), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to finalize review state: %w", err)
	}
	return nil
}

func (s *postgresStore) GetLastReviewedSHA(ctx context.Context, item *core.ReviewItem) (string, error) {
	var sha string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_head_sha FROM review_state WHERE owner = $1 AND repo = $2 AND pr_number = $3`,
		item.Owner, item.Repo, item.PRNumber,
	).Scan(&sha)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read last reviewed sha: %w", err)
	}
	return sha, nil
}
