package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sevigo/pr-warden/internal/core"
)

// memoryStore keeps state in-process. Claims are only arbitrated within the
// process, which is sufficient for single-runner deployments; distributed
// deployments need the Postgres store. Claims carry the same expiry as the
// Postgres store so an item whose runner died mid-review becomes claimable
// again without a process restart.
type memoryStore struct {
	mu     sync.Mutex
	states map[string]PersistedState
	claims map[string]time.Time
	now    func() time.Time
}

// NewMemoryStore creates a ContextStore suitable for single-runner use.
func NewMemoryStore() ContextStore {
	return &memoryStore{
		states: make(map[string]PersistedState),
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

func stateKey(item *core.ReviewItem) string {
	return fmt.Sprintf("%s/%s#%d", item.Owner, item.Repo, item.PRNumber)
}

func claimKey(item *core.ReviewItem) string {
	return stateKey(item) + "@" + item.HeadCommit
}

func (m *memoryStore) HasChanged(_ context.Context, item *core.ReviewItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[stateKey(item)]
	if !ok {
		return true, nil
	}
	return st.LastHash != item.CanonicalHash(), nil
}

func (m *memoryStore) ClaimReview(_ context.Context, item *core.ReviewItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := claimKey(item)
	if claimedAt, taken := m.claims[key]; taken && m.now().Sub(claimedAt) < claimTTL {
		return false, nil
	}
	m.claims[key] = m.now()
	return true, nil
}

func (m *memoryStore) ReleaseClaim(_ context.Context, item *core.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, claimKey(item))
	return nil
}

func (m *memoryStore) FinalizeReview(_ context.Context, item *core.ReviewItem, result *core.ReviewResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[stateKey(item)] = PersistedState{
		LastHash:               item.CanonicalHash(),
		LastReviewedHeadCommit: item.HeadCommit,
		LastOutcome:            outcomeOf(result),
		UpdatedAt:              time.Now(),
	}
	return nil
}

func (m *memoryStore) GetLastReviewedSHA(_ context.Context, item *core.ReviewItem) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[stateKey(item)]
	if !ok {
		return "", nil
	}
	return st.LastReviewedHeadCommit, nil
}
