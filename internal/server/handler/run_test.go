package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/pr-warden/internal/core"
)

type blockingRunner struct {
	release chan struct{}
	runs    int
	mu      sync.Mutex
}

func (r *blockingRunner) Run(_ context.Context) *core.RunSummary {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	if r.release != nil {
		<-r.release
	}
	return &core.RunSummary{
		RunID:         "01TESTRUN",
		StartTime:     time.Now(),
		EndTime:       time.Now(),
		ReviewedCount: 2,
		SkippedCount:  1,
	}
}

func testHandler(r ReviewRunner) *RunHandler {
	return NewRunHandler(r, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandleStartsRun(t *testing.T) {
	runner := &blockingRunner{}
	h := testHandler(runner)

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodPost, "/api/v1/run", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)

	// The run completes in the background.
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.last != nil
	}, time.Second, 5*time.Millisecond)
}

func TestHandleRejectsConcurrentRun(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	h := testHandler(runner)

	first := httptest.NewRecorder()
	h.Handle(first, httptest.NewRequest(http.MethodPost, "/api/v1/run", nil))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := httptest.NewRecorder()
	h.Handle(second, httptest.NewRequest(http.MethodPost, "/api/v1/run", nil))
	assert.Equal(t, http.StatusConflict, second.Code)

	close(runner.release)

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return !h.running
	}, time.Second, 5*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 1, runner.runs, "the rejected trigger must not queue a second run")
}

func TestLastReportsSummary(t *testing.T) {
	runner := &blockingRunner{}
	h := testHandler(runner)

	empty := httptest.NewRecorder()
	h.Last(empty, httptest.NewRequest(http.MethodGet, "/api/v1/run/last", nil))
	assert.Equal(t, http.StatusNotFound, empty.Code)

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodPost, "/api/v1/run", nil))
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.last != nil
	}, time.Second, 5*time.Millisecond)

	got := httptest.NewRecorder()
	h.Last(got, httptest.NewRequest(http.MethodGet, "/api/v1/run/last", nil))
	require.Equal(t, http.StatusOK, got.Code)

	var body summaryResponse
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &body))
	assert.Equal(t, "01TESTRUN", body.RunID)
	assert.Equal(t, 2, body.Reviewed)
	assert.Equal(t, 1, body.Skipped)
}
