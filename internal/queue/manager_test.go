package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fileworks/previewd/internal/retry"
)

func newTestManager(t *testing.T) (*Manager, *SQLStore) {
	t.Helper()
	store := newTestStore(t)
	policy := retry.NewPolicy(retry.BackoffFixed, 10*time.Second, time.Minute, 3)
	return NewManager(store, policy), store
}

func TestFailRetryableRequeuesWithBackoff(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, &Job{ID: "j1", Artifact: "a.dwg", Kind: KindCAD}))
	job, err := mgr.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, mgr.Fail(ctx, job, "converter timed out", true))

	got, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "converter timed out", got.LastError)
	assert.True(t, got.NotBefore.After(time.Now().Add(5*time.Second)),
		"retry must be delayed by the backoff policy")
}

func TestFailTerminalAfterMaxAttempts(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	store.now = time.Now

	require.NoError(t, store.Enqueue(ctx, &Job{ID: "j1", Artifact: "a.dwg", Kind: KindCAD}))

	// Burn through all attempts with retryable failures. The backoff window
	// is skipped by advancing the store clock.
	for attempt := 1; attempt <= 3; attempt++ {
		store.now = func() time.Time { return time.Now().Add(time.Duration(attempt) * time.Minute) }
		job, err := mgr.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d should be claimable", attempt)
		assert.Equal(t, attempt, job.Attempts)
		require.NoError(t, mgr.Fail(ctx, job, "still broken", true))
	}

	got, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status, "third retryable failure is terminal")
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "still broken", got.LastError)

	// Nothing left to claim.
	store.now = func() time.Time { return time.Now().Add(time.Hour) }
	job, err := mgr.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestFailNonRetryableIsImmediatelyTerminal(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, &Job{ID: "j1", Artifact: "evil.bin", Kind: KindUnknown}))
	job, err := mgr.ClaimNext(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.Fail(ctx, job, "sanitizer rejected output", false))

	got, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestCompletePersistsResult(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, &Job{ID: "j1", Artifact: "a.png", Kind: KindImage}))
	job, err := mgr.ClaimNext(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.Complete(ctx, job, Result{ThumbnailRef: "thumbs/j1.png"}))

	got, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "thumbs/j1.png", got.ThumbnailRef)
}
