package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fileworks/previewd/internal/config"
	perrors "github.com/fileworks/previewd/internal/errors"
	"github.com/fileworks/previewd/internal/queue"
	"github.com/fileworks/previewd/internal/retry"
)

type fakeProcessor struct {
	process func(job *queue.Job) (queue.Result, error)
}

func (f *fakeProcessor) ProcessAttempt(_ context.Context, job *queue.Job) (queue.Result, error) {
	return f.process(job)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Normalize()
	cfg.Queue.PollInterval = 10 * time.Millisecond
	cfg.Sandbox.MaxConcurrentJobs = 2
	cfg.Sandbox.JobTimeout = time.Second
	cfg.Queue.StaleThreshold = 2 * time.Second
	return cfg
}

func newTestDaemon(t *testing.T, proc AttemptProcessor) (*Daemon, *queue.SQLStore) {
	t.Helper()
	store, err := queue.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	policy := retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Second, 3)
	manager := queue.NewManager(store, policy)
	return New(testConfig(), manager, proc, nil, nil, nil), store
}

func awaitStatus(t *testing.T, store *queue.SQLStore, id string, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, want)
	return nil
}

func TestDaemonCompletesJob(t *testing.T) {
	proc := &fakeProcessor{process: func(job *queue.Job) (queue.Result, error) {
		return queue.Result{ThumbnailRef: "thumbnails/" + job.ID + ".png", ExtractedText: "hi"}, nil
	}}
	d, store := newTestDaemon(t, proc)

	require.NoError(t, store.Enqueue(context.Background(), &queue.Job{ID: "j1", Artifact: "a.png", Kind: queue.KindImage}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	job := awaitStatus(t, store, "j1", queue.StatusCompleted)
	assert.Equal(t, "thumbnails/j1.png", job.ThumbnailRef)
	assert.Equal(t, "hi", job.ExtractedText)

	cancel()
	require.NoError(t, <-done)
}

func TestDaemonRetriesThenFails(t *testing.T) {
	proc := &fakeProcessor{process: func(*queue.Job) (queue.Result, error) {
		return queue.Result{}, perrors.TimeoutError("sandbox timed out")
	}}
	d, store := newTestDaemon(t, proc)

	require.NoError(t, store.Enqueue(context.Background(), &queue.Job{ID: "j1", Artifact: "a.pdf", Kind: queue.KindPDF}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Retryable failure on every attempt turns terminal after max attempts.
	job := awaitStatus(t, store, "j1", queue.StatusFailed)
	assert.Equal(t, 3, job.Attempts)
	assert.Contains(t, job.LastError, "sandbox timed out")

	cancel()
	require.NoError(t, <-done)
}

func TestDaemonTerminalFailureImmediately(t *testing.T) {
	proc := &fakeProcessor{process: func(*queue.Job) (queue.Result, error) {
		return queue.Result{}, perrors.SanitizeRejection("binary content cannot pass as text")
	}}
	d, store := newTestDaemon(t, proc)

	require.NoError(t, store.Enqueue(context.Background(), &queue.Job{ID: "j1", Artifact: "x.bin", Kind: queue.KindUnknown}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	job := awaitStatus(t, store, "j1", queue.StatusFailed)
	assert.Equal(t, 1, job.Attempts, "terminal causes get no retry")

	cancel()
	require.NoError(t, <-done)
}
