package queue

import (
	"context"
	"log/slog"
	"time"

	perrors "github.com/fileworks/previewd/internal/errors"
	"github.com/fileworks/previewd/internal/retry"
)

// Manager layers the retry state machine over a Store. It owns the status
// field of every job; the orchestrator owns jobs only while they are in
// processing.
type Manager struct {
	store  Store
	policy retry.Policy
	now    func() time.Time
}

// NewManager builds a Manager with the given backoff policy.
func NewManager(store Store, policy retry.Policy) *Manager {
	return &Manager{store: store, policy: policy, now: time.Now}
}

// ClaimNext claims at most one pending job. A nil job means the queue is
// empty, which is not an error.
func (m *Manager) ClaimNext(ctx context.Context) (*Job, error) {
	job, err := m.store.ClaimNext(ctx)
	if err != nil {
		return nil, perrors.QueueError(err, "claim failed")
	}
	return job, nil
}

// Complete marks a processing job completed with its sanitized result.
func (m *Manager) Complete(ctx context.Context, job *Job, result Result) error {
	if err := m.store.MarkCompleted(ctx, job.ID, result); err != nil {
		return perrors.QueueError(err, "complete failed")
	}
	slog.Info("job completed",
		slog.String("job.id", job.ID),
		slog.String("job.kind", string(job.Kind)),
		slog.Int("job.attempt", job.Attempts))
	return nil
}

// Fail records a failed attempt. Retryable causes return the job to pending
// with a backoff delay until attempts are exhausted; everything else is
// terminal. The cause string is preserved either way.
func (m *Manager) Fail(ctx context.Context, job *Job, cause string, retryable bool) error {
	if retryable && !m.policy.Exhausted(job.Attempts) {
		notBefore := m.now().Add(m.policy.Delay(job.Attempts))
		if err := m.store.MarkPending(ctx, job.ID, cause, notBefore); err != nil {
			return perrors.QueueError(err, "requeue failed")
		}
		slog.Warn("job attempt failed, will retry",
			slog.String("job.id", job.ID),
			slog.Int("job.attempt", job.Attempts),
			slog.String("cause", cause),
			slog.Time("not_before", notBefore))
		return nil
	}

	if err := m.store.MarkFailed(ctx, job.ID, cause); err != nil {
		return perrors.QueueError(err, "fail failed")
	}
	slog.Error("job failed",
		slog.String("job.id", job.ID),
		slog.Int("job.attempt", job.Attempts),
		slog.String("cause", cause))
	return nil
}

// ReclaimStale returns crashed-worker jobs to pending. Called on startup and
// periodically; processing is never a stable resting state across restarts.
func (m *Manager) ReclaimStale(ctx context.Context, threshold time.Duration) (int, error) {
	n, err := m.store.ReclaimStale(ctx, threshold)
	if err != nil {
		return 0, perrors.QueueError(err, "reclaim failed")
	}
	if n > 0 {
		slog.Info("reclaimed stale jobs", slog.Int("count", n))
	}
	return n, nil
}

// Stats reports per-status job counts.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.store.Stats(ctx)
}

// MaxAttempts exposes the policy ceiling for callers that cap retries lower.
func (m *Manager) MaxAttempts() int {
	return m.policy.MaxAttempts
}
