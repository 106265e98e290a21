// Package daemon runs the previewd worker: a pool of claim loops over the job
// queue, periodic maintenance, and the health/metrics HTTP listener.
package daemon

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fileworks/previewd/internal/audit"
	"github.com/fileworks/previewd/internal/config"
	perrors "github.com/fileworks/previewd/internal/errors"
	"github.com/fileworks/previewd/internal/events"
	"github.com/fileworks/previewd/internal/metrics"
	"github.com/fileworks/previewd/internal/observability"
	"github.com/fileworks/previewd/internal/orchestrator"
	"github.com/fileworks/previewd/internal/queue"
	"github.com/fileworks/previewd/internal/sandbox"
)

// AttemptProcessor runs one claimed job attempt. Satisfied by
// *orchestrator.Orchestrator.
type AttemptProcessor interface {
	ProcessAttempt(ctx context.Context, job *queue.Job) (queue.Result, error)
}

var _ AttemptProcessor = (*orchestrator.Orchestrator)(nil)

// Daemon owns the worker pool. Each worker claims one job at a time and runs
// it end to end; MaxConcurrentJobs bounds the pool size.
type Daemon struct {
	cfg      *config.Config
	manager  *queue.Manager
	orch     AttemptProcessor
	recorder metrics.Recorder
	events   events.Publisher
	audit    audit.Store

	workers    WorkerGroup
	activeJobs atomic.Int64
	startTime  time.Time
}

// New wires a Daemon. Recorder, events and audit default to no-ops.
func New(cfg *config.Config, manager *queue.Manager, orch AttemptProcessor,
	recorder metrics.Recorder, publisher events.Publisher, auditStore audit.Store) *Daemon {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if auditStore == nil {
		auditStore = audit.NopStore{}
	}
	return &Daemon{
		cfg:      cfg,
		manager:  manager,
		orch:     orch,
		recorder: recorder,
		events:   publisher,
		audit:    auditStore,
	}
}

// ActiveJobs reports how many jobs are currently being processed.
func (d *Daemon) ActiveJobs() int { return int(d.activeJobs.Load()) }

// StartTime reports when Run was called.
func (d *Daemon) StartTime() time.Time { return d.startTime }

// Run starts the worker pool and blocks until ctx is cancelled, then drains
// in-flight jobs. Startup begins with a stale-job reclaim and a volume sweep
// so a crashed predecessor's leftovers never linger.
func (d *Daemon) Run(ctx context.Context) error {
	d.startTime = time.Now()

	if _, err := d.manager.ReclaimStale(ctx, d.cfg.Queue.StaleThreshold); err != nil {
		slog.Error("startup reclaim failed", slog.String("error", err.Error()))
	}
	if _, err := sandbox.SweepStale(d.cfg.Sandbox.VolumeRoot, d.cfg.Queue.StaleThreshold); err != nil {
		slog.Error("startup volume sweep failed", slog.String("error", err.Error()))
	}

	n := d.cfg.Sandbox.MaxConcurrentJobs
	slog.Info("starting worker pool", slog.Int("workers", n))
	for i := 0; i < n; i++ {
		worker := i
		d.workers.Go(func() { d.claimLoop(ctx, worker) })
	}

	<-ctx.Done()

	drainCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Sandbox.JobTimeout)
	defer cancel()
	slog.Info("draining workers")
	return d.workers.StopAndWait(drainCtx)
}

// claimLoop claims and processes jobs until ctx is cancelled. An empty queue
// sleeps one poll interval; persistence errors back off the same way rather
// than spinning.
func (d *Daemon) claimLoop(ctx context.Context, worker int) {
	log := slog.With(slog.Int("worker", worker))
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := d.manager.ClaimNext(ctx)
		if err != nil {
			log.Warn("claim failed", slog.String("error", err.Error()))
			d.sleep(ctx)
			continue
		}
		if job == nil {
			d.sleep(ctx)
			continue
		}

		d.processJob(ctx, job)
	}
}

func (d *Daemon) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(d.cfg.Queue.PollInterval):
	}
}

// processJob runs one claimed job to its terminal transition.
func (d *Daemon) processJob(ctx context.Context, job *queue.Job) {
	d.recorder.SetActiveJobs(int(d.activeJobs.Add(1)))
	defer func() { d.recorder.SetActiveJobs(int(d.activeJobs.Add(-1))) }()

	jctx := observability.WithJobID(ctx, job.ID)
	jctx = observability.WithKind(jctx, string(job.Kind))
	jctx = observability.WithAttempt(jctx, job.Attempts)
	observability.InfoContext(jctx, "job claimed")

	d.appendAudit(jctx, job.ID, audit.EventClaimed, map[string]string{"attempt": strconv.Itoa(job.Attempts)})
	d.events.Publish(events.JobEvent{Type: events.TypeClaimed, JobID: job.ID, Kind: string(job.Kind), Attempt: job.Attempts})

	result, err := d.orch.ProcessAttempt(jctx, job)
	if err == nil {
		if err := d.manager.Complete(jctx, job, result); err != nil {
			observability.ErrorContext(jctx, "complete transition failed", slog.String("error", err.Error()))
			return
		}
		d.recorder.IncJobOutcome(string(job.Kind), metrics.OutcomeCompleted)
		d.appendAudit(jctx, job.ID, audit.EventCompleted, nil)
		d.events.Publish(events.JobEvent{Type: events.TypeCompleted, JobID: job.ID, Kind: string(job.Kind), Attempt: job.Attempts})
		return
	}

	retryable := perrors.IsRetryable(err)
	if failErr := d.manager.Fail(jctx, job, err.Error(), retryable); failErr != nil {
		observability.ErrorContext(jctx, "fail transition failed", slog.String("error", failErr.Error()))
		return
	}

	if retryable && job.Attempts < d.manager.MaxAttempts() {
		d.recorder.IncJobOutcome(string(job.Kind), metrics.OutcomeRetried)
		d.appendAudit(jctx, job.ID, audit.EventRetried, map[string]string{"cause": err.Error()})
		d.events.Publish(events.JobEvent{Type: events.TypeRetried, JobID: job.ID, Kind: string(job.Kind), Attempt: job.Attempts, Cause: err.Error()})
	} else {
		d.recorder.IncJobOutcome(string(job.Kind), metrics.OutcomeFailed)
		d.appendAudit(jctx, job.ID, audit.EventFailed, map[string]string{"cause": err.Error()})
		d.events.Publish(events.JobEvent{Type: events.TypeFailed, JobID: job.ID, Kind: string(job.Kind), Attempt: job.Attempts, Cause: err.Error()})
	}
}

func (d *Daemon) appendAudit(ctx context.Context, jobID, eventType string, metadata map[string]string) {
	if err := d.audit.Append(ctx, jobID, eventType, nil, metadata); err != nil {
		observability.WarnContext(ctx, "audit append failed", slog.String("error", err.Error()))
	}
}
