// Package orchestrator sequences one job attempt end to end: host headroom
// check, sandbox provisioning, processor execution, the CAD helper exchange,
// collection and sanitization. It owns the job only while it is in processing;
// terminal status transitions stay with the queue manager.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fileworks/previewd/internal/audit"
	perrors "github.com/fileworks/previewd/internal/errors"
	"github.com/fileworks/previewd/internal/metrics"
	"github.com/fileworks/previewd/internal/observability"
	"github.com/fileworks/previewd/internal/queue"
	"github.com/fileworks/previewd/internal/sandbox"
	"github.com/fileworks/previewd/internal/sanitize"
	"github.com/fileworks/previewd/internal/signalfile"
	"github.com/fileworks/previewd/internal/storage"
)

// Executor runs one sandboxed attempt. Satisfied by *sandbox.Executor.
type Executor interface {
	Provision(spec sandbox.Spec) (*sandbox.Volume, error)
	Run(ctx context.Context, vol *sandbox.Volume) error
}

// FetchFunc loads the source artifact bytes for a job.
type FetchFunc func(ctx context.Context, ref string) ([]byte, error)

// Config bounds one attempt.
type Config struct {
	Timeout            time.Duration // shared wall-clock budget for executor and helper
	HelperTick         time.Duration
	HelperOutputExt    string
	Image              sanitize.ImageOptions
	Text               sanitize.TextOptions
	MinPrintableRatio  float64
	MinFreeMemoryBytes uint64
}

// Options wires an Orchestrator.
type Options struct {
	Executor  Executor
	Fetch     FetchFunc
	Exchange  *signalfile.Producer // nil when no CAD helper is deployed
	Artifacts storage.ArtifactStore
	Audit     audit.Store
	Recorder  metrics.Recorder
	Config    Config
}

// Orchestrator drives single job attempts.
type Orchestrator struct {
	executor   Executor
	fetch      FetchFunc
	exchange   *signalfile.Producer
	artifacts  storage.ArtifactStore
	audit      audit.Store
	recorder   metrics.Recorder
	cfg        Config
	freeMemory func() (uint64, error)
}

// New builds an Orchestrator. Audit and Recorder default to no-ops.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		executor:   opts.Executor,
		fetch:      opts.Fetch,
		exchange:   opts.Exchange,
		artifacts:  opts.Artifacts,
		audit:      opts.Audit,
		recorder:   opts.Recorder,
		cfg:        opts.Config,
		freeMemory: hostFreeMemory,
	}
	if o.audit == nil {
		o.audit = audit.NopStore{}
	}
	if o.recorder == nil {
		o.recorder = metrics.NoopRecorder{}
	}
	if o.cfg.Timeout <= 0 {
		o.cfg.Timeout = 10 * time.Minute
	}
	if o.cfg.HelperTick <= 0 {
		o.cfg.HelperTick = 500 * time.Millisecond
	}
	if o.cfg.HelperOutputExt == "" {
		o.cfg.HelperOutputExt = "png"
	}
	return o
}

// ProcessAttempt runs one claimed job to a result or an error. A nil error
// means the result is sanitized and safe to persist; the caller maps errors to
// retry or terminal failure via their retryable flag.
func (o *Orchestrator) ProcessAttempt(ctx context.Context, job *queue.Job) (queue.Result, error) {
	ctx = observability.WithJobID(ctx, job.ID)
	ctx = observability.WithKind(ctx, string(job.Kind))
	ctx = observability.WithAttempt(ctx, job.Attempts)

	if o.cfg.MinFreeMemoryBytes > 0 {
		free, err := o.freeMemory()
		if err == nil && free < o.cfg.MinFreeMemoryBytes {
			o.recorder.IncSandboxSetupFailure()
			return queue.Result{}, perrors.SandboxSetupError(
				fmt.Errorf("%d bytes free, %d required", free, o.cfg.MinFreeMemoryBytes),
				"insufficient host memory headroom")
		}
	}

	input, err := o.fetch(ctx, job.Artifact)
	if err != nil {
		return queue.Result{}, perrors.WrapRetryable(err, perrors.CategoryStorage, perrors.SeverityError,
			"fetch source artifact")
	}

	// One deadline spans the executor run and the helper wait.
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	spec := sandbox.Spec{
		JobID:     job.ID,
		Attempt:   job.Attempts,
		Kind:      string(job.Kind),
		InputName: filepath.Base(job.Artifact),
		Input:     input,
	}

	vol, err := o.executor.Provision(spec)
	if err != nil {
		o.recorder.IncSandboxSetupFailure()
		return queue.Result{}, perrors.SandboxSetupError(err, "provision sandbox volume")
	}
	defer vol.Teardown()
	o.appendAudit(ctx, job.ID, audit.EventSandboxStarted, map[string]string{"volume": vol.Path})

	start := time.Now()
	runErr := o.executor.Run(ctx, vol)
	o.recorder.ObserveAttemptDuration(string(job.Kind), time.Since(start))
	o.forwardProcessorLog(ctx, vol, job.ID)
	o.appendAudit(ctx, job.ID, audit.EventSandboxFinished, nil)

	switch {
	case errors.Is(runErr, sandbox.ErrTimedOut):
		o.recorder.IncSandboxTimeout()
		return queue.Result{}, perrors.TimeoutError(runErr.Error())
	case errors.Is(runErr, context.Canceled):
		return queue.Result{}, perrors.WrapRetryable(runErr, perrors.CategoryRuntime, perrors.SeverityWarning,
			"attempt interrupted by shutdown")
	case errors.Is(runErr, sandbox.ErrSetupFailed):
		o.recorder.IncSandboxSetupFailure()
		return queue.Result{}, perrors.SandboxSetupError(runErr, "sandbox runtime failed to start")
	case runErr != nil:
		return queue.Result{}, perrors.WrapRetryable(runErr, perrors.CategoryRuntime, perrors.SeverityError,
			"processor run failed")
	}

	var helperOutput []byte
	if job.Kind == queue.KindCAD {
		helperOutput, err = o.runHelperExchange(ctx, job, spec.InputName, input)
		if err != nil {
			return queue.Result{}, err
		}
	}

	return o.collect(ctx, job, vol, helperOutput)
}

// runHelperExchange drives the signal-file protocol for one CAD job with the
// remaining deadline budget.
func (o *Orchestrator) runHelperExchange(ctx context.Context, job *queue.Job, inputName string, input []byte) ([]byte, error) {
	if o.exchange == nil {
		return nil, perrors.HelperError("no helper exchange configured for cad jobs")
	}

	// A helper that answered after a previous attempt's deadline leaves its
	// outcome marker behind. No exchange is in flight for this id at attempt
	// start, so those leftovers are stale; clear them before publishing.
	o.exchange.Cleanup(job.ID, inputName, o.cfg.HelperOutputExt)
	defer o.exchange.Cleanup(job.ID, inputName, o.cfg.HelperOutputExt)

	o.appendAudit(ctx, job.ID, audit.EventHelperRequested, map[string]string{"input": inputName})
	if err := o.exchange.Publish(job.ID, inputName, input); err != nil {
		var pe *perrors.PreviewdError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, perrors.WrapRetryable(err, perrors.CategoryHelper, perrors.SeverityError,
			"publish conversion request")
	}

	outcome, err := o.exchange.AwaitOutcome(ctx, job.ID, o.cfg.HelperTick)
	if err != nil {
		o.recorder.IncHelperConversion("timeout")
		return nil, err // helper-timeout, retryable
	}
	if !outcome.Done {
		o.recorder.IncHelperConversion("failed")
		return nil, perrors.HelperError(outcome.Cause)
	}
	o.recorder.IncHelperConversion("done")
	o.appendAudit(ctx, job.ID, audit.EventHelperFinished, nil)

	out, err := o.readHelperOutput(inputName)
	if err != nil {
		// .done with no output artifact is a helper-side producer bug.
		return nil, missingArtifacts(job, "helper reported done but output is unreadable: "+err.Error())
	}
	return out, nil
}

func (o *Orchestrator) appendAudit(ctx context.Context, jobID, eventType string, metadata map[string]string) {
	if err := o.audit.Append(ctx, jobID, eventType, nil, metadata); err != nil {
		observability.WarnContext(ctx, "audit append failed", slog.String("error", err.Error()))
	}
}

// missingArtifacts builds the "success but artifacts missing" failure: a
// producer bug that gets exactly one retry before turning terminal.
func missingArtifacts(job *queue.Job, detail string) *perrors.PreviewdError {
	e := perrors.New(perrors.CategoryValidation, perrors.SeverityError, detail)
	e.Retryable = job.Attempts <= 1
	return e
}
