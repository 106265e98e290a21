package metrics

import "time"

// OutcomeLabel enumerates terminal job outcome categories for counters.
type OutcomeLabel string

const (
	OutcomeCompleted OutcomeLabel = "completed"
	OutcomeRetried   OutcomeLabel = "retried"
	OutcomeFailed    OutcomeLabel = "failed"
)

// Recorder defines observability hooks for job and sandbox metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe on the NoopRecorder so injection stays optional.
type Recorder interface {
	ObserveAttemptDuration(kind string, d time.Duration)
	IncJobOutcome(kind string, outcome OutcomeLabel)
	IncSandboxSetupFailure()
	IncSandboxTimeout()
	IncHelperConversion(result string) // result: done|failed|timeout
	IncSanitizerRejection(reason string)
	SetActiveJobs(n int)
	SetQueueDepth(pending int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveAttemptDuration(string, time.Duration) {}
func (NoopRecorder) IncJobOutcome(string, OutcomeLabel)           {}
func (NoopRecorder) IncSandboxSetupFailure()                      {}
func (NoopRecorder) IncSandboxTimeout()                           {}
func (NoopRecorder) IncHelperConversion(string)                   {}
func (NoopRecorder) IncSanitizerRejection(string)                 {}
func (NoopRecorder) SetActiveJobs(int)                            {}
func (NoopRecorder) SetQueueDepth(int)                            {}
