// Package audit records the lifecycle of every job as an append-only event
// stream. The stream is diagnostic: losing it never affects queue correctness.
package audit

import "time"

// Well-known event types emitted by the worker.
const (
	EventEnqueued        = "enqueued"
	EventClaimed         = "claimed"
	EventSandboxStarted  = "sandbox_started"
	EventSandboxFinished = "sandbox_finished"
	EventHelperRequested = "helper_requested"
	EventHelperFinished  = "helper_finished"
	EventCompleted       = "completed"
	EventRetried         = "retried"
	EventFailed          = "failed"
	EventReclaimed       = "reclaimed"
)

// Event is one recorded lifecycle step of a job.
type Event struct {
	ID        int64
	JobID     string
	Type      string
	Timestamp time.Time
	Payload   []byte
	Metadata  map[string]string
}
