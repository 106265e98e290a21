// Package queue implements the persisted job queue and its state machine:
// pending -> processing -> {completed | pending(retry) | failed}.
//
// The claim operation is a single atomic conditional update so that exactly
// one of N concurrent workers wins a pending job. Any SQL backend with
// compare-and-set semantics works; SQLite and Postgres are provided.
package queue

import (
	"time"
)

// Kind is the declared kind of an uploaded file. The declared kind picks the
// processing strategy; it is a hint, never trusted for safety decisions.
type Kind string

const (
	KindImage   Kind = "image"
	KindOffice  Kind = "office"
	KindCAD     Kind = "cad"
	KindPDF     Kind = "pdf"
	KindText    Kind = "text"
	KindUnknown Kind = "unknown"
)

// Status is the queue state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is one queued request to produce a thumbnail and/or extracted text from
// one input artifact. Terminal jobs are retained as audit records.
type Job struct {
	ID       string `json:"id"`
	Artifact string `json:"artifact"` // source artifact reference
	Kind     Kind   `json:"kind"`
	Status   Status `json:"status"`
	Attempts int    `json:"attempts"`

	CreatedAt  time.Time  `json:"created_at"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	NotBefore  time.Time  `json:"not_before"`

	LastError     string `json:"last_error,omitempty"`
	ThumbnailRef  string `json:"thumbnail_ref,omitempty"`
	ExtractedText string `json:"extracted_text,omitempty"`
}

// Result carries the sanitized outputs persisted on completion.
type Result struct {
	ThumbnailRef  string
	ExtractedText string
}

// Stats is a point-in-time count of jobs per status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// ParseKind maps a raw string onto a known Kind, defaulting to unknown.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindImage, KindOffice, KindCAD, KindPDF, KindText:
		return Kind(s)
	default:
		return KindUnknown
	}
}
