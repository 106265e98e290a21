// Package signalfile implements a filesystem-only request/response convention
// between two processes whose only shared channel is a directory.
//
// The producer drops `{id}.convert` (containing the source filename) next to
// the source file; the consumer converts and answers with exactly one of
// `{id}.done` or `{id}.failed`. The request marker is always removed before
// the terminal marker is written, so a marker present in the directory always
// means "work not yet concluded".
package signalfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	requestSuffix = ".convert"
	doneSuffix    = ".done"
	failedSuffix  = ".failed"
)

// RequestMarker returns the request marker filename for a job id.
func RequestMarker(id string) string { return id + requestSuffix }

// DoneMarker returns the success marker filename for a job id.
func DoneMarker(id string) string { return id + doneSuffix }

// FailedMarker returns the failure marker filename for a job id.
func FailedMarker(id string) string { return id + failedSuffix }

// Outcome is the terminal result of one exchange.
type Outcome struct {
	Done  bool
	Cause string // populated for failures
}

// ReadOutcome reports the terminal marker for id in dir, if any. The bool is
// false while no terminal marker exists yet.
func ReadOutcome(dir, id string) (Outcome, bool, error) {
	if _, err := os.Stat(filepath.Join(dir, DoneMarker(id))); err == nil {
		return Outcome{Done: true}, true, nil
	} else if !os.IsNotExist(err) {
		return Outcome{}, false, fmt.Errorf("stat done marker: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FailedMarker(id)))
	if err == nil {
		return Outcome{Done: false, Cause: strings.TrimSpace(string(data))}, true, nil
	}
	if os.IsNotExist(err) {
		return Outcome{}, false, nil
	}
	return Outcome{}, false, fmt.Errorf("read failed marker: %w", err)
}

// writeFileAtomic writes data to a temp file in the same directory and renames
// it into place, so readers never observe a partially written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
