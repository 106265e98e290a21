package signalfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	perrors "github.com/fileworks/previewd/internal/errors"
)

// Producer publishes conversion requests into the exchange directory and waits
// for the consumer's terminal marker.
type Producer struct {
	dir string
}

// NewProducer returns a producer over the given exchange directory.
func NewProducer(dir string) *Producer {
	return &Producer{dir: dir}
}

// Publish stages the source artifact and makes the request marker visible.
// The marker is renamed into place only after the artifact is fully written,
// so the consumer can never observe a request whose input is incomplete.
// Publishing is refused while a terminal marker for id is present: at most one
// outcome per in-flight request. Callers clear stale leftovers from earlier
// attempts before publishing, so a marker here means a concurrent exchange is
// using the same id.
func (p *Producer) Publish(id, sourceName string, source []byte) error {
	if _, concluded, err := ReadOutcome(p.dir, id); err != nil {
		return err
	} else if concluded {
		return perrors.ContractViolation(fmt.Sprintf("request %s already has a terminal marker", id))
	}

	if err := os.WriteFile(filepath.Join(p.dir, sourceName), source, 0o644); err != nil {
		return fmt.Errorf("stage source %s: %w", sourceName, err)
	}
	if err := writeFileAtomic(filepath.Join(p.dir, RequestMarker(id)), []byte(sourceName)); err != nil {
		return fmt.Errorf("publish request %s: %w", id, err)
	}
	return nil
}

// AwaitOutcome polls for the terminal marker until the context deadline. The
// caller passes the job's shared deadline context; expiry means the helper
// never answered in time.
func (p *Producer) AwaitOutcome(ctx context.Context, id string, tick time.Duration) (Outcome, error) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		outcome, concluded, err := ReadOutcome(p.dir, id)
		if err != nil {
			return Outcome{}, err
		}
		if concluded {
			return outcome, nil
		}

		select {
		case <-ctx.Done():
			return Outcome{}, perrors.TimeoutError("helper-timeout")
		case <-ticker.C:
		}
	}
}

// OutputPath returns where the consumer leaves the converted artifact for the
// given source filename.
func (p *Producer) OutputPath(sourceName, outputExt string) string {
	return filepath.Join(p.dir, replaceExt(sourceName, outputExt))
}

// Cleanup removes every per-job file from the exchange directory: markers,
// staged source and converted output. Safe to call for ids that never
// published.
func (p *Producer) Cleanup(id, sourceName, outputExt string) {
	for _, name := range []string{
		RequestMarker(id), DoneMarker(id), FailedMarker(id),
		sourceName, replaceExt(sourceName, outputExt),
	} {
		if name == "" {
			continue
		}
		_ = os.Remove(filepath.Join(p.dir, name))
	}
}

func replaceExt(name, ext string) string {
	base := name[:len(name)-len(filepath.Ext(name))]
	return base + "." + ext
}
