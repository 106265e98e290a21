package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SweepStale removes leftover volumes older than maxAge. Workers crash, so
// explicit teardown is best effort; the sweep runs at startup and periodically
// and makes teardown eventually guaranteed. Returns the number of volumes
// removed.
func SweepStale(root string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan volume root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "job-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("sweep could not remove volume", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		removed++
		slog.Info("swept stale volume", slog.String("path", path), slog.Time("mtime", info.ModTime()))
	}
	return removed, nil
}
