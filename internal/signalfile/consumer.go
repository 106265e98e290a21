package signalfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ConvertFunc runs the conversion toolchain once, synchronously, producing
// output from input. The returned error's embedded exit status (if any) ends
// up in the failure marker.
type ConvertFunc func(ctx context.Context, input, output string) error

// CommandConverter wraps an external command as a ConvertFunc. The input and
// output paths are appended as the last two arguments.
func CommandConverter(command []string, timeout time.Duration) ConvertFunc {
	return func(ctx context.Context, input, output string) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		argv := append(append([]string{}, command...), input, output)
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return fmt.Errorf("toolchain exit status %d: %s", exitErr.ExitCode(), firstLine(out))
			}
			return fmt.Errorf("toolchain: %w", err)
		}
		return nil
	}
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// Consumer is the helper side of the protocol: a single-threaded poll loop
// over the exchange directory.
type Consumer struct {
	dir       string
	convert   ConvertFunc
	outputExt string
	tick      time.Duration
}

// NewConsumer builds the helper loop. outputExt names the extension of the
// expected conversion output ("pdf" for the CAD toolchain).
func NewConsumer(dir string, convert ConvertFunc, outputExt string, tick time.Duration) *Consumer {
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	return &Consumer{dir: dir, convert: convert, outputExt: outputExt, tick: tick}
}

// Run scans at the fixed tick until the context is cancelled. Scan errors are
// logged and the loop keeps going; a broken pass must not kill the helper.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		if err := c.RunOnce(ctx); err != nil {
			slog.Error("helper scan pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs one scan pass: every request marker present is handled to
// its terminal marker, sequentially in name order. A marker removed
// out-of-band before the pass is simply not seen, so a restarted consumer
// never writes a duplicate outcome.
func (c *Consumer) RunOnce(ctx context.Context) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("scan exchange dir: %w", err)
	}

	var markers []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), requestSuffix) {
			markers = append(markers, e.Name())
		}
	}
	sort.Strings(markers)

	for _, marker := range markers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.handle(ctx, marker)
	}
	return nil
}

// handle drives one request to its terminal marker. The request marker is
// always removed before the terminal marker is written.
func (c *Consumer) handle(ctx context.Context, marker string) {
	id := strings.TrimSuffix(marker, requestSuffix)
	markerPath := filepath.Join(c.dir, marker)

	// A lingering marker beside an existing outcome is a producer bug; the
	// outcome stands, only the marker goes.
	if _, concluded, err := ReadOutcome(c.dir, id); err == nil && concluded {
		_ = os.Remove(markerPath)
		return
	}

	content, err := os.ReadFile(markerPath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("read request marker", slog.String("id", id), slog.String("error", err.Error()))
		}
		return
	}
	sourceName := strings.TrimSpace(string(content))
	if sourceName == "" {
		_ = os.Remove(markerPath)
		c.fail(id, "malformed request: empty source filename")
		return
	}

	input := filepath.Join(c.dir, sourceName)
	if _, err := os.Stat(input); err != nil {
		// Producer-side contract violation. No internal retry.
		_ = os.Remove(markerPath)
		c.fail(id, "input not found: "+sourceName)
		return
	}

	output := filepath.Join(c.dir, replaceExt(sourceName, c.outputExt))
	convErr := c.convert(ctx, input, output)

	_ = os.Remove(markerPath)

	if convErr != nil {
		c.fail(id, convErr.Error())
		return
	}
	if _, err := os.Stat(output); err != nil {
		// Exit 0 with no output artifact is still a failure.
		c.fail(id, "toolchain reported success but produced no output")
		return
	}
	if err := writeFileAtomic(filepath.Join(c.dir, DoneMarker(id)), nil); err != nil {
		slog.Error("write done marker", slog.String("id", id), slog.String("error", err.Error()))
		return
	}
	slog.Info("conversion done", slog.String("id", id), slog.String("source", sourceName))
}

func (c *Consumer) fail(id, cause string) {
	if err := writeFileAtomic(filepath.Join(c.dir, FailedMarker(id)), []byte(cause)); err != nil {
		slog.Error("write failed marker", slog.String("id", id), slog.String("error", err.Error()))
		return
	}
	slog.Warn("conversion failed", slog.String("id", id), slog.String("cause", cause))
}
