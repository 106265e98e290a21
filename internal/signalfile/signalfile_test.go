package signalfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okConvert(t *testing.T) ConvertFunc {
	t.Helper()
	return func(_ context.Context, input, output string) error {
		data, err := os.ReadFile(input)
		if err != nil {
			return err
		}
		return os.WriteFile(output, append([]byte("converted:"), data...), 0o644)
	}
}

func outcomeMarkers(t *testing.T, dir, id string) (done, failed bool) {
	t.Helper()
	_, err := os.Stat(filepath.Join(dir, DoneMarker(id)))
	done = err == nil
	_, err = os.Stat(filepath.Join(dir, FailedMarker(id)))
	failed = err == nil
	return done, failed
}

func TestPublishStagesSourceAndMarker(t *testing.T) {
	dir := t.TempDir()
	p := NewProducer(dir)

	require.NoError(t, p.Publish("J1", "drawing.dwg", []byte("dwg-bytes")))

	data, err := os.ReadFile(filepath.Join(dir, "drawing.dwg"))
	require.NoError(t, err)
	assert.Equal(t, "dwg-bytes", string(data))

	marker, err := os.ReadFile(filepath.Join(dir, "J1.convert"))
	require.NoError(t, err)
	assert.Equal(t, "drawing.dwg", string(marker))
}

func TestPublishRefusedAfterOutcome(t *testing.T) {
	dir := t.TempDir()
	p := NewProducer(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, DoneMarker("J1")), nil, 0o644))
	err := p.Publish("J1", "drawing.dwg", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal marker")
}

func TestConsumerSuccessPath(t *testing.T) {
	dir := t.TempDir()
	p := NewProducer(dir)
	c := NewConsumer(dir, okConvert(t), "pdf", time.Millisecond)

	require.NoError(t, p.Publish("J1", "drawing.dwg", []byte("dwg-bytes")))
	require.NoError(t, c.RunOnce(context.Background()))

	done, failed := outcomeMarkers(t, dir, "J1")
	assert.True(t, done)
	assert.False(t, failed, "exactly one outcome, never both")
	_, err := os.Stat(filepath.Join(dir, "J1.convert"))
	assert.True(t, os.IsNotExist(err), "request marker must be removed")

	out, err := os.ReadFile(p.OutputPath("drawing.dwg", "pdf"))
	require.NoError(t, err)
	assert.Equal(t, "converted:dwg-bytes", string(out))
}

func TestConsumerMissingInput(t *testing.T) {
	dir := t.TempDir()
	c := NewConsumer(dir, okConvert(t), "pdf", time.Millisecond)

	// Marker references a file that was never staged.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "J2.convert"), []byte("drawing.dwg"), 0o644))
	require.NoError(t, c.RunOnce(context.Background()))

	done, failed := outcomeMarkers(t, dir, "J2")
	assert.False(t, done)
	assert.True(t, failed)

	cause, err := os.ReadFile(filepath.Join(dir, FailedMarker("J2")))
	require.NoError(t, err)
	assert.Contains(t, string(cause), "input not found")

	_, err = os.Stat(filepath.Join(dir, "J2.convert"))
	assert.True(t, os.IsNotExist(err))
}

func TestConsumerToolchainFailure(t *testing.T) {
	dir := t.TempDir()
	c := NewConsumer(dir, func(context.Context, string, string) error {
		return fmt.Errorf("toolchain exit status 3: corrupt header")
	}, "pdf", time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "drawing.dwg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "J1.convert"), []byte("drawing.dwg"), 0o644))
	require.NoError(t, c.RunOnce(context.Background()))

	cause, err := os.ReadFile(filepath.Join(dir, FailedMarker("J1")))
	require.NoError(t, err)
	assert.Contains(t, string(cause), "exit status 3")
}

func TestConsumerSuccessWithoutOutputIsFailure(t *testing.T) {
	dir := t.TempDir()
	c := NewConsumer(dir, func(context.Context, string, string) error {
		return nil // exits clean but writes nothing
	}, "pdf", time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "drawing.dwg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "J1.convert"), []byte("drawing.dwg"), 0o644))
	require.NoError(t, c.RunOnce(context.Background()))

	done, failed := outcomeMarkers(t, dir, "J1")
	assert.False(t, done)
	assert.True(t, failed)
}

func TestConsumerRestartAfterMarkerRemoval(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	c := NewConsumer(dir, func(_ context.Context, _, output string) error {
		calls++
		return os.WriteFile(output, []byte("out"), 0o644)
	}, "pdf", time.Millisecond)

	// Simulate a crash between marker removal and outcome write: the marker is
	// gone out-of-band, so a fresh pass must take no action for that id.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drawing.dwg"), []byte("x"), 0o644))
	require.NoError(t, c.RunOnce(context.Background()))

	assert.Equal(t, 0, calls)
	done, failed := outcomeMarkers(t, dir, "J1")
	assert.False(t, done)
	assert.False(t, failed)
}

func TestConsumerMarkerBesideOutcomeIsDropped(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	c := NewConsumer(dir, func(context.Context, string, string) error {
		calls++
		return nil
	}, "pdf", time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "drawing.dwg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "J1.convert"), []byte("drawing.dwg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DoneMarker("J1")), nil, 0o644))

	require.NoError(t, c.RunOnce(context.Background()))

	assert.Equal(t, 0, calls, "a concluded id is never reprocessed")
	_, err := os.Stat(filepath.Join(dir, "J1.convert"))
	assert.True(t, os.IsNotExist(err))
	done, failed := outcomeMarkers(t, dir, "J1")
	assert.True(t, done)
	assert.False(t, failed)
}

func TestConsumerHandlesIndependentIDsInOnePass(t *testing.T) {
	dir := t.TempDir()
	c := NewConsumer(dir, okConvert(t), "pdf", time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dwg"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.dwg"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "J1.convert"), []byte("a.dwg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "J2.convert"), []byte("b.dwg"), 0o644))

	require.NoError(t, c.RunOnce(context.Background()))

	for _, id := range []string{"J1", "J2"} {
		done, failed := outcomeMarkers(t, dir, id)
		assert.True(t, done, "%s should be done", id)
		assert.False(t, failed)
	}
}

func TestAwaitOutcome(t *testing.T) {
	dir := t.TempDir()
	p := NewProducer(dir)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = writeFileAtomic(filepath.Join(dir, FailedMarker("J1")), []byte("DWG file not found"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome, err := p.AwaitOutcome(ctx, "J1", 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, outcome.Done)
	assert.Equal(t, "DWG file not found", outcome.Cause)
}

func TestAwaitOutcomeDeadline(t *testing.T) {
	dir := t.TempDir()
	p := NewProducer(dir)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.AwaitOutcome(ctx, "J1", 5*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "helper-timeout")
}

func TestCleanupRemovesPerJobFiles(t *testing.T) {
	dir := t.TempDir()
	p := NewProducer(dir)

	require.NoError(t, p.Publish("J1", "drawing.dwg", []byte("x")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drawing.pdf"), []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DoneMarker("J1")), nil, 0o644))

	p.Cleanup("J1", "drawing.dwg", "pdf")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
