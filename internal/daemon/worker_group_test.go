package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerGroupRunsAndDrains(t *testing.T) {
	var g WorkerGroup
	var ran atomic.Int32

	for i := 0; i < 5; i++ {
		assert.True(t, g.Go(func() { ran.Add(1) }))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.StopAndWait(ctx))
	assert.Equal(t, int32(5), ran.Load())
}

func TestWorkerGroupRefusesAfterStop(t *testing.T) {
	var g WorkerGroup
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.StopAndWait(ctx))

	assert.False(t, g.Go(func() {}), "no new workers once stopping")
}

func TestWorkerGroupStopTimesOut(t *testing.T) {
	var g WorkerGroup
	block := make(chan struct{})
	g.Go(func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.StopAndWait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(block)
}

func TestWorkerGroupNilFunc(t *testing.T) {
	var g WorkerGroup
	assert.False(t, g.Go(nil))
}
