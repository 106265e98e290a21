package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextAccumulation(t *testing.T) {
	ctx := context.Background()
	ctx = WithJobID(ctx, "job-1")
	ctx = WithKind(ctx, "cad")
	ctx = WithAttempt(ctx, 2)
	ctx = WithStage(ctx, "execute")

	lc := GetContext(ctx)
	assert.Equal(t, "job-1", lc.JobID)
	assert.Equal(t, "cad", lc.Kind)
	assert.Equal(t, 2, lc.Attempt)
	assert.Equal(t, "execute", lc.Stage)
}

func TestContextOverwrite(t *testing.T) {
	ctx := WithStage(context.Background(), "provision")
	ctx = WithStage(ctx, "collect")
	assert.Equal(t, "collect", GetContext(ctx).Stage)
}

func TestEmptyContext(t *testing.T) {
	lc := GetContext(context.Background())
	assert.Empty(t, lc.JobID)
	assert.Zero(t, lc.Attempt)
	assert.Len(t, getLogAttrs(context.Background()), 0)
}
