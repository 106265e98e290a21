package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAudit(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndGetByJobID(t *testing.T) {
	store := newTestAudit(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "j1", EventClaimed, nil, map[string]string{"attempt": "1"}))
	require.NoError(t, store.Append(ctx, "j1", EventCompleted, []byte(`{"thumbnail":"j1.png"}`), nil))
	require.NoError(t, store.Append(ctx, "j2", EventClaimed, nil, nil))

	events, err := store.GetByJobID(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventClaimed, events[0].Type)
	assert.Equal(t, "1", events[0].Metadata["attempt"])
	assert.Equal(t, EventCompleted, events[1].Type)
	assert.JSONEq(t, `{"thumbnail":"j1.png"}`, string(events[1].Payload))
}

func TestGetRange(t *testing.T) {
	store := newTestAudit(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "j1", EventRetried, nil, nil))

	events, err := store.GetRange(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = store.GetRange(ctx, time.Now().Add(time.Hour), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNopStore(t *testing.T) {
	var s Store = NopStore{}
	require.NoError(t, s.Append(context.Background(), "j1", EventFailed, nil, nil))
	events, err := s.GetByJobID(context.Background(), "j1")
	require.NoError(t, err)
	assert.Nil(t, events)
}
