package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-audio-transcriber/internal/domain"
)

func TestCheckAndAllocateContiguous(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newMemStore())

	for i, id := range []int64{10, 11, 12} {
		alloc, err := l.CheckAndAllocate(ctx, "foo", domain.AudioMessage{ID: id}, "a.mp3", "fp-"+string(rune('a'+i)))
		require.NoError(t, err)
		assert.False(t, alloc.Duplicate)
		assert.Equal(t, i+1, alloc.Ordinal)
		assert.Equal(t, domain.StageAllocated, alloc.Pending.Stage)
	}

	state, err := l.State(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, 4, state.NextOrdinal)
}

func TestCheckAndAllocateDuplicate(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newMemStore())

	first, err := l.CheckAndAllocate(ctx, "foo", domain.AudioMessage{ID: 1}, "a.mp3", "fp")
	require.NoError(t, err)
	dup, err := l.CheckAndAllocate(ctx, "foo", domain.AudioMessage{ID: 2}, "b.mp3", "fp")
	require.NoError(t, err)

	assert.Equal(t, 1, first.Ordinal)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, int64(1), dup.Owner)
	assert.Zero(t, dup.Ordinal)

	state, err := l.State(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, 2, state.NextOrdinal)

	known, err := l.IsDuplicateContent(ctx, "foo", "fp")
	require.NoError(t, err)
	assert.True(t, known)
}

func TestCheckAndAllocateRepeatKeepsOrdinal(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newMemStore())

	a, err := l.CheckAndAllocate(ctx, "foo", domain.AudioMessage{ID: 5}, "a.mp3", "fp")
	require.NoError(t, err)
	b, err := l.CheckAndAllocate(ctx, "foo", domain.AudioMessage{ID: 5}, "a.mp3", "fp")
	require.NoError(t, err)

	assert.Equal(t, a.Ordinal, b.Ordinal)
	assert.False(t, b.Duplicate)
	state, err := l.State(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, 2, state.NextOrdinal)
}

func TestChannelsAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newMemStore())

	a, err := l.CheckAndAllocate(ctx, "foo", domain.AudioMessage{ID: 1}, "a.mp3", "fp")
	require.NoError(t, err)
	b, err := l.CheckAndAllocate(ctx, "bar", domain.AudioMessage{ID: 1}, "a.mp3", "fp")
	require.NoError(t, err)

	assert.Equal(t, 1, a.Ordinal)
	assert.Equal(t, 1, b.Ordinal)
	assert.False(t, b.Duplicate)
}

func TestRecordSeenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := NewLedger(store)

	alloc, err := l.CheckAndAllocate(ctx, "foo", domain.AudioMessage{ID: 3}, "a.mp3", "fp")
	require.NoError(t, err)

	rec := domain.SeenRecord{MessageID: 3, Fingerprint: "fp", Outcome: domain.OutcomeIngested, Ordinal: alloc.Ordinal}
	require.NoError(t, l.RecordSeen(ctx, "foo", rec))
	first := store.seen["foo"][3]

	rec.Ordinal = 99
	require.NoError(t, l.RecordSeen(ctx, "foo", rec))
	assert.Equal(t, first, store.seen["foo"][3])

	seen, err := l.HasBeenSeen(ctx, "foo", 3)
	require.NoError(t, err)
	assert.True(t, seen)

	_, pending, err := l.Pending(ctx, "foo", 3)
	require.NoError(t, err)
	assert.False(t, pending)

	ingested, duplicates, err := l.Counts(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, 1, ingested)
	assert.Equal(t, 0, duplicates)
}

func TestAdvanceCursorIsMonotonic(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newMemStore())

	require.NoError(t, l.AdvanceCursor(ctx, "foo", 10))
	require.NoError(t, l.AdvanceCursor(ctx, "foo", 4))

	state, err := l.State(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, int64(10), state.Cursor)
	assert.Equal(t, 1, state.NextOrdinal)
}

func TestListPendingSorted(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newMemStore())

	for _, id := range []int64{9, 2, 5} {
		require.NoError(t, l.SavePending(ctx, "foo", domain.IngestedFile{MessageID: id, Stage: domain.StageRenamed}))
	}
	files, err := l.ListPending(ctx, "foo")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, []int64{2, 5, 9}, []int64{files[0].MessageID, files[1].MessageID, files[2].MessageID})
}

func TestRememberDisplayNameKeepsOrdinal(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newMemStore())

	_, err := l.CheckAndAllocate(ctx, "foo", domain.AudioMessage{ID: 1}, "a.mp3", "fp")
	require.NoError(t, err)
	require.NoError(t, l.RememberDisplayName(ctx, "foo", "Renamed"))

	state, err := l.State(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", state.DisplayName)
	assert.Equal(t, 2, state.NextOrdinal)
}
