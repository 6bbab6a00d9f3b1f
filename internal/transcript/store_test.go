package transcript

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "turns.db"))
	require.NoError(t, err)
	defer store.Close()

	base := time.UnixMilli(1_700_000_000_000)
	first := TurnRecord{
		ID:        "turn-1",
		CreatedAt: base,
		Final:     "クラウドは主人公です。",
		Glossary:  "Cloud = protagonist of the story",
		Stages: []StageRecord{
			{Stage: "translate_user", Input: "クラウドは主人公?", Output: "Is Cloud the hero?", Kind: "done", PromptTokens: 40, GeneratedTokens: 6, Elapsed: 1500 * time.Millisecond},
			{Stage: "primary", Input: "Is Cloud the hero?", Output: "Yes.", Kind: "done", PromptTokens: 12, GeneratedTokens: 2},
		},
	}
	second := TurnRecord{ID: "turn-2", CreatedAt: base.Add(time.Minute), Final: "partial", Degraded: true}

	require.NoError(t, store.Record(ctx, first))
	require.NoError(t, store.Record(ctx, second))

	turns, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, "turn-2", turns[0].ID)
	assert.True(t, turns[0].Degraded)
	assert.Empty(t, turns[0].Stages)

	got := turns[1]
	assert.Equal(t, first.Final, got.Final)
	assert.Equal(t, first.Glossary, got.Glossary)
	assert.True(t, base.Equal(got.CreatedAt))
	assert.Equal(t, first.Stages, got.Stages)

	turns, err = store.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestRecordValidation(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "turns.db"))
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, store.Record(context.Background(), TurnRecord{}))
	_, err = store.Recent(context.Background(), 0)
	assert.Error(t, err)

	var nilStore *Store
	assert.Error(t, nilStore.Record(context.Background(), TurnRecord{ID: "x"}))
	assert.NoError(t, nilStore.Close())
}

func TestDuplicateTurnRejected(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "turns.db"))
	require.NoError(t, err)
	defer store.Close()

	rec := TurnRecord{ID: "same", Final: "a"}
	require.NoError(t, store.Record(context.Background(), rec))
	assert.Error(t, store.Record(context.Background(), rec))
}
