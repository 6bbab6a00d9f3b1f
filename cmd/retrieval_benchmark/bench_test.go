package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Pivot/internal/config"
)

func TestRunBackendAgreement(t *testing.T) {
	cfg := config.Default()
	ctx := context.Background()

	mem, err := runBackend(ctx, "memory", cfg, glossaryCases, 3, zap.NewNop())
	require.NoError(t, err)
	graph, err := runBackend(ctx, "hnsw", cfg, glossaryCases, 3, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, len(glossaryCases)*3, mem.Queries)
	assert.Zero(t, mem.Failed)
	assert.GreaterOrEqual(t, mem.Hit1Pct(), 50.0)
	assert.Equal(t, mem.HitAt1, graph.HitAt1)
	assert.InDelta(t, mem.MRR, graph.MRR, 1e-9)
}

func TestRunBackendUnknown(t *testing.T) {
	_, err := runBackend(context.Background(), "faiss", config.Default(), glossaryCases, 3, zap.NewNop())
	require.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "クラウ...", truncate("クラウド・ストライフ", 6))
	assert.Zero(t, pct(1, 0))
}
