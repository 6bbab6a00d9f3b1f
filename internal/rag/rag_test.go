package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/embedding"
	"Pivot/internal/vectordb"
)

type fakeSearcher struct {
	results []vectordb.Result
	err     error
	calls   int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, pageCount int, threshold float64) ([]vectordb.Result, error) {
	f.calls++
	return f.results, f.err
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestAugmentBounds(t *testing.T) {
	s := &fakeSearcher{results: []vectordb.Result{
		{Text: "low", Score: 0.1, ChunkID: "a#0"},
		{Text: "second", Score: 0.6, ChunkID: "b#0"},
		{Text: "first", Score: 0.9, ChunkID: "c#0"},
		{Text: "third", Score: 0.6, ChunkID: "c#1"},
		{Text: "fourth", Score: 0.5, ChunkID: "d#0"},
	}}

	tests := []struct {
		name      string
		pageCount int
		threshold float64
		want      string
	}{
		{name: "defaults", pageCount: DefaultPageCount, threshold: DefaultThreshold, want: "first\n\nsecond\n\nthird"},
		{name: "one page", pageCount: 1, threshold: 0.3, want: "first"},
		{name: "high threshold", pageCount: 3, threshold: 0.95, want: ""},
		{name: "zero pages", pageCount: 0, threshold: 0.3, want: ""},
		{name: "everything", pageCount: 10, threshold: 0, want: "first\n\nsecond\n\nthird\n\nfourth\n\nlow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAugmenter(s, WithPageCount(tt.pageCount), WithThreshold(tt.threshold))
			text, passages := a.AugmentPassages(context.Background(), "query")
			assert.Equal(t, tt.want, text)
			assert.LessOrEqual(t, len(passages), max(tt.pageCount, 0))
			for i, p := range passages {
				assert.GreaterOrEqual(t, p.Score, tt.threshold)
				if i > 0 {
					assert.GreaterOrEqual(t, passages[i-1].Score, p.Score)
				}
			}
		})
	}
}

func TestAugmentSearchFailure(t *testing.T) {
	s := &fakeSearcher{err: errors.New("index offline")}
	a := NewAugmenter(s, WithLogger(zap.NewNop()))
	assert.Equal(t, "", a.Augment(context.Background(), "query"))
	assert.Equal(t, 1, s.calls)
}

func TestAugmentEmptyQuery(t *testing.T) {
	s := &fakeSearcher{results: []vectordb.Result{{Text: "x", Score: 1}}}
	a := NewAugmenter(s)
	assert.Equal(t, "", a.Augment(context.Background(), "  "))
	assert.Zero(t, s.calls)

	var nilAug *Augmenter
	assert.Equal(t, "", nilAug.Augment(context.Background(), "query"))
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.md", "b")
	writeFile(t, dir, "a.TXT", "a")
	writeFile(t, dir, "nested/c.mdx", "c")
	writeFile(t, dir, "skip.go", "package x")

	paths, err := Discover(dir, normalizeExtensions([]string{"txt", ".md", ".MDX"}))
	require.NoError(t, err)

	var names []string
	for _, p := range paths {
		rel, err := filepath.Rel(dir, p)
		require.NoError(t, err)
		names = append(names, filepath.ToSlash(rel))
	}
	assert.Equal(t, []string{"a.TXT", "b.md", "nested/c.mdx"}, names)

	_, err = Discover(filepath.Join(dir, "missing"), normalizeExtensions(DefaultExtensions))
	assert.Error(t, err)
	_, err = Discover("", normalizeExtensions(DefaultExtensions))
	assert.Error(t, err)
}

func TestLoaderIndexesCorpus(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.txt", "first paragraph\n\nsecond paragraph")
	writeFile(t, dir, "docs/two.md", "third paragraph")
	writeFile(t, dir, "empty.txt", "   \n")

	idx := vectordb.NewMemory(embedding.NewHashingProvider(256))
	loader, err := NewLoader(config.RAGConfig{CorpusPath: dir, Concurrency: 2}, idx, zap.NewNop())
	require.NoError(t, err)

	stats, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 3, idx.Len())

	results, err := idx.Search(context.Background(), "third paragraph", 1, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "docs/two.md", results[0].Source)

	_, err = idx.AddDocument(context.Background(), "late", vectordb.ChunkOptions{})
	assert.ErrorIs(t, err, vectordb.ErrFrozen)
}

func TestLoaderRejectsBadChunking(t *testing.T) {
	_, err := NewLoader(config.RAGConfig{Chunking: "pages"}, vectordb.NewMemory(embedding.NewHashingProvider(8)), nil)
	assert.Error(t, err)
}

func TestCloudGlossaryEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "glossary.txt", "Cloud = protagonist of the story\n\nMidgar = a city powered by mako reactors")

	cfg := config.Default().RAG
	cfg.CorpusPath = dir
	idx := vectordb.NewMemory(embedding.NewHashingProvider(4096))
	loader, err := NewLoader(cfg, idx, zap.NewNop())
	require.NoError(t, err)
	_, err = loader.Load(context.Background())
	require.NoError(t, err)

	a := AugmenterFromConfig(idx, cfg, zap.NewNop())
	text, passages := a.AugmentPassages(context.Background(), "Cloud is the main character.")
	assert.True(t, strings.Contains(text, "Cloud = protagonist of the story"), text)
	assert.NotContains(t, text, "Midgar")
	require.Len(t, passages, 1)
	assert.Equal(t, "glossary.txt", passages[0].Source)
}
