package vectordb

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"Pivot/internal/config"
	"Pivot/internal/embedding"
)

// fixedProvider returns preset vectors, falling back to the hashing embedder.
type fixedProvider struct {
	vectors map[string][]float32
	inner   *embedding.HashingProvider
}

func newFixedProvider(vectors map[string][]float32) *fixedProvider {
	return &fixedProvider{vectors: vectors, inner: embedding.NewHashingProvider(64)}
}

func (p *fixedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := p.vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}
	return p.inner.Embed(ctx, text)
}

func (p *fixedProvider) Close() error { return nil }

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		text string
		opts ChunkOptions
		want []string
	}{
		{
			name: "paragraphs",
			text: "first line\nsame para\n\n\n  second para  \n\n",
			opts: ChunkOptions{Method: Paragraph},
			want: []string{"first line\nsame para", "second para"},
		},
		{
			name: "sentences",
			text: "One. Two! Three? v1.2 stays",
			opts: ChunkOptions{Method: Sentence},
			want: []string{"One.", "Two!", "Three?", "v1.2 stays"},
		},
		{
			name: "japanese sentences",
			text: "クラウドは主人公です。ティファは友人！",
			opts: ChunkOptions{Method: Sentence},
			want: []string{"クラウドは主人公です。", "ティファは友人！"},
		},
		{
			name: "long chunk re-split on words",
			text: "aaa bbb ccc ddd",
			opts: ChunkOptions{MaxChars: 7},
			want: []string{"aaa bbb", "ccc ddd"},
		},
		{
			name: "long chunk without spaces",
			text: "あいうえおかき",
			opts: ChunkOptions{MaxChars: 3},
			want: []string{"あいう", "えおか", "き"},
		},
		{
			name: "blank",
			text: " \n\n \n",
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.text, tt.opts))
		})
	}
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("Sentence")
	require.NoError(t, err)
	assert.Equal(t, Sentence, m)

	m, err = ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, Paragraph, m)

	_, err = ParseMethod("pages")
	assert.Error(t, err)
}

func TestRankerBoundsAndTies(t *testing.T) {
	r := newRanker(2, 0.5)
	for _, c := range []struct {
		id    string
		score float64
	}{
		{"d#0", 0.7}, {"b#0", 0.7}, {"a#0", 0.2}, {"c#0", 0.7}, {"e#0", 0.9},
	} {
		r.offer(&chunk{id: c.id}, c.score)
	}

	got := r.results()
	require.Len(t, got, 2)
	assert.Equal(t, "e#0", got[0].ChunkID)
	assert.Equal(t, "b#0", got[1].ChunkID)

	assert.Empty(t, newRanker(0, 0).results())
}

func TestMemorySearch(t *testing.T) {
	ctx := context.Background()
	p := newFixedProvider(map[string][]float32{
		"alpha":   {1, 0, 0},
		"beta":    {0.8, 0.6, 0},
		"gamma":   {0, 0, 1},
		"query a": {1, 0, 0},
	})
	idx := NewMemory(p)

	n, err := idx.AddDocument(ctx, "alpha\n\nbeta\n\ngamma", ChunkOptions{
		Metadata: func(string) string { return "corpus.txt" },
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, idx.Len())

	results, err := idx.Search(ctx, "query a", 5, 0.3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Text)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "beta", results[1].Text)
	assert.InDelta(t, 0.8, results[1].Score, 1e-6)
	assert.Equal(t, "corpus.txt", results[0].Source)
	assert.Equal(t, "corpus.txt#0", results[0].ChunkID)

	results, err = idx.Search(ctx, "query a", 1, 0.3)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = idx.Search(ctx, "   ", 3, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFreeze(t *testing.T) {
	ctx := context.Background()
	p := embedding.NewHashingProvider(64)
	for name, idx := range map[string]Index{
		"memory": NewMemory(p),
		"hnsw":   NewHNSW(p, zap.NewNop()),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := idx.AddDocument(ctx, "before freeze", ChunkOptions{})
			require.NoError(t, err)
			idx.Freeze()
			_, err = idx.AddDocument(ctx, "after freeze", ChunkOptions{})
			assert.ErrorIs(t, err, ErrFrozen)
			assert.Equal(t, 1, idx.Len())
		})
	}
}

func markerDoc(i int) string {
	return fmt.Sprintf("marker%03d appears in this document", i)
}

// indexConcurrently adds n marker documents in parallel, the way the corpus
// loader does.
func indexConcurrently(t *testing.T, idx Index, n int) {
	t.Helper()
	var g errgroup.Group
	g.SetLimit(8)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			source := fmt.Sprintf("doc%03d.txt", i)
			_, err := idx.AddDocument(context.Background(), markerDoc(i), ChunkOptions{
				Metadata: func(string) string { return source },
			})
			return err
		})
	}
	require.NoError(t, g.Wait())
	idx.Freeze()
}

func TestConcurrentIndexing(t *testing.T) {
	const n = 40
	p := embedding.NewHashingProvider(4096)

	duck, err := NewDuckDB("", p, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { duck.Close() })

	for name, idx := range map[string]Index{
		"memory": NewMemory(p),
		"hnsw":   NewHNSW(p, zap.NewNop()),
		"duckdb": duck,
	} {
		t.Run(name, func(t *testing.T) {
			indexConcurrently(t, idx, n)
			assert.Equal(t, n, idx.Len())

			for _, i := range []int{0, 7, n - 1} {
				want := fmt.Sprintf("doc%03d.txt", i)
				results, err := idx.Search(context.Background(), fmt.Sprintf("marker%03d", i), 3, 0.3)
				require.NoError(t, err)
				require.NotEmpty(t, results)

				var found bool
				for j, r := range results {
					assert.GreaterOrEqual(t, r.Score, 0.3)
					if j > 0 {
						assert.GreaterOrEqual(t, results[j-1].Score, r.Score)
					}
					if r.Source == want {
						found = true
						assert.Equal(t, markerDoc(i), r.Text)
						assert.Equal(t, want+"#0", r.ChunkID)
					}
				}
				assert.True(t, found, "marker %d not retrieved", i)
			}
		})
	}
}

func TestHNSWRecall(t *testing.T) {
	p := embedding.NewHashingProvider(4096)

	// 40 stays under the exact-scan limit, 300 goes through the graph.
	for _, n := range []int{40, 300} {
		t.Run(fmt.Sprintf("%d docs", n), func(t *testing.T) {
			ctx := context.Background()
			idx := NewHNSW(p, zap.NewNop())
			for i := 0; i < n; i++ {
				source := fmt.Sprintf("doc%03d.txt", i)
				_, err := idx.AddDocument(ctx, markerDoc(i), ChunkOptions{
					Metadata: func(string) string { return source },
				})
				require.NoError(t, err)
			}
			idx.Freeze()

			for i := 0; i < n; i++ {
				results, err := idx.Search(ctx, fmt.Sprintf("marker%03d", i), 3, 0.3)
				require.NoError(t, err)
				want := fmt.Sprintf("doc%03d.txt", i)
				var found bool
				for _, r := range results {
					found = found || r.Source == want
				}
				assert.True(t, found, "marker %d not retrieved", i)
			}
		})
	}
}

func TestDuckDBSearch(t *testing.T) {
	ctx := context.Background()
	p := newFixedProvider(map[string][]float32{
		"alpha": {1, 0},
		"beta":  {0, 1},
		"q":     {1, 0},
	})
	idx, err := NewDuckDB("", p, zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()

	n, err := idx.AddDocument(ctx, "alpha\n\nbeta", ChunkOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := idx.Search(ctx, "q", 3, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha", results[0].Text)
	assert.Equal(t, "doc-1#0", results[0].ChunkID)
}

func TestFloat32Blob(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3e-8}
	assert.Equal(t, v, bytesToFloat32Slice(float32SliceToBytes(v)))
}

func TestNewBackends(t *testing.T) {
	p := embedding.NewHashingProvider(32)
	for _, backend := range []string{"", "memory", "hnsw", "duckdb"} {
		idx, err := New(config.RAGConfig{IndexBackend: backend}, p, nil)
		require.NoError(t, err, backend)
		assert.NoError(t, idx.Close())
	}

	_, err := New(config.RAGConfig{IndexBackend: "faiss"}, p, nil)
	assert.Error(t, err)
	_, err = New(config.RAGConfig{}, nil, nil)
	assert.Error(t, err)
}
