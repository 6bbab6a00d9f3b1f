// Package vectordb stores document chunks with their embeddings and answers
// thresholded top-k similarity queries.
package vectordb

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/embedding"
)

// ErrFrozen is returned by AddDocument once the index has been frozen.
var ErrFrozen = errors.New("vectordb: index is frozen")

// Result is one retrieved passage.
type Result struct {
	Text    string  `json:"text"`
	Source  string  `json:"source"`
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// Index is a vector similarity index. AddDocument is safe for concurrent use
// during the write phase; Freeze ends that phase, after which the index is
// only read.
type Index interface {
	AddDocument(ctx context.Context, text string, opts ChunkOptions) (int, error)
	Search(ctx context.Context, query string, pageCount int, threshold float64) ([]Result, error)
	Freeze()
	Len() int
	Close() error
}

// New builds the index backend named by cfg.IndexBackend.
func New(cfg config.RAGConfig, provider embedding.Provider, logger *zap.Logger) (Index, error) {
	if provider == nil {
		return nil, errors.New("vectordb: embedding provider required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.IndexBackend)) {
	case "", "memory":
		return NewMemory(provider), nil
	case "hnsw":
		return NewHNSW(provider, logger), nil
	case "duckdb":
		return NewDuckDB(cfg.DuckDBPath, provider, logger)
	default:
		return nil, fmt.Errorf("vectordb: unsupported index backend %q", cfg.IndexBackend)
	}
}

type chunk struct {
	id     string
	source string
	text   string
	vector []float32
}

// prepare splits and embeds one document. doc numbers the document when no
// metadata function labels it.
func prepare(ctx context.Context, provider embedding.Provider, doc int, text string, opts ChunkOptions) ([]chunk, error) {
	parts := Split(text, opts)
	chunks := make([]chunk, 0, len(parts))
	for i, p := range parts {
		vec, err := provider.Embed(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("vectordb: embed chunk %d: %w", i, err)
		}
		source := fmt.Sprintf("doc-%d", doc)
		if opts.Metadata != nil {
			source = opts.Metadata(p)
		}
		chunks = append(chunks, chunk{
			id:     fmt.Sprintf("%s#%d", source, i),
			source: source,
			text:   p,
			vector: vec,
		})
	}
	return chunks, nil
}

type scoredResult struct {
	chunk *chunk
	score float64
}

// minHeap keeps the worst retained result on top: lowest score, and on equal
// scores the larger chunk id.
type minHeap []scoredResult

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	if h[i].score == h[j].score {
		return h[i].chunk.id > h[j].chunk.id
	}
	return h[i].score < h[j].score
}
func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) {
	*h = append(*h, x.(scoredResult))
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

// ranker collects candidates and keeps the best pageCount at or above threshold.
type ranker struct {
	h         minHeap
	pageCount int
	threshold float64
}

func newRanker(pageCount int, threshold float64) *ranker {
	return &ranker{pageCount: pageCount, threshold: threshold}
}

func (r *ranker) offer(c *chunk, score float64) {
	if r.pageCount <= 0 || score < r.threshold {
		return
	}
	heap.Push(&r.h, scoredResult{chunk: c, score: score})
	if r.h.Len() > r.pageCount {
		heap.Pop(&r.h)
	}
}

// results returns the retained candidates by score descending, ties by chunk id.
func (r *ranker) results() []Result {
	out := make([]scoredResult, len(r.h))
	copy(out, r.h)
	sort.Slice(out, func(i, j int) bool {
		if out[i].score == out[j].score {
			return out[i].chunk.id < out[j].chunk.id
		}
		return out[i].score > out[j].score
	})

	results := make([]Result, len(out))
	for i, s := range out {
		results[i] = Result{Text: s.chunk.text, Source: s.chunk.source, ChunkID: s.chunk.id, Score: s.score}
	}
	return results
}
