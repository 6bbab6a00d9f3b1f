package vectordb

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/hnsw"
	"go.uber.org/zap"

	"Pivot/internal/embedding"
)

const (
	hnswEfSearch     = 128
	hnswMinCandidate = 32
	// Indexes up to this many chunks are always scanned exactly.
	hnswExactLimit = hnswMinCandidate * 8
)

// HNSW finds candidates through an approximate graph and then re-scores
// them exactly, so thresholds mean the same as with Memory. Small indexes,
// and graph searches that come back short of pageCount passing results, fall
// back to an exact scan over the stored vectors.
type HNSW struct {
	provider embedding.Provider
	logger   *zap.Logger

	mu     sync.RWMutex
	graph  *hnsw.Graph[int]
	chunks []*chunk
	docs   atomic.Int64
	frozen atomic.Bool
}

// NewHNSW returns an empty graph-backed index.
func NewHNSW(provider embedding.Provider, logger *zap.Logger) *HNSW {
	g := hnsw.NewGraph[int]()
	g.EfSearch = hnswEfSearch
	return &HNSW{provider: provider, logger: logger, graph: g}
}

func (h *HNSW) AddDocument(ctx context.Context, text string, opts ChunkOptions) (int, error) {
	if h.frozen.Load() {
		return 0, ErrFrozen
	}
	doc := int(h.docs.Add(1))
	chunks, err := prepare(ctx, h.provider, doc, text, opts)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.frozen.Load() {
		return 0, ErrFrozen
	}

	nodes := make([]hnsw.Node[int], 0, len(chunks))
	for i := range chunks {
		key := len(h.chunks)
		h.chunks = append(h.chunks, &chunks[i])
		// A zero vector has no direction; it can never be near anything.
		if isZero(chunks[i].vector) {
			h.logger.Debug("chunk has no indexable terms", zap.String("chunk_id", chunks[i].id))
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(key, chunks[i].vector))
	}
	if len(nodes) > 0 {
		h.graph.Add(nodes...)
	}
	return len(chunks), nil
}

func (h *HNSW) Search(ctx context.Context, query string, pageCount int, threshold float64) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || pageCount <= 0 {
		return nil, nil
	}
	qv, err := h.provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if isZero(qv) {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.graph.Len() == 0 {
		return nil, nil
	}

	if len(h.chunks) <= hnswExactLimit {
		return h.scan(ctx, qv, pageCount, threshold)
	}

	k := max(pageCount*4, hnswMinCandidate)
	r := newRanker(pageCount, threshold)
	for _, n := range h.graph.Search(qv, k) {
		c := h.chunks[n.Key]
		r.offer(c, embedding.Cosine(qv, c.vector))
	}
	if results := r.results(); len(results) >= pageCount {
		return results, nil
	}
	h.logger.Debug("graph search came back short, scanning",
		zap.Int("page_count", pageCount),
		zap.Int("chunks", len(h.chunks)))
	return h.scan(ctx, qv, pageCount, threshold)
}

// scan ranks every stored chunk. Callers hold the read lock.
func (h *HNSW) scan(ctx context.Context, qv []float32, pageCount int, threshold float64) ([]Result, error) {
	r := newRanker(pageCount, threshold)
	for _, c := range h.chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.offer(c, embedding.Cosine(qv, c.vector))
	}
	return r.results(), nil
}

func (h *HNSW) Freeze() { h.frozen.Store(true) }

func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chunks)
}

func (h *HNSW) Close() error { return nil }

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
