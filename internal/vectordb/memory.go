package vectordb

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"Pivot/internal/embedding"
)

// Memory is an exact-scan in-memory index.
type Memory struct {
	provider embedding.Provider

	mu     sync.RWMutex
	chunks []*chunk
	docs   atomic.Int64
	frozen atomic.Bool
}

// NewMemory returns an empty in-memory index.
func NewMemory(provider embedding.Provider) *Memory {
	return &Memory{provider: provider}
}

// AddDocument chunks, embeds and stores text. Embedding runs outside the lock
// so concurrent documents are embedded in parallel.
func (m *Memory) AddDocument(ctx context.Context, text string, opts ChunkOptions) (int, error) {
	if m.frozen.Load() {
		return 0, ErrFrozen
	}
	doc := int(m.docs.Add(1))
	chunks, err := prepare(ctx, m.provider, doc, text, opts)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen.Load() {
		return 0, ErrFrozen
	}
	for i := range chunks {
		m.chunks = append(m.chunks, &chunks[i])
	}
	return len(chunks), nil
}

// Search scores every chunk against the query.
func (m *Memory) Search(ctx context.Context, query string, pageCount int, threshold float64) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || pageCount <= 0 {
		return nil, nil
	}
	qv, err := m.provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	r := newRanker(pageCount, threshold)
	for _, c := range m.chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.offer(c, embedding.Cosine(qv, c.vector))
	}
	return r.results(), nil
}

// Freeze ends the write phase.
func (m *Memory) Freeze() { m.frozen.Store(true) }

// Len returns the number of stored chunks.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// Close releases nothing.
func (m *Memory) Close() error { return nil }
