package rag

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/metrics"
	"Pivot/internal/vectordb"
)

const (
	DefaultPageCount = 3
	DefaultThreshold = 0.3
)

// PassageSeparator joins retrieved passages into one augmentation block.
const PassageSeparator = "\n\n"

// Searcher is the part of vectordb.Index the augmenter reads.
type Searcher interface {
	Search(ctx context.Context, query string, pageCount int, threshold float64) ([]vectordb.Result, error)
}

// Augmenter turns a query into reference text for a prompt.
type Augmenter struct {
	index     Searcher
	pageCount int
	threshold float64
	logger    *zap.Logger
}

// AugmenterOption configures an Augmenter.
type AugmenterOption func(*Augmenter)

// WithPageCount bounds how many passages are returned.
func WithPageCount(n int) AugmenterOption {
	return func(a *Augmenter) { a.pageCount = n }
}

// WithThreshold sets the minimum similarity a passage needs.
func WithThreshold(th float64) AugmenterOption {
	return func(a *Augmenter) { a.threshold = th }
}

// WithLogger sets the logger for search failures.
func WithLogger(l *zap.Logger) AugmenterOption {
	return func(a *Augmenter) { a.logger = l }
}

// NewAugmenter returns an augmenter over index with the default bounds.
func NewAugmenter(index Searcher, opts ...AugmenterOption) *Augmenter {
	a := &Augmenter{
		index:     index,
		pageCount: DefaultPageCount,
		threshold: DefaultThreshold,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AugmenterFromConfig uses rag.page_count and rag.threshold.
func AugmenterFromConfig(index Searcher, cfg config.RAGConfig, logger *zap.Logger) *Augmenter {
	opts := []AugmenterOption{WithThreshold(cfg.Threshold), WithPageCount(cfg.PageCount)}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	return NewAugmenter(index, opts...)
}

// Augment returns the passages relevant to query joined by PassageSeparator,
// or "" when nothing qualifies.
func (a *Augmenter) Augment(ctx context.Context, query string) string {
	text, _ := a.AugmentPassages(ctx, query)
	return text
}

// AugmentPassages is Augment that also returns the passages used. A failed
// search means no augmentation; it is logged, never returned.
func (a *Augmenter) AugmentPassages(ctx context.Context, query string) (string, []vectordb.Result) {
	if a == nil || a.index == nil || a.pageCount <= 0 || strings.TrimSpace(query) == "" {
		return "", nil
	}

	results, err := a.index.Search(ctx, query, a.pageCount, a.threshold)
	if err != nil {
		a.logger.Warn("retrieval failed; continuing without augmentation", zap.Error(err))
		metrics.RecordRetrieval("error", 0)
		return "", nil
	}

	passages := make([]vectordb.Result, 0, len(results))
	for _, r := range results {
		if r.Score >= a.threshold && strings.TrimSpace(r.Text) != "" {
			passages = append(passages, r)
		}
	}
	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].Score == passages[j].Score {
			return passages[i].ChunkID < passages[j].ChunkID
		}
		return passages[i].Score > passages[j].Score
	})
	if len(passages) > a.pageCount {
		passages = passages[:a.pageCount]
	}
	if len(passages) == 0 {
		metrics.RecordRetrieval("empty", 0)
		return "", nil
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	metrics.RecordRetrieval("hit", len(passages))
	a.logger.Debug("retrieved passages", zap.Int("count", len(passages)), zap.Float64("top_score", passages[0].Score))
	return strings.Join(texts, PassageSeparator), passages
}
