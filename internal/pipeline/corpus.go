package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/embedding"
	"Pivot/internal/rag"
	"Pivot/internal/vectordb"
)

// Corpus is an indexed, frozen document corpus with its augmenter.
type Corpus struct {
	Index     vectordb.Index
	Augmenter *rag.Augmenter
	Stats     rag.LoadStats

	provider embedding.Provider
}

// LoadCorpus embeds and indexes rag.corpus_path. It does not load a model, so
// the search command can use it on its own.
func LoadCorpus(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Corpus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Require("rag.corpus_path"); err != nil {
		return nil, err
	}

	provider, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to initialise embedding provider: %w", err)
	}
	c := &Corpus{provider: provider}

	index, err := vectordb.New(cfg.RAG, provider, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	c.Index = index

	loader, err := rag.NewLoader(cfg.RAG, index, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	stats, err := loader.Load(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("pipeline: failed to load corpus: %w", err)
	}
	c.Stats = stats
	c.Augmenter = rag.AugmenterFromConfig(index, cfg.RAG, logger)
	return c, nil
}

// Close releases the index and the embedding provider.
func (c *Corpus) Close() error {
	var errs []error
	if c.Index != nil {
		errs = append(errs, c.Index.Close())
	}
	if c.provider != nil {
		errs = append(errs, c.provider.Close())
	}
	return errors.Join(errs...)
}
