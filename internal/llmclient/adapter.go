package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/engine"
)

func init() {
	engine.Register("http", func(ctx context.Context, cfg config.EngineConfig, logger *zap.Logger) (*engine.Engine, error) {
		baseURL := strings.TrimSpace(cfg.HTTP.BaseURL)
		if baseURL == "" {
			return nil, fmt.Errorf("llmclient: http backend requires base_url")
		}

		timeout := 60 * time.Second
		if cfg.HTTP.Timeout != "" {
			parsed, err := time.ParseDuration(cfg.HTTP.Timeout)
			if err != nil {
				return nil, fmt.Errorf("llmclient: invalid http timeout %q: %w", cfg.HTTP.Timeout, err)
			}
			timeout = parsed
		}

		backend := NewBackend(NewClientWithTimeout(baseURL, timeout), logger)
		if err := backend.client.Health(ctx); err != nil {
			return nil, err
		}
		logger.Info("llama.cpp server ready", zap.String("base_url", baseURL))
		return &engine.Engine{Name: "http", Model: backend, Tokenizer: backend}, nil
	})
}

// Backend serves both engine.Model and engine.Tokenizer over a llama.cpp
// server. The server streams text pieces rather than ids, so generated pieces
// are interned in a PieceTable and decoded through it.
type Backend struct {
	client *Client
	table  *engine.PieceTable
	logger *zap.Logger
}

// NewBackend wraps client.
func NewBackend(client *Client, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{client: client, table: engine.NewPieceTable(), logger: logger}
}

// Encode tokenizes text on the server so prompt lengths count real model tokens.
func (b *Backend) Encode(ctx context.Context, text string) (engine.TokenSequence, error) {
	ids, err := b.client.Tokenize(ctx, text)
	if err != nil {
		return engine.TokenSequence{}, fmt.Errorf("llmclient: tokenize: %w", err)
	}
	return engine.TokenSequence{Text: text, IDs: ids}, nil
}

// NewStream decodes ids issued by this backend's piece table.
func (b *Backend) NewStream() engine.StreamDecoder {
	return b.table.NewStream()
}

// NewGenerator starts a streaming completion. Pieces are pulled one per step.
func (b *Backend) NewGenerator(ctx context.Context, req engine.GenerationRequest) (engine.Generator, error) {
	creq := CompletionRequest{
		Prompt:      req.Prompt.Text,
		NPredict:    predictBudget(req),
		Temperature: req.Sampling.Temperature,
		TopK:        req.Sampling.TopK,
		TopP:        req.Sampling.TopP,
		CachePrompt: true,
	}

	produce := func(ctx context.Context, emit func(string) bool) error {
		err := b.client.GenerateStream(ctx, creq, func(tok StreamToken) error {
			if !emit(tok.Content) {
				return context.Canceled
			}
			if tok.Stop {
				b.logger.Debug("completion finished",
					zap.String("stop_type", tok.StopType),
					zap.Int("tokens_predicted", tok.TokensPredicted))
			}
			return nil
		})
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return engine.NewStreamGenerator(ctx, req, b.table, produce), nil
}

// Close releases nothing; the server owns the model.
func (b *Backend) Close() error { return nil }

// predictBudget converts the whole-sequence MaxLength into llama.cpp's n_predict.
func predictBudget(req engine.GenerationRequest) int {
	if req.MaxLength <= 0 {
		return -1
	}
	return max(req.MaxLength-req.Prompt.Len(), 1)
}
