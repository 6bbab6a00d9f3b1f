//go:build llama

package llama

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	gollama "github.com/go-skynet/go-llama.cpp"
	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/engine"
)

// Built reports whether this binary carries the in-process llama.cpp backend.
const Built = true

func init() {
	engine.Register("llama", Load)
}

// Load opens the GGUF model at cfg.ModelPath.
func Load(_ context.Context, cfg config.EngineConfig, logger *zap.Logger) (*engine.Engine, error) {
	path := strings.TrimSpace(cfg.ModelPath)
	if path == "" {
		return nil, errors.New("model path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	opts := []gollama.ModelOption{gollama.SetContext(zn(cfg.Llama.ContextSize, 4096))}
	if cfg.Llama.GPULayers > 0 {
		opts = append(opts, gollama.SetGPULayers(cfg.Llama.GPULayers))
	}
	m, err := gollama.New(path, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("llama model loaded", zap.String("path", path), zap.Int("context", zn(cfg.Llama.ContextSize, 4096)))

	mdl := &model{llm: m, threads: zn(cfg.Llama.Threads, 4), table: engine.NewPieceTable(), logger: logger}
	return &engine.Engine{Name: "llama", Model: mdl, Tokenizer: mdl}, nil
}

// model owns the loaded weights. go-llama.cpp holds one token callback per
// model, so predictions are serialized.
type model struct {
	mu      sync.Mutex
	llm     *gollama.LLama
	threads int
	table   *engine.PieceTable
	logger  *zap.Logger
}

// Encode tokenizes with the model vocabulary.
func (m *model) Encode(_ context.Context, text string) (engine.TokenSequence, error) {
	_, ids, err := m.llm.TokenizeString(text, gollama.SetThreads(m.threads))
	if err != nil {
		return engine.TokenSequence{}, fmt.Errorf("llama: tokenize: %w", err)
	}
	return engine.TokenSequence{Text: text, IDs: ids}, nil
}

func (m *model) NewStream() engine.StreamDecoder {
	return m.table.NewStream()
}

func (m *model) NewGenerator(ctx context.Context, req engine.GenerationRequest) (engine.Generator, error) {
	po := []gollama.PredictOption{
		gollama.SetTokens(max(1, req.MaxLength-req.Prompt.Len())),
		gollama.SetThreads(m.threads),
		gollama.SetTopP(zf(float32(req.Sampling.TopP), gollama.DefaultOptions.TopP)),
		gollama.SetTopK(zn(req.Sampling.TopK, gollama.DefaultOptions.TopK)),
		gollama.SetTemperature(float32(req.Sampling.Temperature)),
	}

	produce := func(ctx context.Context, emit func(string) bool) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		// Bridge token streaming to emit and respect cancellation
		m.llm.SetTokenCallback(func(tok string) bool {
			return emit(tok)
		})

		if _, err := m.llm.Predict(req.Prompt.Text, po...); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		return nil
	}
	return engine.NewStreamGenerator(ctx, req, m.table, produce), nil
}

func (m *model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.llm != nil {
		m.llm.Free()
		m.llm = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}
