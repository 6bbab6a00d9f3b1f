//go:build !llama

// Package llama registers the in-process llama.cpp backend. Without the
// 'llama' build tag the backend is registered as a stub that fails to load,
// keeping default builds CGO-free.
package llama

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/engine"
)

// Built reports whether this binary carries the in-process llama.cpp backend.
const Built = false

func init() {
	engine.Register("llama", Load)
}

// Load always fails: llama support was not compiled in.
func Load(context.Context, config.EngineConfig, *zap.Logger) (*engine.Engine, error) {
	return nil, fmt.Errorf("%w: llama support not built (missing 'llama' build tag)", engine.ErrDependencyUnavailable)
}
