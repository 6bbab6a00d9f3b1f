package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"Pivot/internal/config"
)

// Factory loads an engine from configuration.
type Factory func(ctx context.Context, cfg config.EngineConfig, logger *zap.Logger) (*Engine, error)

// Registry maps backend keys to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry provides the built-in backends. Backends add themselves from init.
var DefaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(name string, factory Factory) {
	DefaultRegistry.Register(name, factory)
}

// Load builds an engine from the default registry.
func Load(ctx context.Context, cfg config.EngineConfig, logger *zap.Logger) (*Engine, error) {
	return DefaultRegistry.Load(ctx, cfg, logger)
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(strings.TrimSpace(name))] = factory
}

// Names lists registered backends in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load resolves cfg.Backend and runs its factory. Every failure is a *LoadError.
func (r *Registry) Load(ctx context.Context, cfg config.EngineConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "http"
	}

	r.mu.RLock()
	factory, ok := r.factories[backend]
	r.mu.RUnlock()
	if !ok {
		return nil, &LoadError{
			Backend: backend,
			Err:     fmt.Errorf("backend not registered (available: %s)", strings.Join(r.Names(), ", ")),
		}
	}

	eng, err := factory(ctx, cfg, logger.Named("engine"))
	if err != nil {
		return nil, &LoadError{Backend: backend, Err: err}
	}
	if eng.Name == "" {
		eng.Name = backend
	}
	logger.Info("engine loaded", zap.String("backend", eng.Name))
	return eng, nil
}
