package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"Pivot/internal/config"
)

// Provider exposes embedding capabilities. Vectors are L2-normalised so a dot
// product is a cosine similarity.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// ProviderFactory constructs a Provider from the embedding configuration.
type ProviderFactory func(config.EmbeddingConfig) (Provider, error)

var (
	providersMu sync.RWMutex
	providers   = map[string]ProviderFactory{}
)

// RegisterProvider registers an embedding provider factory under the given
// backend name. Typically called from an init() function.
func RegisterProvider(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// New constructs an embedding provider based on configuration, wrapped in a
// CachedProvider when the cache is enabled.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "hashing"
	}

	var (
		p   Provider
		err error
	)
	// Check built-in backends first, then the registry.
	switch backend {
	case "hashing":
		p = NewHashingProvider(cfg.Hashing.Dimensions)
	case "llamacpp":
		p, err = newLlamaCppProvider(cfg.LlamaCpp)
	default:
		providersMu.RLock()
		factory, ok := providers[backend]
		providersMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("embedding: unsupported backend %q", backend)
		}
		p, err = factory(cfg)
	}
	if err != nil {
		return nil, err
	}

	if !cfg.Cache.Enabled {
		return p, nil
	}
	ttl := parseDuration(cfg.Cache.TTL, DefaultCacheTTL)
	return NewCachedProvider(p, backend, ttl, cfg.Cache.Capacity, logger), nil
}

// Cosine returns the cosine similarity of a and b. Vectors of different
// length, or zero vectors, score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v to unit length in place and returns it.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
