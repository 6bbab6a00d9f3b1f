package embedding

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"Pivot/internal/metrics"
)

// DefaultCacheTTL is the default TTL for cached embeddings
const DefaultCacheTTL = 10 * time.Minute

// CachedProvider wraps a provider with an embedding cache. Only vectors are
// cached; search results are always computed fresh.
type CachedProvider struct {
	provider Provider
	name     string
	cache    *ttlcache.Cache[string, []float32]
	sfGroup  singleflight.Group
	logger   *zap.Logger
}

// NewCachedProvider wraps provider. capacity 0 means unbounded.
func NewCachedProvider(provider Provider, name string, ttl time.Duration, capacity uint64, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	opts := []ttlcache.Option[string, []float32]{ttlcache.WithTTL[string, []float32](ttl)}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []float32](capacity))
	}
	cache := ttlcache.New(opts...)
	go cache.Start()

	return &CachedProvider{
		provider: provider,
		name:     name,
		cache:    cache,
		logger:   logger,
	}
}

// Embed returns the cached vector for text or computes it once, sharing the
// result between concurrent callers asking for the same text. The shared
// computation outlives any single caller's cancellation; each caller stops
// waiting when its own ctx is done.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if item := c.cache.Get(key); item != nil {
		metrics.RecordCacheHit("embedding")
		return item.Value(), nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.sfGroup.DoChan(key, func() (any, error) {
		metrics.RecordCacheMiss("embedding")

		start := time.Now()
		vec, err := c.provider.Embed(detached, text)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, vec, ttlcache.DefaultTTL)
		metrics.SetCacheEntries("embedding", c.cache.Len())

		c.logger.Debug("Embedding generated and cached",
			zap.String("provider", c.name),
			zap.Int("dims", len(vec)),
			zap.Duration("duration", time.Since(start)))
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			metrics.RecordCacheShared("embedding")
		}
		return res.Val.([]float32), nil
	}
}

func (c *CachedProvider) cacheKey(text string) string {
	h := xxhash.New()
	_, _ = h.WriteString(c.name)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(text)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

// Close stops the expiry loop and closes the wrapped provider.
func (c *CachedProvider) Close() error {
	c.cache.Stop()
	return c.provider.Close()
}
