package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pivot"

var (
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "sessions_total",
			Help:      "Generation sessions by stage and terminal outcome.",
		},
		[]string{"stage", "outcome"},
	)
	tokensGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "tokens_generated_total",
			Help:      "Tokens sampled by generation sessions.",
		},
		[]string{"stage"},
	)
	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "session_duration_seconds",
			Help:      "Wall time of one generation session.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)
	sessionFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "faults_total",
			Help:      "Generation steps that faulted and terminated their session.",
		},
		[]string{"stage"},
	)

	retrievalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "retrievals_total",
			Help:      "Augmentation lookups by result (hit, empty, error).",
		},
		[]string{"result"},
	)
	retrievedPassages = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "passages_returned",
			Help:      "Passages that passed the threshold per lookup.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)
	indexedDocuments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "documents_indexed_total",
			Help:      "Corpus documents added to the vector index.",
		},
	)
	indexedChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "chunks_indexed_total",
			Help:      "Chunks added to the vector index.",
		},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		},
		[]string{"type"},
	)
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		},
		[]string{"type"},
	)
	cacheShared = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_shared_total",
			Help:      "Callers served by an in-flight computation started for another caller.",
		},
		[]string{"type"},
	)
	cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries currently held by a cache.",
		},
		[]string{"type"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "queue_depth",
			Help:      "Turns waiting for the generation slot.",
		},
	)
	queueRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "rejected_total",
			Help:      "Turns rejected because the generation slot stayed busy.",
		},
	)
	queueWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting for the generation slot.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

func init() {
	prometheus.MustRegister(
		sessionsTotal,
		tokensGenerated,
		sessionDuration,
		sessionFaults,
		retrievalTotal,
		retrievedPassages,
		indexedDocuments,
		indexedChunks,
		cacheHits,
		cacheMisses,
		cacheShared,
		cacheEntries,
		httpRequests,
		httpDuration,
		queueDepth,
		queueRejected,
		queueWait,
	)
}

// RecordSession records the end of one generation session.
func RecordSession(stage, outcome string, tokens int, elapsed time.Duration) {
	sessionsTotal.WithLabelValues(stage, outcome).Inc()
	tokensGenerated.WithLabelValues(stage).Add(float64(tokens))
	sessionDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordFault increments the fault counter for a stage.
func RecordFault(stage string) {
	sessionFaults.WithLabelValues(stage).Inc()
}

// RecordRetrieval records one augmentation lookup.
func RecordRetrieval(result string, passages int) {
	retrievalTotal.WithLabelValues(result).Inc()
	retrievedPassages.Observe(float64(passages))
}

// RecordIndexed records one indexed document and its chunk count.
func RecordIndexed(chunks int) {
	indexedDocuments.Inc()
	indexedChunks.Add(float64(chunks))
}

// RecordCacheHit increments the cache hit counter
func RecordCacheHit(cacheType string) {
	cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments the cache miss counter
func RecordCacheMiss(cacheType string) {
	cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordCacheShared counts a caller that joined an in-flight computation.
func RecordCacheShared(cacheType string) {
	cacheShared.WithLabelValues(cacheType).Inc()
}

// SetCacheEntries publishes the current size of a cache.
func SetCacheEntries(cacheType string, n int) {
	cacheEntries.WithLabelValues(cacheType).Set(float64(n))
}

// RecordHTTP records one served request.
func RecordHTTP(method, route, status string, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// SetQueueDepth publishes the number of waiting turns.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordQueueRejection increments the rejected counter.
func RecordQueueRejection() {
	queueRejected.Inc()
}

// RecordQueueWait observes how long a turn waited for the slot.
func RecordQueueWait(d time.Duration) {
	queueWait.Observe(d.Seconds())
}
