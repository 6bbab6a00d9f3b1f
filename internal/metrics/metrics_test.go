package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSession(t *testing.T) {
	before := testutil.ToFloat64(sessionsTotal.WithLabelValues("primary", "done"))
	tokensBefore := testutil.ToFloat64(tokensGenerated.WithLabelValues("primary"))

	RecordSession("primary", "done", 42, 1500*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(sessionsTotal.WithLabelValues("primary", "done")))
	assert.Equal(t, tokensBefore+42, testutil.ToFloat64(tokensGenerated.WithLabelValues("primary")))
}

func TestRecordRetrievalAndIndex(t *testing.T) {
	hits := testutil.ToFloat64(retrievalTotal.WithLabelValues("hit"))
	docs := testutil.ToFloat64(indexedDocuments)
	chunks := testutil.ToFloat64(indexedChunks)

	RecordRetrieval("hit", 2)
	RecordIndexed(7)

	assert.Equal(t, hits+1, testutil.ToFloat64(retrievalTotal.WithLabelValues("hit")))
	assert.Equal(t, docs+1, testutil.ToFloat64(indexedDocuments))
	assert.Equal(t, chunks+7, testutil.ToFloat64(indexedChunks))
}

func TestQueueGauge(t *testing.T) {
	SetQueueDepth(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(queueDepth))
	SetQueueDepth(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(queueDepth))
}

func TestCacheCollectors(t *testing.T) {
	hits := testutil.ToFloat64(cacheHits.WithLabelValues("test"))
	shared := testutil.ToFloat64(cacheShared.WithLabelValues("test"))

	RecordCacheHit("test")
	RecordCacheShared("test")
	SetCacheEntries("test", 5)

	assert.Equal(t, hits+1, testutil.ToFloat64(cacheHits.WithLabelValues("test")))
	assert.Equal(t, shared+1, testutil.ToFloat64(cacheShared.WithLabelValues("test")))
	assert.Equal(t, 5.0, testutil.ToFloat64(cacheEntries.WithLabelValues("test")))
}
