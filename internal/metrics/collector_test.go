package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BaSui01/imagegate/llm/moderation"
	"github.com/BaSui01/imagegate/llm/retry"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.generationAttempts)
	assert.NotNil(t, collector.moderationDecisions)
	assert.NotNil(t, collector.pipelineRuns)
	assert.NotNil(t, collector.imagesStored)
}

func TestCollector_ObserveAttempt(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveAttempt(retry.Attempt{Number: 0, Outcome: retry.OutcomeRateLimited, StatusCode: 429, Elapsed: 80 * time.Millisecond})
	collector.ObserveAttempt(retry.Attempt{Number: 1, Outcome: retry.OutcomeRateLimited, StatusCode: 429, Elapsed: 90 * time.Millisecond})
	collector.ObserveAttempt(retry.Attempt{Number: 2, Outcome: retry.OutcomeSuccess, StatusCode: 200, Elapsed: time.Second})

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.generationAttempts.WithLabelValues("RateLimited", "429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.generationAttempts.WithLabelValues("Success", "2xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.generationAttemptSeconds))
}

func TestCollector_ObserveDecision(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveDecision(moderation.Decision{Approved: true, Score: 0.3, Threshold: 0.85})
	collector.ObserveDecision(moderation.Decision{Approved: false, Score: 0.9, Threshold: 0.85})
	collector.ObserveDecision(moderation.Decision{Approved: false, Score: 0.95, Threshold: 0.85})

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.moderationDecisions.WithLabelValues("true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.moderationDecisions.WithLabelValues("false")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.moderationScore))
}

func TestCollector_RecordPipelineRun(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordPipelineRun("stored", 3*time.Second)
	collector.RecordPipelineRun("rejected", 2*time.Second)
	collector.RecordImageStored()

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.pipelineRuns.WithLabelValues("stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.pipelineRuns.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.imagesStored))
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	// 记录缓存命中
	collector.RecordCacheHit("redis")

	// 记录缓存未命中
	collector.RecordCacheMiss("redis")

	hitCount := testutil.CollectAndCount(collector.cacheHits)
	assert.Greater(t, hitCount, 0)

	missCount := testutil.CollectAndCount(collector.cacheMisses)
	assert.Greater(t, missCount, 0)
}

func TestCollector_RecordDatabaseQuery(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBQuery("sqlite", "insert", 20*time.Millisecond)

	count := testutil.CollectAndCount(collector.dbQueryDuration)
	assert.Greater(t, count, 0)
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	// 并发记录多个指标
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			collector.ObserveAttempt(retry.Attempt{Number: id, Outcome: retry.OutcomeTransientError, StatusCode: 503})
			collector.ObserveDecision(moderation.Decision{Approved: true, Score: 0.1})
			collector.RecordCacheHit("redis")
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.generationAttempts.WithLabelValues("TransientError", "5xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.moderationDecisions.WithLabelValues("true")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.cacheHits.WithLabelValues("redis")))
}

func TestCollector_MetricsRegistration(t *testing.T) {
	// 创建自定义 registry
	registry := prometheus.NewRegistry()

	// 创建 collector（会自动注册到默认 registry）
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	// 手动注册到自定义 registry
	registry.MustRegister(collector.generationAttempts)
	registry.MustRegister(collector.moderationDecisions)

	collector.ObserveAttempt(retry.Attempt{Outcome: retry.OutcomeSuccess, StatusCode: 200})

	families, err := registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "429", statusCode(429))
	assert.Equal(t, "2xx", statusCode(201))
	assert.Equal(t, "4xx", statusCode(404))
	assert.Equal(t, "5xx", statusCode(502))
	assert.Equal(t, "none", statusCode(0))
}
