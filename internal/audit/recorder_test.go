package audit

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/imagegate/config"
	"github.com/BaSui01/imagegate/internal/database"
	"github.com/BaSui01/imagegate/llm/moderation"
)

type queryRecorder struct {
	mu  sync.Mutex
	ops []string
}

func (q *queryRecorder) RecordDBQuery(db, op string, _ time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, db+":"+op)
}

func newTestRecorder(t *testing.T, opts ...Option) *Recorder {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "audit.db"),
	}
	db, err := database.Open(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	poolCfg := database.PoolConfigFrom(cfg)
	poolCfg.HealthCheckInterval = 0
	pool, err := database.NewPoolManager(db, poolCfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	rec, err := NewRecorder(context.Background(), pool, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return rec
}

func TestNewRecorder_NilPool(t *testing.T) {
	_, err := NewRecorder(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestRecorder_RecordAndGet(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := newTestRecorder(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	decision := moderation.Decide(moderation.Score{InappropriateContent: 0.9, Category: "violence"}, 0.85)
	require.False(t, decision.Approved)

	id, err := rec.Record(ctx, Entry{
		ArtifactID: "a1",
		Prompt:     "a friendly dragon",
		Decision:   decision,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := rec.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ArtifactID)
	assert.Equal(t, "a friendly dragon", got.Prompt)
	assert.False(t, got.Approved)
	assert.InDelta(t, 0.9, got.Score, 1e-9)
	assert.InDelta(t, 0.85, got.Threshold, 1e-9)
	assert.Equal(t, "violence", got.Category)
	assert.Equal(t, decision.Reason, got.Reason)
	assert.Empty(t, got.Location)
	assert.True(t, fixed.Equal(got.CreatedAt))
}

func TestRecorder_GetMissing(t *testing.T) {
	rec := newTestRecorder(t)
	_, err := rec.Get(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestRecorder_ListFilters(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	rec := newTestRecorder(t, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))
	ctx := context.Background()

	entries := []Entry{
		{BatchID: "b1", ArtifactID: "a1", Decision: moderation.Decide(moderation.Score{InappropriateContent: 0.1}, 0.85), Location: "/img/a1.png"},
		{ArtifactID: "a2", Decision: moderation.Decide(moderation.Score{InappropriateContent: 0.95}, 0.85)},
		{BatchID: "b1", ArtifactID: "a3", Decision: moderation.Decide(moderation.Score{InappropriateContent: 0.2}, 0.85), Location: "/img/a3.png"},
	}
	for _, e := range entries {
		_, err := rec.Record(ctx, e)
		require.NoError(t, err)
	}

	all, err := rec.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// 按创建时间倒序
	assert.Equal(t, "a3", all[0].ArtifactID)
	assert.Equal(t, "a1", all[2].ArtifactID)

	approved := true
	onlyApproved, err := rec.List(ctx, Filter{Approved: &approved})
	require.NoError(t, err)
	require.Len(t, onlyApproved, 2)
	for _, r := range onlyApproved {
		assert.True(t, r.Approved)
		assert.NotEmpty(t, r.Location)
	}

	rejected := false
	onlyRejected, err := rec.List(ctx, Filter{Approved: &rejected})
	require.NoError(t, err)
	require.Len(t, onlyRejected, 1)
	assert.Equal(t, "a2", onlyRejected[0].ArtifactID)
	assert.NotEmpty(t, onlyRejected[0].Reason)

	byArtifact, err := rec.List(ctx, Filter{ArtifactID: "a2"})
	require.NoError(t, err)
	require.Len(t, byArtifact, 1)

	byBatch, err := rec.List(ctx, Filter{BatchID: "b1"})
	require.NoError(t, err)
	assert.Len(t, byBatch, 2)

	since, err := rec.List(ctx, Filter{Since: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	limited, err := rec.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecorder_ReportsQueryTimings(t *testing.T) {
	observer := &queryRecorder{}
	rec := newTestRecorder(t, WithQueryObserver(observer))
	ctx := context.Background()

	_, err := rec.Record(ctx, Entry{ArtifactID: "a1", Decision: moderation.Decide(moderation.Score{}, 0.5)})
	require.NoError(t, err)
	_, err = rec.List(ctx, Filter{})
	require.NoError(t, err)

	assert.Equal(t, []string{"sqlite:insert", "sqlite:select"}, observer.ops)
}

func TestRecorder_CanceledContext(t *testing.T) {
	rec := newTestRecorder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rec.Record(ctx, Entry{ArtifactID: "a1", Decision: moderation.Decide(moderation.Score{}, 0.5)})
	assert.Error(t, err)
}
