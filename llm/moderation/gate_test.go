package moderation

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/BaSui01/imagegate/llm/image"
	"github.com/BaSui01/imagegate/types"
)

func fixedScorer(v float64) Scorer {
	return ScorerFunc(func(context.Context, *image.StandardizedImage) (Score, error) {
		return Score{InappropriateContent: v}, nil
	})
}

func testImage() *image.StandardizedImage {
	return &image.StandardizedImage{ArtifactID: "img-1", Data: []byte("png"), Format: image.FormatPNG, Width: 512, Height: 512}
}

func newTestGate(t *testing.T, scorer Scorer, opts ...GateOption) *Gate {
	t.Helper()
	g, err := NewGate(scorer, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return g
}

func TestGate_ScenarioA_Approved(t *testing.T) {
	g := newTestGate(t, fixedScorer(0.3))

	d, err := g.Evaluate(context.Background(), testImage(), 0.85)
	require.NoError(t, err)
	assert.True(t, d.Approved)
	assert.Empty(t, d.Reason)
	assert.Equal(t, 0.3, d.Score)
	assert.Equal(t, 0.85, d.Threshold)
}

func TestGate_ScenarioB_Rejected(t *testing.T) {
	g := newTestGate(t, fixedScorer(0.9))

	d, err := g.Evaluate(context.Background(), testImage(), 0.85)
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reason, "0.9000")
	assert.Contains(t, d.Reason, "0.8500")
}

func TestGate_Boundaries(t *testing.T) {
	tests := []struct {
		name      string
		score     float64
		threshold float64
		approved  bool
	}{
		{"equal to threshold is rejected", 0.85, 0.85, false},
		{"just below threshold", 0.8499, 0.85, true},
		{"zero with positive threshold", 0.0, 0.01, true},
		{"zero threshold rejects everything", 0.0, 0.0, false},
		{"threshold one approves below one", 0.999, 1.0, true},
		{"score one with threshold one", 1.0, 1.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate(t, fixedScorer(tt.score))
			d, err := g.Evaluate(context.Background(), testImage(), tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.approved, d.Approved)
			assert.Equal(t, tt.approved, d.Reason == "")
		})
	}
}

func TestGate_InvalidThreshold(t *testing.T) {
	calls := 0
	scorer := ScorerFunc(func(context.Context, *image.StandardizedImage) (Score, error) {
		calls++
		return Score{}, nil
	})
	g := newTestGate(t, scorer)

	for _, th := range []float64{-0.1, 1.01, math.NaN(), math.Inf(1)} {
		_, err := g.Evaluate(context.Background(), testImage(), th)
		assert.ErrorIs(t, err, types.ErrInvalidRequest)
	}
	assert.Zero(t, calls, "scorer must not run for an invalid threshold")
}

func TestGate_EmptyImage(t *testing.T) {
	g := newTestGate(t, fixedScorer(0.1))

	_, err := g.Evaluate(context.Background(), nil, 0.5)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
	_, err = g.Evaluate(context.Background(), &image.StandardizedImage{}, 0.5)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestGate_ScorerFailure(t *testing.T) {
	boom := errors.New("model offline")
	g := newTestGate(t, ScorerFunc(func(context.Context, *image.StandardizedImage) (Score, error) {
		return Score{}, boom
	}))

	_, err := g.Evaluate(context.Background(), testImage(), 0.85)
	assert.ErrorIs(t, err, types.ErrScoringUnavailable)
	assert.ErrorIs(t, err, boom)
}

func TestGate_ScoreOutOfRange(t *testing.T) {
	for _, v := range []float64{-0.01, 1.5, math.NaN()} {
		g := newTestGate(t, fixedScorer(v))
		_, err := g.Evaluate(context.Background(), testImage(), 0.85)
		assert.ErrorIs(t, err, types.ErrScoringUnavailable)
	}
}

func TestGate_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := newTestGate(t, ScorerFunc(func(ctx context.Context, _ *image.StandardizedImage) (Score, error) {
		cancel()
		return Score{}, ctx.Err()
	}))

	_, err := g.Evaluate(ctx, testImage(), 0.85)
	assert.ErrorIs(t, err, types.ErrCanceled)
}

type decisionRecorder struct {
	mu        sync.Mutex
	decisions []Decision
}

func (r *decisionRecorder) ObserveDecision(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

func TestGate_ObserverAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rec := &decisionRecorder{}
	g, err := NewGate(fixedScorer(0.95), zap.New(core), WithDecisionObserver(rec))
	require.NoError(t, err)

	_, err = g.Evaluate(context.Background(), testImage(), 0.85)
	require.NoError(t, err)

	require.Len(t, rec.decisions, 1)
	assert.False(t, rec.decisions[0].Approved)

	rejected := logs.FilterMessage("image rejected").FilterLevelExact(zapcore.WarnLevel)
	require.Equal(t, 1, rejected.Len())
	ctxMap := rejected.All()[0].ContextMap()
	assert.Equal(t, "moderation_gate", ctxMap["component"])
	assert.Equal(t, "img-1", ctxMap["artifact_id"])
}

func TestNewGate_RequiresScorer(t *testing.T) {
	_, err := NewGate(nil, nil)
	assert.Error(t, err)
}

func TestDecide_CategoryInReason(t *testing.T) {
	d := Decide(Score{InappropriateContent: 0.9, Category: "violence"}, 0.5)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reason, "violence")
	assert.Equal(t, "violence", d.Category)
}

func TestProperty_Gate_Idempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		score := rapid.Float64Range(0, 1).Draw(rt, "score")
		threshold := rapid.Float64Range(0, 1).Draw(rt, "threshold")

		g, err := NewGate(fixedScorer(score), zap.NewNop())
		require.NoError(rt, err)

		first, err := g.Evaluate(context.Background(), testImage(), threshold)
		require.NoError(rt, err)
		second, err := g.Evaluate(context.Background(), testImage(), threshold)
		require.NoError(rt, err)

		assert.Equal(rt, first, second)
		assert.Equal(rt, score < threshold, first.Approved)
	})
}

func TestProperty_Gate_MonotonicInThreshold(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		score := rapid.Float64Range(0, 1).Draw(rt, "score")
		low := rapid.Float64Range(0, 1).Draw(rt, "low")
		high := rapid.Float64Range(low, 1).Draw(rt, "high")

		if Decide(Score{InappropriateContent: score}, low).Approved {
			assert.True(rt, Decide(Score{InappropriateContent: score}, high).Approved,
				"raising the threshold must never reject an approved score")
		}
	})
}
