package moderation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/imagegate/llm/image"
	"github.com/BaSui01/imagegate/types"
)

// DefaultThreshold 默认审核阈值
const DefaultThreshold = 0.85

// Gate 根据评分器的结果做出放行/拒绝决定.
// 不持有可变状态，可被多个 goroutine 共享.
type Gate struct {
	scorer   Scorer
	observer DecisionObserver
	logger   *zap.Logger
}

// GateOption 配置 Gate.
type GateOption func(*Gate)

// WithDecisionObserver 接收每一次决定.
func WithDecisionObserver(o DecisionObserver) GateOption {
	return func(g *Gate) { g.observer = o }
}

// NewGate 创建审核门.
func NewGate(scorer Scorer, logger *zap.Logger, opts ...GateOption) (*Gate, error) {
	if scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		scorer: scorer,
		logger: logger.With(zap.String("component", "moderation_gate")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ValidateThreshold 检查阈值是否在 [0, 1] 内.
func ValidateThreshold(threshold float64) error {
	if !inUnitInterval(threshold) {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("threshold %v must be within [0, 1]", threshold))
	}
	return nil
}

// Evaluate 对图像评分并与阈值比较.
// 仅当 score < threshold 时放行；等于阈值视为拒绝.
// 拒绝是正常结果而不是错误，错误只表示无法得出决定.
func (g *Gate) Evaluate(ctx context.Context, img *image.StandardizedImage, threshold float64) (Decision, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return Decision{}, err
	}
	if img == nil || len(img.Data) == 0 {
		return Decision{}, types.NewError(types.ErrInvalidRequest, "image must not be empty")
	}

	score, err := g.scorer.Score(ctx, img)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{}, types.NewError(types.ErrCanceled, "moderation canceled").WithCause(ctxErr)
		}
		g.logger.Error("scoring failed", zap.String("artifact_id", img.ArtifactID), zap.Error(err))
		var typed *types.Error
		if errors.As(err, &typed) && typed.Code == types.ErrScoringUnavailable {
			return Decision{}, err
		}
		return Decision{}, types.NewError(types.ErrScoringUnavailable, "scorer failed").WithCause(err)
	}
	if !inUnitInterval(score.InappropriateContent) {
		g.logger.Error("scorer returned out of range score",
			zap.String("artifact_id", img.ArtifactID),
			zap.Float64("score", score.InappropriateContent))
		return Decision{}, types.NewError(types.ErrScoringUnavailable,
			fmt.Sprintf("score %v outside [0, 1]", score.InappropriateContent))
	}

	d := Decide(score, threshold)

	fields := []zap.Field{
		zap.String("artifact_id", img.ArtifactID),
		zap.Bool("approved", d.Approved),
		zap.Float64("score", d.Score),
		zap.Float64("threshold", d.Threshold),
	}
	if d.Category != "" {
		fields = append(fields, zap.String("category", d.Category))
	}
	if d.Approved {
		g.logger.Info("image approved", fields...)
	} else {
		g.logger.Warn("image rejected", append(fields, zap.String("reason", d.Reason))...)
	}

	if g.observer != nil {
		g.observer.ObserveDecision(d)
	}
	return d, nil
}

// Decide 是纯判定函数：相同输入总是得到相同结果.
func Decide(score Score, threshold float64) Decision {
	d := Decision{
		Score:     score.InappropriateContent,
		Threshold: threshold,
		Category:  score.Category,
	}
	if score.InappropriateContent < threshold {
		d.Approved = true
		return d
	}
	d.Reason = fmt.Sprintf("inappropriate content score %.4f meets or exceeds threshold %.4f",
		score.InappropriateContent, threshold)
	if score.Category != "" {
		d.Reason += fmt.Sprintf(" (category %s)", score.Category)
	}
	return d
}
