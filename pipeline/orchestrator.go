package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/imagegate/internal/audit"
	"github.com/BaSui01/imagegate/internal/cache"
	"github.com/BaSui01/imagegate/internal/ctxkeys"
	"github.com/BaSui01/imagegate/llm/image"
	"github.com/BaSui01/imagegate/llm/moderation"
	"github.com/BaSui01/imagegate/types"
)

// =============================================================================
// 🔌 依赖接口
// =============================================================================

// Generator 生成一张标准化图像，image.Client 实现了该接口
type Generator interface {
	Generate(ctx context.Context, prompt string) (*image.StandardizedImage, error)
}

// Moderator 对图像做出放行或拒绝的判定，moderation.Gate 实现了该接口
type Moderator interface {
	Evaluate(ctx context.Context, img *image.StandardizedImage, threshold float64) (moderation.Decision, error)
}

// Store 持久化通过审核的图像，并能丢弃未通过的原始字节
type Store interface {
	Store(ctx context.Context, img *image.StandardizedImage) (string, error)
	DiscardRaw(ctx context.Context, id string) error
	Exists(location string) bool
}

// Index 提示词到已存储图像的缓存
type Index interface {
	Lookup(ctx context.Context, prompt, variant string) (*cache.Entry, error)
	Remember(ctx context.Context, prompt, variant string, e cache.Entry) error
	Forget(ctx context.Context, prompt, variant string) error
}

// Auditor 记录审核判定
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) (string, error)
}

// RunObserver 接收流水线指标，metrics.Collector 实现了该接口
type RunObserver interface {
	RecordPipelineRun(result string, duration time.Duration)
	RecordImageStored()
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// =============================================================================
// 📦 结果
// =============================================================================

// Outcome 一次运行的结局
type Outcome string

const (
	OutcomeStored   Outcome = "stored"
	OutcomeRejected Outcome = "rejected"
	OutcomeCached   Outcome = "cached"
	OutcomeFailed   Outcome = "failed"
)

// Result 一次运行的结果。拒绝是数据而不是错误。
type Result struct {
	RunID      string              `json:"run_id"`
	BatchID    string              `json:"batch_id,omitempty"`
	Prompt     string              `json:"prompt"`
	Outcome    Outcome             `json:"outcome"`
	ArtifactID string              `json:"artifact_id,omitempty"`
	Location   string              `json:"location,omitempty"`
	Decision   moderation.Decision `json:"decision"`
	AuditID    string              `json:"audit_id,omitempty"`
	Duration   time.Duration       `json:"duration"`
	Err        error               `json:"-"`
}

// Config 编排配置
type Config struct {
	// Threshold 审核阈值，score < Threshold 才放行
	Threshold float64
	// Variant 参与缓存键计算，通常是模型与规范尺寸
	Variant string
	// KeepRejectedRaw 为 true 时保留被拒绝图像的原始字节
	KeepRejectedRaw bool
	// Concurrency 批量运行的并发上限
	Concurrency int
}

// =============================================================================
// 🎯 编排器
// =============================================================================

// Orchestrator 串联 生成 → 审核 → 存储/丢弃，记录每一步转换。
// 任何一步失败都会短路，已失败的生成不会被再次重试。
type Orchestrator struct {
	cfg       Config
	generator Generator
	moderator Moderator
	store     Store
	index     Index
	auditor   Auditor
	observer  RunObserver
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option 配置 Orchestrator
type Option func(*Orchestrator)

// WithIndex 启用提示词缓存
func WithIndex(idx Index) Option {
	return func(o *Orchestrator) { o.index = idx }
}

// WithAuditor 启用审核审计
func WithAuditor(a Auditor) Option {
	return func(o *Orchestrator) { o.auditor = a }
}

// WithRunObserver 上报流水线指标
func WithRunObserver(r RunObserver) Option {
	return func(o *Orchestrator) { o.observer = r }
}

// WithTracer 替换 tracer
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// tracerName 默认 tracer 名称
const tracerName = "github.com/BaSui01/imagegate/pipeline"

// NewOrchestrator 创建编排器
func NewOrchestrator(cfg Config, generator Generator, moderator Moderator, store Store, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if generator == nil || moderator == nil || store == nil {
		return nil, fmt.Errorf("generator, moderator and store are required")
	}
	if err := moderation.ValidateThreshold(cfg.Threshold); err != nil {
		return nil, err
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		cfg:       cfg,
		generator: generator,
		moderator: moderator,
		store:     store,
		tracer:    otel.Tracer(tracerName),
		logger:    logger.With(zap.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run 为一个提示词执行完整流水线。
// 拒绝返回 Outcome=rejected 且 err 为 nil；生成、审核、存储失败返回 *types.Error。
func (o *Orchestrator) Run(ctx context.Context, prompt string) (*Result, error) {
	start := time.Now()
	res := &Result{Prompt: strings.TrimSpace(prompt)}

	// 调用方未指定时为每次运行分配 RunID
	runID, ok := ctxkeys.RunID(ctx)
	if !ok {
		runID = uuid.NewString()
		ctx = ctxkeys.WithRunID(ctx, runID)
	}
	res.RunID = runID
	res.BatchID, _ = ctxkeys.BatchID(ctx)

	ctx, span := o.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	err := o.run(ctx, res)
	res.Duration = time.Since(start)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
	}
	span.SetAttributes(attribute.String("pipeline.outcome", string(res.Outcome)))
	if res.ArtifactID != "" {
		span.SetAttributes(attribute.String("artifact.id", res.ArtifactID))
	}

	if o.observer != nil {
		o.observer.RecordPipelineRun(string(res.Outcome), res.Duration)
	}
	o.logger.Info("pipeline finished",
		zap.String("run_id", res.RunID),
		zap.String("batch_id", res.BatchID),
		zap.String("outcome", string(res.Outcome)),
		zap.String("artifact_id", res.ArtifactID),
		zap.Duration("duration", res.Duration),
	)
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, res *Result) error {
	if res.Prompt == "" {
		return types.NewError(types.ErrInvalidRequest, "prompt must not be empty")
	}

	if o.cached(ctx, res) {
		return nil
	}

	// 1. 生成
	o.logger.Info("requesting image", zap.Int("prompt_len", len(res.Prompt)))
	img, err := o.generate(ctx, res.Prompt)
	if err != nil {
		o.logger.Error("image generation failed, stopping pipeline", zap.Error(err))
		return err
	}
	res.ArtifactID = img.ArtifactID

	// 2. 审核
	decision, err := o.moderate(ctx, img)
	if err != nil {
		o.logger.Error("moderation failed, image will not be stored",
			zap.String("artifact_id", img.ArtifactID),
			zap.Error(err),
		)
		o.discard(ctx, img.ArtifactID)
		return err
	}
	res.Decision = decision

	// 3. 存储或丢弃
	if decision.Approved {
		location, err := o.persist(ctx, img)
		if err != nil {
			return err
		}
		res.Outcome = OutcomeStored
		res.Location = location
		o.remember(ctx, res)
	} else {
		res.Outcome = OutcomeRejected
		o.logger.Warn("image rejected, discarding",
			zap.String("artifact_id", img.ArtifactID),
			zap.String("reason", decision.Reason),
		)
		if !o.cfg.KeepRejectedRaw {
			o.discard(ctx, img.ArtifactID)
		}
	}

	o.audit(ctx, res)
	return nil
}

// cached 命中缓存时填充结果并返回 true。缓存故障只记录日志。
func (o *Orchestrator) cached(ctx context.Context, res *Result) bool {
	if o.index == nil {
		return false
	}

	entry, err := o.index.Lookup(ctx, res.Prompt, o.cfg.Variant)
	switch {
	case err == nil:
	case cache.IsCacheMiss(err):
		o.recordCache(false)
		return false
	default:
		o.logger.Warn("image cache lookup failed", zap.Error(err))
		o.recordCache(false)
		return false
	}

	// 文件已被清理时条目作废
	if !o.store.Exists(entry.Location) {
		o.logger.Info("cached image no longer exists, regenerating", zap.String("location", entry.Location))
		if err := o.index.Forget(ctx, res.Prompt, o.cfg.Variant); err != nil {
			o.logger.Warn("failed to forget stale cache entry", zap.Error(err))
		}
		o.recordCache(false)
		return false
	}

	// 按当前阈值重新判定，旧阈值下放行的图像不能绕过审核
	decision := moderation.Decide(moderation.Score{InappropriateContent: entry.Score}, o.cfg.Threshold)
	if !decision.Approved {
		o.logger.Info("cached image fails current threshold, regenerating",
			zap.String("artifact_id", entry.ArtifactID),
			zap.Float64("score", entry.Score),
			zap.Float64("threshold", o.cfg.Threshold),
		)
		o.recordCache(false)
		return false
	}

	o.recordCache(true)
	res.Outcome = OutcomeCached
	res.ArtifactID = entry.ArtifactID
	res.Location = entry.Location
	res.Decision = decision
	o.logger.Info("serving cached image",
		zap.String("artifact_id", entry.ArtifactID),
		zap.String("location", entry.Location),
	)
	return true
}

func (o *Orchestrator) generate(ctx context.Context, prompt string) (*image.StandardizedImage, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.generate")
	defer span.End()

	img, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
		return nil, err
	}
	span.SetAttributes(attribute.String("artifact.id", img.ArtifactID))
	return img, nil
}

func (o *Orchestrator) moderate(ctx context.Context, img *image.StandardizedImage) (moderation.Decision, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.moderate")
	defer span.End()

	decision, err := o.moderator.Evaluate(ctx, img, o.cfg.Threshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
		return decision, err
	}
	span.SetAttributes(
		attribute.Bool("moderation.approved", decision.Approved),
		attribute.Float64("moderation.score", decision.Score),
		attribute.Float64("moderation.threshold", decision.Threshold),
	)
	return decision, nil
}

func (o *Orchestrator) persist(ctx context.Context, img *image.StandardizedImage) (string, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.store")
	defer span.End()

	location, err := o.store.Store(ctx, img)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.ErrStorageFailed))
		o.logger.Error("failed to store approved image",
			zap.String("artifact_id", img.ArtifactID),
			zap.Error(err),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", types.NewError(types.ErrCanceled, "store canceled").WithCause(ctxErr)
		}
		return "", types.NewError(types.ErrStorageFailed, "failed to store approved image").WithCause(err)
	}

	if o.observer != nil {
		o.observer.RecordImageStored()
	}
	o.logger.Info("image approved and stored",
		zap.String("artifact_id", img.ArtifactID),
		zap.String("location", location),
	)
	return location, nil
}

func (o *Orchestrator) discard(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := o.store.DiscardRaw(ctx, id); err != nil {
		o.logger.Warn("failed to discard raw image", zap.String("artifact_id", id), zap.Error(err))
	}
}

func (o *Orchestrator) remember(ctx context.Context, res *Result) {
	if o.index == nil {
		return
	}
	err := o.index.Remember(ctx, res.Prompt, o.cfg.Variant, cache.Entry{
		ArtifactID: res.ArtifactID,
		Location:   res.Location,
		Score:      res.Decision.Score,
		Threshold:  res.Decision.Threshold,
	})
	if err != nil {
		o.logger.Warn("failed to cache stored image", zap.Error(err))
	}
}

// audit 审计失败不影响判定结果
func (o *Orchestrator) audit(ctx context.Context, res *Result) {
	if o.auditor == nil {
		return
	}
	id, err := o.auditor.Record(ctx, audit.Entry{
		RunID:      res.RunID,
		BatchID:    res.BatchID,
		ArtifactID: res.ArtifactID,
		Prompt:     res.Prompt,
		Decision:   res.Decision,
		Location:   res.Location,
	})
	if err != nil {
		o.logger.Error("failed to audit moderation decision",
			zap.String("artifact_id", res.ArtifactID),
			zap.Error(err),
		)
		return
	}
	res.AuditID = id
}

func (o *Orchestrator) recordCache(hit bool) {
	if o.observer == nil {
		return
	}
	if hit {
		o.observer.RecordCacheHit("redis")
	} else {
		o.observer.RecordCacheMiss("redis")
	}
}

// =============================================================================
// 🔀 批量
// =============================================================================

// RunBatch 并发运行多个提示词，结果顺序与输入一致。
// 单个提示词失败不会取消其他提示词；只有 ctx 结束时返回错误。
func (o *Orchestrator) RunBatch(ctx context.Context, prompts []string) ([]*Result, error) {
	results := make([]*Result, len(prompts))
	batchID := uuid.NewString()
	o.logger.Info("starting batch", zap.String("batch_id", batchID), zap.Int("prompts", len(prompts)))

	g, gctx := errgroup.WithContext(ctxkeys.WithBatchID(ctx, batchID))
	g.SetLimit(o.cfg.Concurrency)

	for i, p := range prompts {
		i, p := i, p // go 1.21: per-iteration copies for the goroutine
		g.Go(func() error {
			res, err := o.Run(gctx, p)
			if res == nil {
				res = &Result{BatchID: batchID, Prompt: p, Outcome: OutcomeFailed, Err: err}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, types.NewError(types.ErrCanceled, "batch canceled").WithCause(err)
	}
	return results, nil
}

// Summarize 统计批量结果
func Summarize(results []*Result) map[Outcome]int {
	summary := make(map[Outcome]int, 4)
	for _, r := range results {
		if r == nil {
			continue
		}
		summary[r.Outcome]++
	}
	return summary
}

// JoinErrors 合并所有失败结果的错误
func JoinErrors(results []*Result) error {
	var errs []error
	for _, r := range results {
		if r != nil && r.Err != nil {
			errs = append(errs, fmt.Errorf("%q: %w", r.Prompt, r.Err))
		}
	}
	return errors.Join(errs...)
}
