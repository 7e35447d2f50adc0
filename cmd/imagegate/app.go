package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/imagegate/config"
	"github.com/BaSui01/imagegate/internal/audit"
	"github.com/BaSui01/imagegate/internal/cache"
	"github.com/BaSui01/imagegate/internal/database"
	"github.com/BaSui01/imagegate/internal/imaging"
	"github.com/BaSui01/imagegate/internal/metrics"
	"github.com/BaSui01/imagegate/internal/server"
	"github.com/BaSui01/imagegate/internal/storage"
	"github.com/BaSui01/imagegate/internal/telemetry"
	llmimage "github.com/BaSui01/imagegate/llm/image"
	"github.com/BaSui01/imagegate/llm/moderation"
	"github.com/BaSui01/imagegate/llm/retry"
	"github.com/BaSui01/imagegate/pipeline"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// App 持有一次 CLI 运行所需的全部组件
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	orchestrator *pipeline.Orchestrator
	store        *storage.FileStore

	telemetry     *telemetry.Providers
	metricsServer *server.Manager
	cache         *cache.Manager
	pool          *database.PoolManager
	recorder      *audit.Recorder
}

// NewApp 按配置装配生成客户端、审核闸门与编排器。
// 可选组件（缓存、审计、指标、追踪）只在启用时创建。
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	app.telemetry, err = telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		app.telemetry = &telemetry.Providers{}
		err = nil
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
		srvCfg := server.DefaultConfig()
		srvCfg.Addr = cfg.Metrics.Addr
		app.metricsServer = server.NewManager(server.NewMetricsHandler(), srvCfg, logger)
		if err = app.metricsServer.Start(); err != nil {
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
	}

	app.store, err = storage.NewFileStore(storage.Config{
		Dir:    cfg.Storage.Dir,
		RawDir: cfg.Storage.RawDir,
	}, logger)
	if err != nil {
		return nil, err
	}

	generator, err := newGenerator(cfg, app.store, collector, logger)
	if err != nil {
		return nil, err
	}

	gate, err := newGate(cfg, collector, logger)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{pipeline.WithTracer(app.telemetry.Tracer())}
	if collector != nil {
		opts = append(opts, pipeline.WithRunObserver(collector))
	}

	if cfg.Redis.Enabled {
		app.cache, err = cache.NewManager(cache.Config{
			Enabled:      true,
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DefaultTTL:   cfg.Redis.TTL,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			MaxRetries:   3,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		opts = append(opts, pipeline.WithIndex(cache.NewImageIndex(app.cache, logger)))
	}

	if cfg.Database.Enabled {
		if err = app.openAudit(ctx, collector); err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithAuditor(app.recorder))
	}

	app.orchestrator, err = pipeline.NewOrchestrator(pipeline.Config{
		Threshold:       cfg.Moderation.Threshold,
		Variant:         variant(cfg),
		KeepRejectedRaw: cfg.Storage.KeepRejectedRaw,
		Concurrency:     cfg.Pipeline.Concurrency,
	}, generator, gate, app.store, logger, opts...)
	if err != nil {
		return nil, err
	}

	return app, nil
}

func newGenerator(cfg *config.Config, store *storage.FileStore, collector *metrics.Collector, logger *zap.Logger) (*llmimage.Client, error) {
	size, err := llmimage.ParseSize(cfg.Generation.Size)
	if err != nil {
		return nil, err
	}
	genCfg := llmimage.Config{
		APIKey:            cfg.Generation.APIKey,
		BaseURL:           cfg.Generation.BaseURL,
		Model:             cfg.Generation.Model,
		Size:              size,
		ResponseFormat:    llmimage.ResponseFormat(cfg.Generation.ResponseFormat),
		Timeout:           cfg.Generation.Timeout,
		UserAgent:         cfg.Generation.UserAgent,
		RequestsPerMinute: cfg.Generation.RequestsPerMinute,
	}

	policy, err := retryPolicy(cfg.Retry)
	if err != nil {
		return nil, err
	}

	normalizer, err := imaging.NewNormalizer(imaging.Config{
		Width:       cfg.Image.Width,
		Height:      cfg.Image.Height,
		Format:      llmimage.Format(cfg.Image.Format),
		JPEGQuality: cfg.Image.JPEGQuality,
	}, logger)
	if err != nil {
		return nil, err
	}

	opts := []llmimage.ClientOption{llmimage.WithArtifactWriter(store)}
	if collector != nil {
		opts = append(opts, llmimage.WithAttemptObserver(collector))
	}
	return llmimage.NewClient(genCfg, policy, llmimage.NewOpenAIService(genCfg), normalizer, logger, opts...)
}

func newGate(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*moderation.Gate, error) {
	policy, err := retryPolicy(cfg.Retry)
	if err != nil {
		return nil, err
	}
	policy.MaxAttempts = cfg.Moderation.MaxAttempts

	scorer := moderation.NewOpenAIScorer(moderation.OpenAIConfig{
		APIKey:    cfg.Moderation.APIKey,
		BaseURL:   cfg.Moderation.BaseURL,
		Model:     cfg.Moderation.Model,
		Timeout:   cfg.Moderation.Timeout,
		UserAgent: cfg.Generation.UserAgent,
	}, moderation.NewScoringRetryer(policy, logger), logger)

	var opts []moderation.GateOption
	if collector != nil {
		opts = append(opts, moderation.WithDecisionObserver(collector))
	}
	return moderation.NewGate(scorer, logger, opts...)
}

func (a *App) openAudit(ctx context.Context, collector *metrics.Collector) error {
	db, err := database.Open(a.cfg.Database, a.logger)
	if err != nil {
		return err
	}

	var poolOpts []database.PoolOption
	var auditOpts []audit.Option
	if collector != nil {
		poolOpts = append(poolOpts, database.WithStatsObserver(collector))
		auditOpts = append(auditOpts, audit.WithQueryObserver(collector))
	}

	a.pool, err = database.NewPoolManager(db, database.PoolConfigFrom(a.cfg.Database), a.logger, poolOpts...)
	if err != nil {
		return err
	}

	a.recorder, err = audit.NewRecorder(ctx, a.pool, a.logger, auditOpts...)
	return err
}

func retryPolicy(cfg config.RetryConfig) (retry.Policy, error) {
	strategy, err := retry.ParseStrategy(cfg.Strategy)
	if err != nil {
		return retry.Policy{}, err
	}
	return retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Strategy:    strategy,
		Jitter:      cfg.Jitter,
	}, nil
}

// variant 区分不同生成参数下的缓存条目
func variant(cfg *config.Config) string {
	return fmt.Sprintf("%s/%s/%dx%d.%s",
		cfg.Generation.Model, cfg.Generation.Size, cfg.Image.Width, cfg.Image.Height, cfg.Image.Format)
}

// Orchestrator 返回装配好的编排器
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orchestrator }

// Recorder 返回审计记录器，未启用数据库时为 nil
func (a *App) Recorder() *audit.Recorder { return a.recorder }

// Close 按依赖的逆序释放资源
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.metricsServer != nil {
		errs = append(errs, a.metricsServer.Shutdown(ctx))
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
