package image

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/imagegate/llm/retry"
	"github.com/BaSui01/imagegate/types"
)

// failureKind 细分失败原因，用于终止时选择错误码.
type failureKind int

const (
	failureNone failureKind = iota
	failureRateLimited
	failureStatus
	failureNetwork
	failureInvalidResponse
	failureDownload
	failurePacing
)

func (k failureKind) String() string {
	switch k {
	case failureRateLimited:
		return "rate_limited"
	case failureStatus:
		return "unexpected_status"
	case failureNetwork:
		return "network"
	case failureInvalidResponse:
		return "invalid_response"
	case failureDownload:
		return "download_failed"
	case failurePacing:
		return "pacing"
	default:
		return "none"
	}
}

// classify 把一次尝试的错误映射为重试结果.
// 所有远端失败都可重试，共享同一个尝试预算.
func classify(err error) (retry.Outcome, failureKind, int) {
	if err == nil {
		return retry.OutcomeSuccess, failureNone, 0
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return retry.OutcomeRateLimited, failureRateLimited, statusErr.StatusCode
		}
		return retry.OutcomeTransientError, failureStatus, statusErr.StatusCode
	}

	var dlErr *DownloadError
	if errors.As(err, &dlErr) {
		return retry.OutcomeTransientError, failureDownload, dlErr.StatusCode
	}

	if errors.Is(err, errMalformedResponse) {
		return retry.OutcomeTransientError, failureInvalidResponse, 0
	}

	// 本地限速等待超过截止时间，请求未发出
	var limiterErr *limiterError
	if errors.As(err, &limiterErr) {
		return retry.OutcomeTransientError, failurePacing, 0
	}

	// 连接重置、超时、DNS 失败等
	return retry.OutcomeTransientError, failureNetwork, 0
}

// Client 是生成客户端：提交、解析、下载，并在预算内重试.
// 除只读配置和并发安全的限速器外不持有可变状态，可被多个 goroutine 共享.
type Client struct {
	cfg        Config
	policy     retry.Policy
	service    Service
	normalizer Normalizer
	artifacts  ArtifactWriter
	observer   AttemptObserver
	limiter    *rate.Limiter
	sleep      retry.Sleeper
	newID      func() string
	logger     *zap.Logger
}

// ClientOption 配置 Client.
type ClientOption func(*Client)

// WithArtifactWriter 成功时持久化原始字节.
func WithArtifactWriter(w ArtifactWriter) ClientOption {
	return func(c *Client) { c.artifacts = w }
}

// WithAttemptObserver 接收每次尝试的记录.
func WithAttemptObserver(o AttemptObserver) ClientOption {
	return func(c *Client) { c.observer = o }
}

// WithSleeper 替换退避等待实现.
func WithSleeper(s retry.Sleeper) ClientOption {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithLimiter 替换请求限速器，nil 表示不限速.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// WithIDGenerator 替换工件 ID 生成器.
func WithIDGenerator(fn func() string) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewClient 创建生成客户端.
func NewClient(cfg Config, policy retry.Policy, service Service, normalizer Normalizer, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if service == nil {
		return nil, fmt.Errorf("service is required")
	}
	if normalizer == nil {
		return nil, fmt.Errorf("normalizer is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:        cfg,
		policy:     policy,
		service:    service,
		normalizer: normalizer,
		sleep:      retry.SleepContext,
		newID:      uuid.NewString,
		logger:     logger.With(zap.String("component", "generation_client")),
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate 请求一张图像并返回标准化结果.
// 失败时返回 *types.Error，错误码为 REMOTE_UNAVAILABLE、RATE_LIMIT_EXHAUSTED、
// DOWNLOAD_FAILED 之一(畸形响应耗尽预算时为 REMOTE_UNAVAILABLE 且包裹 INVALID_RESPONSE).
func (c *Client) Generate(ctx context.Context, prompt string) (*StandardizedImage, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "prompt must not be empty")
	}

	req := &GenerationRequest{
		Prompt:         prompt,
		N:              1,
		Size:           c.cfg.Size,
		ResponseFormat: c.cfg.ResponseFormat,
	}

	c.logger.Info("starting image generation",
		zap.Int("prompt_len", len(prompt)),
		zap.String("size", req.Size.String()),
		zap.String("response_format", string(req.ResponseFormat)),
		zap.Int("max_attempts", c.policy.MaxAttempts),
	)

	loop := retry.NewLoop(c.policy, retry.WithLogger(c.logger), retry.WithSleeper(c.sleep))
	var (
		lastKind failureKind
		lastErr  error
		lastCode int
	)

	for loop.Next(ctx) {
		n := loop.Current()
		c.logger.Debug("sending generation request", zap.Int("attempt", n+1))

		start := time.Now()
		raw, err := c.attempt(ctx, req)
		elapsed := time.Since(start)

		// 调用方取消时立即中止，不计入预算
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, c.canceled(loop, ctxErr)
		}

		outcome, kind, status := classify(err)
		a := retry.Attempt{Number: n, Outcome: outcome, Elapsed: elapsed, StatusCode: status, Err: err}
		loop.Record(a)
		if c.observer != nil {
			c.observer.ObserveAttempt(a)
		}

		if outcome == retry.OutcomeSuccess {
			c.logger.Info("generation attempt succeeded",
				zap.Int("attempt", n+1),
				zap.Duration("elapsed", elapsed),
				zap.Int("bytes", len(raw.Data)),
			)
			return c.finish(ctx, raw)
		}

		lastKind, lastErr, lastCode = kind, err, status
		fields := []zap.Field{
			zap.Int("attempt", n+1),
			zap.String("outcome", outcome.String()),
			zap.String("reason", kind.String()),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		}
		switch kind {
		case failureRateLimited:
			c.logger.Warn("rate limit exceeded", fields...)
		case failurePacing:
			c.logger.Warn("request pacing wait exceeds deadline", fields...)
		default:
			c.logger.Error("generation attempt failed", fields...)
		}
	}

	if ctxErr := loop.Err(); ctxErr != nil {
		return nil, c.canceled(loop, ctxErr)
	}

	terminal := c.exhausted(loop, lastKind, lastErr, lastCode)
	c.logger.Error("all attempts to generate image have failed", zap.Error(terminal))
	return nil, terminal
}

// limiterError 表示限速等待无法在截止时间前完成.
type limiterError struct{ err error }

func (e *limiterError) Error() string { return "rate limiter wait: " + e.err.Error() }
func (e *limiterError) Unwrap() error { return e.err }

// attempt 执行一次完整尝试：提交、解析引用、必要时下载.
func (c *Client) attempt(ctx context.Context, req *GenerationRequest) (*RawImage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &limiterError{err: err}
		}
	}

	submitCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	ref, err := c.service.Submit(submitCtx, req)
	cancel()
	if err != nil {
		return nil, err
	}

	if ref.URL != "" {
		c.logger.Debug("received successful response, downloading image")
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		raw, err := c.service.Fetch(fetchCtx, ref.URL)
		if err != nil {
			var dlErr *DownloadError
			if !errors.As(err, &dlErr) {
				err = &DownloadError{URL: ref.URL, Err: err}
			}
			return nil, err
		}
		return raw, nil
	}

	data, err := base64.StdEncoding.DecodeString(ref.B64JSON)
	if err != nil || len(data) == 0 {
		return nil, fmt.Errorf("%w: invalid b64_json payload", errMalformedResponse)
	}
	return &RawImage{Data: data, ContentType: http.DetectContentType(data)}, nil
}

// finish 标准化后再持久化原始字节，标准化失败不会留下原始文件.
func (c *Client) finish(ctx context.Context, raw *RawImage) (*StandardizedImage, error) {
	img, err := c.normalizer.Normalize(raw)
	if err != nil {
		return nil, types.NewError(types.ErrNormalizeFailed, "failed to normalize image").WithCause(err)
	}

	id := c.newID()
	if c.artifacts != nil {
		location, err := c.artifacts.WriteRaw(ctx, id, raw)
		if err != nil {
			return nil, types.NewError(types.ErrStorageFailed, "failed to persist raw image").WithCause(err)
		}
		c.logger.Info("image saved", zap.String("artifact_id", id), zap.String("location", location))
	}
	img.ArtifactID = id
	c.logger.Info("processed image ready",
		zap.String("artifact_id", id),
		zap.String("format", string(img.Format)),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
	)
	return img, nil
}

func (c *Client) canceled(loop *retry.Loop, cause error) error {
	outcome := ""
	if last, ok := loop.Last(); ok {
		outcome = last.Outcome.String()
	}
	c.logger.Warn("image generation canceled", zap.Int("attempts", loop.Count()), zap.Error(cause))
	return types.NewError(types.ErrCanceled, "image generation canceled").
		WithAttempts(loop.Count(), outcome).
		WithCause(cause)
}

// exhausted 根据最后一次失败选择终止错误码.
func (c *Client) exhausted(loop *retry.Loop, kind failureKind, lastErr error, status int) error {
	attempts := loop.Count()
	outcome := ""
	if last, ok := loop.Last(); ok {
		outcome = last.Outcome.String()
	}

	var e *types.Error
	switch kind {
	case failureRateLimited:
		e = types.NewError(types.ErrRateLimitExhausted, "rate limited on every remaining attempt").WithCause(lastErr)
	case failurePacing:
		e = types.NewError(types.ErrRateLimitExhausted, "request pacing cannot fit within the deadline").WithCause(lastErr)
	case failureDownload:
		e = types.NewError(types.ErrDownloadFailed, "image download failed").WithCause(lastErr)
	case failureInvalidResponse:
		cause := types.NewError(types.ErrInvalidResponse, "response missing image reference").WithCause(lastErr)
		e = types.NewError(types.ErrRemoteUnavailable, "remote returned malformed responses").WithCause(cause)
	default:
		e = types.NewError(types.ErrRemoteUnavailable, "remote service unavailable").WithCause(lastErr)
	}
	return e.WithHTTPStatus(status).WithAttempts(attempts, outcome)
}
