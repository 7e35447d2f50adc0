package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Retryer 重试器接口
// 提供统一的重试能力
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func() error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

// RetryerOption 配置重试器
type RetryerOption func(*backoffRetryer)

// WithRetryableErrors 限定可重试的错误（为空则重试所有错误）
func WithRetryableErrors(errs ...error) RetryerOption {
	return func(r *backoffRetryer) {
		r.retryableErrors = append(r.retryableErrors, errs...)
	}
}

// WithRetryerSleeper 替换等待实现
func WithRetryerSleeper(s Sleeper) RetryerOption {
	return func(r *backoffRetryer) {
		r.sleep = s
	}
}

// backoffRetryer 基于 Loop 的重试器实现
type backoffRetryer struct {
	policy          Policy
	logger          *zap.Logger
	sleep           Sleeper
	retryableErrors []error
}

// NewBackoffRetryer 创建重试器
func NewBackoffRetryer(policy Policy, logger *zap.Logger, opts ...RetryerOption) Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &backoffRetryer{
		policy: policy.normalized(),
		logger: logger,
		sleep:  SleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// 执行与分类在这里完成，预算与退避交给 Loop
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	loop := NewLoop(r.policy, WithLogger(r.logger), WithSleeper(r.sleep))
	var lastErr error

	for loop.Next(ctx) {
		start := time.Now()
		result, err := fn()
		elapsed := time.Since(start)

		if err == nil {
			loop.Record(Attempt{Outcome: OutcomeSuccess, Elapsed: elapsed})
			if loop.Current() > 0 {
				r.logger.Info("重试成功", zap.Int("attempt", loop.Current()))
			}
			return result, nil
		}

		lastErr = err
		if !r.isRetryable(err) {
			loop.Record(Attempt{Outcome: OutcomeFatalError, Elapsed: elapsed, Err: err})
			r.logger.Debug("错误不可重试", zap.Error(err))
			return nil, err
		}
		loop.Record(Attempt{Outcome: OutcomeTransientError, Elapsed: elapsed, Err: err})
	}

	if err := loop.Err(); err != nil {
		return nil, fmt.Errorf("重试被取消: %w", err)
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", loop.Count()),
		zap.Error(lastErr),
	)
	return nil, fmt.Errorf("尝试 %d 次后仍失败: %w", loop.Count(), lastErr)
}

// isRetryable 检查错误是否可重试
func (r *backoffRetryer) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsRetryableError(err) {
		return true
	}

	// 如果没有配置可重试错误列表，则所有错误都可重试
	if len(r.retryableErrors) == 0 {
		return true
	}

	for _, retryableErr := range r.retryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}

	return false
}

// RetryableError 可重试的错误类型
// 用于标记哪些错误应该触发重试
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryableError 检查错误是否被 WrapRetryable 包装为可重试错误。
func IsRetryableError(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// WrapRetryable 将错误包装为可重试错误
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}
