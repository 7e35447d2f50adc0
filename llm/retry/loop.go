package retry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Outcome 单次尝试的结果分类
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeTransientError
	OutcomeFatalError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeRateLimited:
		return "RateLimited"
	case OutcomeTransientError:
		return "TransientError"
	case OutcomeFatalError:
		return "FatalError"
	default:
		return "Unknown"
	}
}

// Attempt 记录一次尝试，仅用于诊断与策略判断，不做持久化
type Attempt struct {
	Number     int           // 从 0 开始
	Outcome    Outcome       //
	Elapsed    time.Duration // 本次尝试耗时（不含退避等待）
	StatusCode int           // 远端 HTTP 状态码，网络层失败时为 0
	Err        error         // 失败原因
}

// State 循环状态
type State int

const (
	StateReady     State = iota // 可以开始下一次尝试
	StateRunning                // 尝试进行中，等待 Record
	StateSucceeded              // 已成功
	StateFailed                 // 遇到不可重试错误
	StateExhausted              // 尝试预算耗尽
	StateCanceled               // context 被取消
)

// Sleeper 在两次尝试之间等待，必须响应 ctx 取消
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext 是默认 Sleeper
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Loop 是显式的重试状态机。
// 调用方负责执行与分类（Record），Loop 负责预算与退避（Next）：
//
//	loop := retry.NewLoop(policy)
//	for loop.Next(ctx) {
//	    loop.Record(retry.Attempt{Number: loop.Current(), Outcome: classify(call())})
//	}
//
// 所有失败类型共享同一个尝试预算。Loop 不是并发安全的，每次调用各自创建。
type Loop struct {
	policy  Policy
	sleep   Sleeper
	logger  *zap.Logger
	state   State
	started int
	history []Attempt
	err     error
}

// LoopOption 配置 Loop
type LoopOption func(*Loop)

// WithSleeper 替换等待实现（测试中用于记录延迟而不真正等待）
func WithSleeper(s Sleeper) LoopOption {
	return func(l *Loop) {
		if s != nil {
			l.sleep = s
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop 创建新的重试循环
func NewLoop(policy Policy, opts ...LoopOption) *Loop {
	l := &Loop{
		policy: policy.normalized(),
		sleep:  SleepContext,
		logger: zap.NewNop(),
		state:  StateReady,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.history = make([]Attempt, 0, l.policy.MaxAttempts)
	return l
}

// Next 推进到下一次尝试。第一次调用立即返回 true；之后仅在上一次尝试失败
// 且预算未耗尽时，等待退避延迟后返回 true。取消时返回 false 并记录 Err。
func (l *Loop) Next(ctx context.Context) bool {
	if l.state == StateRunning {
		// 调用方未记录结果，按瞬时错误处理
		l.Record(Attempt{Number: l.started - 1, Outcome: OutcomeTransientError})
	}
	if l.state != StateReady {
		return false
	}

	if err := ctx.Err(); err != nil {
		l.cancel(err)
		return false
	}

	if l.started > 0 {
		if l.started >= l.policy.MaxAttempts {
			l.state = StateExhausted
			l.logger.Warn("retry budget exhausted",
				zap.Int("attempts", l.started),
				zap.String("last_outcome", l.history[len(l.history)-1].Outcome.String()),
			)
			return false
		}

		last := l.history[len(l.history)-1]
		delay := l.policy.Delay(last.Number)
		l.logger.Info("retrying after backoff",
			zap.Int("next_attempt", l.started),
			zap.Int("max_attempts", l.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.String("last_outcome", last.Outcome.String()),
			zap.Error(last.Err),
		)
		if err := l.sleep(ctx, delay); err != nil {
			l.cancel(err)
			return false
		}
		// 等待结束后再检查一次，避免在已取消的 ctx 上发起请求
		if err := ctx.Err(); err != nil {
			l.cancel(err)
			return false
		}
	}

	l.started++
	l.state = StateRunning
	return true
}

// Record 记录当前尝试的结果
func (l *Loop) Record(a Attempt) {
	if l.state != StateRunning {
		return
	}
	a.Number = l.started - 1
	l.history = append(l.history, a)

	switch a.Outcome {
	case OutcomeSuccess:
		l.state = StateSucceeded
	case OutcomeFatalError:
		l.state = StateFailed
	default:
		l.state = StateReady
	}
}

func (l *Loop) cancel(err error) {
	l.state = StateCanceled
	l.err = err
	l.logger.Debug("retry loop canceled", zap.Int("attempts", l.started), zap.Error(err))
}

// Current 返回当前尝试编号（从 0 开始）
func (l *Loop) Current() int {
	if l.started == 0 {
		return 0
	}
	return l.started - 1
}

// State 返回当前状态
func (l *Loop) State() State { return l.state }

// Err 返回导致循环中止的 context 错误
func (l *Loop) Err() error { return l.err }

// Attempts 返回已记录的尝试
func (l *Loop) Attempts() []Attempt {
	out := make([]Attempt, len(l.history))
	copy(out, l.history)
	return out
}

// Count 返回已开始的尝试次数
func (l *Loop) Count() int { return l.started }

// Last 返回最后一次记录的尝试
func (l *Loop) Last() (Attempt, bool) {
	if len(l.history) == 0 {
		return Attempt{}, false
	}
	return l.history[len(l.history)-1], true
}
