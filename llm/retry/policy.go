package retry

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Strategy 退避策略
type Strategy string

const (
	// StrategyFixed 每次重试等待相同的 BaseDelay
	StrategyFixed Strategy = "fixed"
	// StrategyExponential 等待时间按 BaseDelay * 2^attempt 增长，受 MaxDelay 限制
	StrategyExponential Strategy = "exponential"
)

// ParseStrategy 解析配置中的策略名称
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyFixed, StrategyExponential:
		return Strategy(s), nil
	case "":
		return StrategyFixed, nil
	default:
		return "", fmt.Errorf("unknown backoff strategy %q (supported: fixed, exponential)", s)
	}
}

// Policy 定义尝试预算与退避参数。
// 进程启动后只读，可在多个 goroutine 之间共享。
type Policy struct {
	MaxAttempts int           // 总尝试次数（含第一次），至少为 1
	BaseDelay   time.Duration // 基础延迟
	MaxDelay    time.Duration // 指数退避的延迟上限（0 表示不设上限）
	Strategy    Strategy      // fixed | exponential
	Jitter      bool          // 是否添加 ±25% 随机抖动
}

// DefaultPolicy 返回默认策略：3 次尝试，固定 5 秒间隔
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		MaxDelay:    60 * time.Second,
		Strategy:    StrategyFixed,
	}
}

// Validate 校验策略参数
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base_delay must not be negative")
	}
	if _, err := ParseStrategy(string(p.Strategy)); err != nil {
		return err
	}
	return nil
}

// normalized 修正非法参数，保证循环总能终止
func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Strategy == "" {
		p.Strategy = StrategyFixed
	}
	return p
}

// Delay 计算第 attempt 次尝试（从 0 开始）失败后、下一次尝试前的等待时间
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.BaseDelay)
	if p.Strategy == StrategyExponential {
		delay = float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter && delay > 0 {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	// 溢出保护
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
