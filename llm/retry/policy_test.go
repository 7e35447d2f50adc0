package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestPolicy_DelayCalculation(t *testing.T) {
	exp := Policy{
		MaxAttempts: 6,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    1 * time.Second,
		Strategy:    StrategyExponential,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond}, // 初始延迟
		{1, 200 * time.Millisecond}, // 100 * 2^1
		{2, 400 * time.Millisecond}, // 100 * 2^2
		{3, 800 * time.Millisecond}, // 100 * 2^3
		{4, 1 * time.Second},        // 达到最大延迟
		{-1, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, exp.Delay(tt.attempt), "attempt %d", tt.attempt)
	}

	fixed := Policy{MaxAttempts: 3, BaseDelay: 5 * time.Second, Strategy: StrategyFixed}
	for attempt := 0; attempt < 5; attempt++ {
		assert.Equal(t, 5*time.Second, fixed.Delay(attempt))
	}
}

func TestPolicy_JitterStaysInRange(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, Strategy: StrategyFixed, Jitter: true}
	for i := 0; i < 100; i++ {
		d := p.Delay(0)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{MaxAttempts: 0}.Validate())
	assert.Error(t, Policy{MaxAttempts: 1, BaseDelay: -time.Second}.Validate())
	assert.Error(t, Policy{MaxAttempts: 1, Strategy: "linear"}.Validate())
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("exponential")
	assert.NoError(t, err)
	assert.Equal(t, StrategyExponential, s)

	s, err = ParseStrategy("")
	assert.NoError(t, err)
	assert.Equal(t, StrategyFixed, s)

	_, err = ParseStrategy("random")
	assert.Error(t, err)
}

// TestProperty_Policy_ExponentialMonotonic 指数退避在上限内单调不减
func TestProperty_Policy_ExponentialMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := time.Duration(rapid.Int64Range(1, int64(time.Second)).Draw(rt, "base"))
		maxDelay := time.Duration(rapid.Int64Range(int64(base), int64(time.Minute)).Draw(rt, "max"))
		p := Policy{MaxAttempts: 10, BaseDelay: base, MaxDelay: maxDelay, Strategy: StrategyExponential}

		prev := time.Duration(0)
		for attempt := 0; attempt < 40; attempt++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(rt, d, prev)
			assert.LessOrEqual(rt, d, maxDelay)
			prev = d
		}
	})
}
