// Package backoff 退避算法测试
package backoff

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestBackoff_ExponentialGrowth 测试退避时间指数增长
func TestBackoff_ExponentialGrowth(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 无抖动时延迟单调不减，且不超过最大值
	properties.Property("退避时间单调不减", prop.ForAll(
		func(baseMs int, maxMs int) bool {
			base := time.Duration(baseMs) * time.Millisecond
			max := time.Duration(maxMs) * time.Millisecond
			b := New(base, max, 0)

			prev := time.Duration(0)
			for i := 0; i < 10; i++ {
				delay := b.Next()
				if delay < prev || delay > max {
					return false
				}
				prev = delay
			}
			return true
		},
		gen.IntRange(100, 2000),
		gen.IntRange(5000, 60000),
	))

	properties.TestingRun(t)
}

// TestBackoff_MaxBound 测试最大值边界
func TestBackoff_MaxBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 抖动后延迟也不超过最大值，且不为负
	properties.Property("延迟在 [0, max] 之间", prop.ForAll(
		func(baseMs int, maxMs int, jitterPercent int) bool {
			base := time.Duration(baseMs) * time.Millisecond
			max := time.Duration(maxMs) * time.Millisecond
			b := New(base, max, float64(jitterPercent)/100.0)

			upper := max
			if base > max {
				upper = base
			}
			for i := 0; i < 20; i++ {
				delay := b.Next()
				if delay < 0 || delay > upper {
					return false
				}
			}
			return true
		},
		gen.IntRange(100, 2000),
		gen.IntRange(1000, 60000),
		gen.IntRange(0, 90),
	))

	properties.TestingRun(t)
}

// TestBackoff_JitterBounds 测试抖动范围
func TestBackoff_JitterBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 第一次延迟在 base * (1 ± jitter) 之内
	properties.Property("抖动在指定范围内", prop.ForAll(
		func(jitterPercent int) bool {
			jitter := float64(jitterPercent) / 100.0
			base := time.Second
			b := New(base, 30*time.Second, jitter)

			for i := 0; i < 50; i++ {
				b.Reset()
				delay := float64(b.Next())
				if delay < float64(base)*(1-jitter) || delay > float64(base)*(1+jitter) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

// TestBackoff_Reset 测试重置功能
func TestBackoff_Reset(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("重置后从基础值开始", prop.ForAll(
		func(attempts int) bool {
			b := New(time.Second, 30*time.Second, 0)
			for i := 0; i < attempts; i++ {
				b.Next()
			}
			b.Reset()
			if b.Attempt() != 0 {
				return false
			}
			return b.Next() == time.Second
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// TestBackoff_DefaultConfig 测试默认配置：固定 5 秒
func TestBackoff_DefaultConfig(t *testing.T) {
	b := NewDefault()
	if !b.IsFixed() {
		t.Fatal("默认配置应为固定间隔")
	}
	for i := 0; i < 20; i++ {
		if got := b.Next(); got != 5*time.Second {
			t.Fatalf("第 %d 次: delay = %v, want 5s", i, got)
		}
	}
}

// TestBackoff_FixedUnbounded 测试无限重试时不会溢出
func TestBackoff_FixedUnbounded(t *testing.T) {
	b := NewFixed(10 * time.Millisecond)
	for i := 0; i < 1000; i++ {
		if got := b.Next(); got != 10*time.Millisecond {
			t.Fatalf("第 %d 次: delay = %v", i, got)
		}
	}

	e := New(time.Second, time.Minute, 0)
	for i := 0; i < 1000; i++ {
		if got := e.Next(); got <= 0 || got > time.Minute {
			t.Fatalf("第 %d 次: delay = %v 越界", i, got)
		}
	}
}

// TestBackoff_SpecificValues 测试特定值
func TestBackoff_SpecificValues(t *testing.T) {
	b := New(time.Second, 30*time.Second, 0)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // 2^5 = 32, 限制为 30
		{6, 30 * time.Second},
	}

	for _, tt := range tests {
		b.Reset()
		for i := 0; i < tt.attempt; i++ {
			b.Next()
		}
		got := b.Next()
		if got != tt.expected {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

// TestBackoff_MaxBelowBase 测试 max 小于 base 时按 base 处理
func TestBackoff_MaxBelowBase(t *testing.T) {
	b := New(2*time.Second, time.Second, 0)
	if got := b.Next(); got != 2*time.Second {
		t.Errorf("delay = %v, want 2s", got)
	}
	if !b.IsFixed() {
		t.Error("应视为固定间隔")
	}
}
