// Package backoff 实现重连等待策略。
// 默认固定间隔、无限重试；可配置为带抖动的指数退避。
package backoff

import (
	"math/rand"
	"time"
)

// maxShift 指数上限，防止位移溢出（无限重试时 attempt 会持续增长）
const maxShift = 30

// Backoff 重连等待计算器
// 每次调用 Next() 返回下一次重试的等待时间。
// base == max 时为固定间隔；否则按 base * 2^attempt 增长直到 max。
// 非并发安全，由单个重连循环持有。
type Backoff struct {
	// base 基础等待时间
	base time.Duration
	// max 最大等待时间
	max time.Duration
	// jitter 抖动比例（0-1），例如 0.2 表示 ±20%
	jitter float64
	// attempt 当前重试次数
	attempt int
	// rnd 随机源
	rnd *rand.Rand
}

// New 创建新的退避计算器
// 参数 base: 基础等待时间
// 参数 max: 最大等待时间，小于 base 时按 base 处理
// 参数 jitter: 抖动比例（0 表示无抖动）
func New(base, max time.Duration, jitter float64) *Backoff {
	if max < base {
		max = base
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Backoff{
		base:   base,
		max:    max,
		jitter: jitter,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewFixed 创建固定间隔的计算器
func NewFixed(delay time.Duration) *Backoff {
	return New(delay, delay, 0)
}

// NewDefault 创建默认配置的计算器：固定 5 秒
func NewDefault() *Backoff {
	return NewFixed(5 * time.Second)
}

// Next 获取下次重试的等待时间
// 返回值不超过 max，也不小于 0
func (b *Backoff) Next() time.Duration {
	shift := b.attempt
	if shift > maxShift {
		shift = maxShift
	}

	delay := b.base * time.Duration(int64(1)<<shift)
	if delay > b.max || delay <= 0 {
		delay = b.max
	}

	// 抖动: delay * (1 ± jitter)，结果再截到 [0, max]
	if b.jitter > 0 {
		factor := 1.0 + (b.rnd.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * factor)
		if delay > b.max {
			delay = b.max
		}
		if delay < 0 {
			delay = 0
		}
	}

	b.attempt++
	return delay
}

// Reset 重置重试次数
// 在会话成功订阅后调用
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 获取当前重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}

// IsFixed 是否为固定间隔
func (b *Backoff) IsFixed() bool {
	return b.base == b.max && b.jitter == 0
}
