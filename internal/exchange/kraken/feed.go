package kraken

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"orderbook-timetravel/internal/config"
	"orderbook-timetravel/internal/core/book"
	"orderbook-timetravel/internal/util/backoff"
	"orderbook-timetravel/internal/util/timeutil"
)

// Feed 行情监督器
// 循环创建 Session：会话结束后按重连策略等待再重建，直到 ctx 取消。
// 订单簿注册表跨会话保留，重连后由新快照整体替换。
type Feed struct {
	// cfg 行情配置
	cfg *config.FeedConfig
	// logger 日志记录器
	logger *zap.Logger
	// processor 帧处理器
	processor *Processor
	// recorder 原始帧录制（可选）
	recorder FrameRecorder

	// events 事件输出通道，Run 返回时关闭
	events chan Event
	// backoff 重连等待
	backoff *backoff.Backoff
	// stats 跨会话计数器
	stats counters

	// metrics 连接指标
	metrics ConnectionMetrics
	// metricsMu 指标锁
	metricsMu sync.RWMutex
}

// Option Feed 可选项
type Option func(*Feed)

// WithRecorder 设置原始帧录制
func WithRecorder(r FrameRecorder) Option {
	return func(f *Feed) { f.recorder = r }
}

// WithBackoff 覆盖重连策略
func WithBackoff(b *backoff.Backoff) Option {
	return func(f *Feed) { f.backoff = b }
}

// NewFeed 创建行情监督器
// 参数 cfg: 行情配置
// 参数 books: 订单簿注册表
// 参数 logger: 日志记录器
func NewFeed(cfg *config.FeedConfig, books *book.Registry, logger *zap.Logger, opts ...Option) *Feed {
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 1000
	}
	f := &Feed{
		cfg:       cfg,
		logger:    logger.Named("kraken"),
		processor: NewProcessor(books),
		events:    make(chan Event, buffer),
		backoff: backoff.New(
			ms(cfg.Reconnect.BaseDelayMs, 5*time.Second),
			ms(cfg.Reconnect.MaxDelayMs, 5*time.Second),
			cfg.Reconnect.Jitter,
		),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Events 获取会话事件通道
func (f *Feed) Events() <-chan Event {
	return f.events
}

// Run 启动监督循环，阻塞直到 ctx 取消
// 返回前关闭事件通道。
func (f *Feed) Run(ctx context.Context) {
	defer close(f.events)

	go f.metricsLoop(ctx)

	for {
		s := newSession(f.cfg, f.processor, f.events, f.recorder, &f.stats, f.logger)
		err := s.Run(ctx)
		if ctx.Err() != nil {
			f.logger.Info("Kraken 行情已停止")
			return
		}

		if s.reachedSubscribed() {
			f.backoff.Reset()
		}
		atomic.AddInt64(&f.stats.reconnects, 1)

		delay := f.backoff.Next()
		f.logger.Info("Kraken 准备重连",
			zap.Error(err),
			zap.Duration("delay", delay),
			zap.Int("attempt", f.backoff.Attempt()))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.logger.Info("Kraken 行情已停止")
			return
		case <-timer.C:
		}
	}
}

// State 返回当前会话状态
func (f *Feed) State() State {
	return State(atomic.LoadInt32(&f.stats.state))
}

// Books 返回订单簿注册表
func (f *Feed) Books() *book.Registry {
	return f.processor.Books()
}

func (f *Feed) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64
	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			count := atomic.LoadInt64(&f.stats.updates)
			elapsed := now.Sub(lastTick).Seconds()
			var qps float64
			if elapsed > 0 {
				qps = float64(count-lastCount) / elapsed
			}
			lastCount = count
			lastTick = now

			f.metricsMu.Lock()
			f.metrics.UpdatesPerSec = qps
			f.metricsMu.Unlock()
		}
	}
}

// Metrics 获取连接指标
func (f *Feed) Metrics() ConnectionMetrics {
	f.metricsMu.RLock()
	m := f.metrics
	f.metricsMu.RUnlock()

	m.State = f.State().String()
	m.ReconnectCount = atomic.LoadInt64(&f.stats.reconnects)
	m.ParseErrorCount = atomic.LoadInt64(&f.stats.parseErrors)
	m.SkippedEntryCount = atomic.LoadInt64(&f.stats.skipped)
	if last := atomic.LoadInt64(&f.stats.lastMsgTime); last > 0 {
		m.LastMessageAgeMs = timeutil.NanoToMs(timeutil.NowNano() - last)
	}
	return m
}
