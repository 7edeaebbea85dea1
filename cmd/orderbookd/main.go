// Package main 是订单簿时间回溯记录器的入口点。
// 订阅 Kraken 深度行情，维护实时订单簿，把每次更新的快照写入时序存储，
// 并通过广播总线转发给订阅者（可选 Kafka）。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"orderbook-timetravel/internal/config"
	"orderbook-timetravel/internal/core/book"
	"orderbook-timetravel/internal/core/manager"
	"orderbook-timetravel/internal/exchange/kraken"
	"orderbook-timetravel/internal/metadata"
	"orderbook-timetravel/internal/output/jsonl"
	"orderbook-timetravel/internal/output/kafka"
	"orderbook-timetravel/internal/stats/latency"
	"orderbook-timetravel/internal/tsdb"
	"orderbook-timetravel/internal/util/timeutil"
)

// latencyWindows 延迟直方图保留的指标周期数
const latencyWindows = 6

type metricsSnapshot struct {
	// TsUnixNs 指标采集时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// Feed Kraken 连接指标
	Feed kraken.ConnectionMetrics `json:"feed"`
	// Latency 按交易对的延迟统计
	Latency []latency.LagStats `json:"latency,omitempty"`
	// Storage 按交易对的存储统计
	Storage []tsdb.Stats `json:"storage,omitempty"`
	// UpdatesPerSec 按交易对的更新速率
	UpdatesPerSec []updateRate `json:"updates_per_sec,omitempty"`

	// Updates 累计快照更新数
	Updates int64 `json:"updates"`
	// StoreErrors 累计存储写入失败数
	StoreErrors int64 `json:"store_errors"`
	// Subscribers 当前广播订阅者数
	Subscribers int `json:"subscribers"`
	// CaptureDropped 因缓冲满丢弃的录制帧数
	CaptureDropped int64 `json:"capture_dropped,omitempty"`
	// KafkaPublished 已转发到 Kafka 的快照数
	KafkaPublished int64 `json:"kafka_published,omitempty"`
	// KafkaFailed 转发失败的快照数
	KafkaFailed int64 `json:"kafka_failed,omitempty"`
}

type updateRate struct {
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// UpdatesPerSec 每秒更新次数
	UpdatesPerSec float64 `json:"updates_per_sec"`
}

type app struct {
	logger   *zap.Logger
	feed     *kraken.Feed
	mgr      *manager.Manager
	tracker  *latency.Tracker
	capture  *jsonl.Writer
	metrics  *jsonl.Writer
	producer *kafka.Publisher

	// counts 按交易对的累计更新次数（仅 ingest goroutine 访问）
	counts        map[string]int64
	lastCounts    map[string]int64
	lastMetricsAt int64
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel)
	defer logger.Sync()
	if cfg.App.Name != "" {
		logger = logger.With(zap.String("app", cfg.App.Name))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	// 启动时校验交易对，并换成 WebSocket 订阅名称
	if cfg.Metadata.AssetPairsURL != "" {
		fetcher := metadata.NewHTTPFetcher(cfg.Metadata.TimeoutMs)
		maps, err := metadata.ResolveSymbols(ctx, fetcher, cfg.Metadata.AssetPairsURL, cfg.Feed.Symbols)
		if err != nil {
			logger.Error("交易对校验失败", zap.Error(err))
			os.Exit(1)
		}
		for _, m := range maps {
			if m.Input != m.Wsname {
				logger.Info("交易对名称映射", zap.String("input", m.Input), zap.String("wsname", m.Wsname))
			}
		}
		cfg.Feed.Symbols = metadata.Wsnames(maps)
	}

	openCtx, openCancel := context.WithTimeout(ctx, 10*time.Second)
	ts, err := tsdb.Open(openCtx, &cfg.Storage)
	openCancel()
	if err != nil {
		logger.Error("打开时序存储失败", zap.String("engine", cfg.Storage.Engine), zap.Error(err))
		os.Exit(1)
	}
	logger.Info("时序存储已打开", zap.String("engine", cfg.Storage.Engine))

	a := &app{
		logger:  logger,
		mgr:     manager.New(ts, cfg.Broadcast.Capacity, logger),
		tracker: latency.NewTracker(latencyWindows),

		counts:        make(map[string]int64),
		lastCounts:    make(map[string]int64),
		lastMetricsAt: timeutil.NowNano(),
	}

	var opts []kraken.Option
	if cfg.Output.CaptureEnabled {
		a.capture, err = jsonl.NewWriter(outputPath(cfg, "frames"), cfg.Output.BufferSize)
		if err != nil {
			logger.Error("创建 capture writer 失败", zap.Error(err))
			os.Exit(1)
		}
		opts = append(opts, kraken.WithRecorder(a.capture))
		logger.Info("原始帧录制已开启", zap.String("path", a.capture.Path()))
	}
	if cfg.Output.MetricsEnabled {
		a.metrics, err = jsonl.NewWriter(outputPath(cfg, "metrics"), cfg.Output.BufferSize)
		if err != nil {
			logger.Error("创建 metrics writer 失败", zap.Error(err))
			os.Exit(1)
		}
	}

	var wg sync.WaitGroup
	if cfg.Kafka.Enabled {
		a.producer, err = kafka.NewPublisher(
			cfg.Kafka.Brokers,
			cfg.Kafka.Topic,
			time.Duration(cfg.Kafka.BatchTimeoutMs)*time.Millisecond,
			logger,
		)
		if err != nil {
			logger.Error("创建 Kafka publisher 失败", zap.Error(err))
			os.Exit(1)
		}
		sub := a.mgr.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.producer.Run(ctx, sub); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("Kafka 转发退出", zap.Error(err))
			}
		}()
	}

	a.feed = kraken.NewFeed(&cfg.Feed, book.NewRegistry(cfg.Feed.Depth), logger, opts...)
	go a.feed.Run(ctx)

	logger.Info("开始订阅 Kraken 深度行情",
		zap.Strings("symbols", cfg.Feed.Symbols),
		zap.Int("depth", cfg.Feed.Depth))

	// 事件通道在 feed 停止后关闭，ingest 随之返回
	a.ingest(ctx, cfg.Output.MetricsIntervalMs)

	if a.metrics != nil {
		_ = a.metrics.Write(a.snapshotMetrics(context.Background()))
	}

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.mgr.Close()
		wg.Wait()
		if a.producer != nil {
			_ = a.producer.Close()
		}
		if a.capture != nil {
			_ = a.capture.Close()
		}
		if a.metrics != nil {
			_ = a.metrics.Close()
		}
		if err := ts.Close(); err != nil {
			logger.Warn("关闭时序存储失败", zap.Error(err))
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成", zap.Int64("updates", a.mgr.Updates()))
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func outputPath(cfg *config.Config, name string) string {
	stamp := time.Now().UTC().Format("20060102T150405")
	return filepath.Join(cfg.Output.Dir, fmt.Sprintf("%s-%s.jsonl", name, stamp))
}

// ingest 消费会话事件，直到事件通道关闭
func (a *app) ingest(ctx context.Context, metricsIntervalMs int) {
	if metricsIntervalMs <= 0 {
		metricsIntervalMs = 10000
	}
	ticker := time.NewTicker(time.Duration(metricsIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	events := a.feed.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handleEvent(ctx, ev)

		case <-ticker.C:
			if a.metrics != nil {
				_ = a.metrics.Write(a.snapshotMetrics(ctx))
				_ = a.metrics.Flush()
			}
			a.tracker.Rotate()
		}
	}
}

func (a *app) handleEvent(ctx context.Context, ev kraken.Event) {
	switch ev.Type {
	case kraken.SessionOrderbook:
		if ev.Snapshot == nil {
			return
		}
		// 关闭阶段仍会排空已缓冲的事件，写入不跟随退出信号取消
		a.mgr.Update(context.WithoutCancel(ctx), ev.Snapshot)
		a.counts[ev.Snapshot.Symbol]++
		a.tracker.Add(ev.Snapshot.Symbol, ev.ExchTsUnixNs, ev.ArrivedAtUnixNs, timeutil.NowNano())
	case kraken.SessionConnected:
		a.logger.Info("Kraken 已连接")
	case kraken.SessionSubscribed:
		a.logger.Info("Kraken 已订阅")
	case kraken.SessionDisconnected:
		a.logger.Warn("Kraken 连接断开", zap.Error(ev.Err))
	case kraken.SessionError:
		a.logger.Warn("Kraken 会话错误", zap.Error(ev.Err))
	}
}

func (a *app) snapshotMetrics(ctx context.Context) metricsSnapshot {
	nowNs := timeutil.NowNano()
	snap := metricsSnapshot{
		TsUnixNs:    nowNs,
		Feed:        a.feed.Metrics(),
		Latency:     a.tracker.All(),
		Updates:     a.mgr.Updates(),
		StoreErrors: a.mgr.StoreErrors(),
		Subscribers: a.mgr.Subscribers(),
	}
	for _, sym := range a.mgr.Symbols() {
		st, err := a.mgr.GetStats(ctx, sym)
		if err != nil {
			a.logger.Warn("读取存储统计失败", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		snap.Storage = append(snap.Storage, st)
	}
	elapsedSec := float64(nowNs-a.lastMetricsAt) / 1e9
	if elapsedSec > 0 {
		for _, sym := range a.mgr.Symbols() {
			v := a.counts[sym]
			snap.UpdatesPerSec = append(snap.UpdatesPerSec, updateRate{
				Symbol:        sym,
				UpdatesPerSec: float64(v-a.lastCounts[sym]) / elapsedSec,
			})
			a.lastCounts[sym] = v
		}
	}
	a.lastMetricsAt = nowNs

	if a.capture != nil {
		snap.CaptureDropped = a.capture.Dropped()
	}
	if a.producer != nil {
		snap.KafkaPublished = a.producer.Published()
		snap.KafkaFailed = a.producer.Failed()
	}
	return snap
}
