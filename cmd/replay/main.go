// Package main 把原始帧录制文件回放进配置的时序存储。
//
// 用法: replay -config config.yaml -input output/frames-20240301T120000.jsonl [-symbols XBT/USD,ETH/USD]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"orderbook-timetravel/internal/config"
	"orderbook-timetravel/internal/core/manager"
	"orderbook-timetravel/internal/replay"
	"orderbook-timetravel/internal/tsdb"
)

func main() {
	var (
		configPath string
		input      string
		symbols    string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.StringVar(&input, "input", "", "录制文件路径")
	flag.StringVar(&symbols, "symbols", "", "只回放这些交易对（逗号分隔）")
	flag.Parse()

	if input == "" {
		fmt.Fprintln(os.Stderr, "必须指定 -input")
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel)
	defer logger.Sync()

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ts, err := tsdb.Open(ctx, &cfg.Storage)
	if err != nil {
		logger.Error("打开时序存储失败", zap.String("engine", cfg.Storage.Engine), zap.Error(err))
		os.Exit(1)
	}
	defer ts.Close()

	mgr := manager.New(ts, cfg.Broadcast.Capacity, logger)
	defer mgr.Close()

	opts := replay.Options{MaxDepth: cfg.Feed.Depth}
	if symbols != "" {
		for _, s := range strings.Split(symbols, ",") {
			if s = strings.TrimSpace(s); s != "" {
				opts.Symbols = append(opts.Symbols, s)
			}
		}
	}

	res, err := replay.Run(ctx, input, mgr, opts, logger)
	if err != nil {
		logger.Error("回放失败", zap.Error(err), zap.Int64("frames", res.Frames))
		mgr.Close()
		_ = ts.Close()
		os.Exit(1)
	}
	if n := mgr.StoreErrors(); n > 0 {
		logger.Warn("部分快照写入失败", zap.Int64("store_errors", n))
	}

	for _, sym := range mgr.Symbols() {
		st, err := mgr.GetStats(ctx, sym)
		if err != nil {
			continue
		}
		logger.Info("存储统计",
			zap.String("symbol", sym),
			zap.Int64("count", st.Count),
			zap.Time("oldest", st.Oldest),
			zap.Time("newest", st.Newest))
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
