// Package replay 从原始帧录制文件重建订单簿历史。
// 帧按录制顺序重新解析，每次更新后的快照以帧到达时间为时间戳写入管理器。
package replay

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"orderbook-timetravel/internal/core/book"
	"orderbook-timetravel/internal/core/model"
	"orderbook-timetravel/internal/exchange/kraken"
	"orderbook-timetravel/internal/output/jsonl"
	"orderbook-timetravel/internal/util/timeutil"
)

// Sink 快照接收方（*manager.Manager）
type Sink interface {
	Update(ctx context.Context, snap *model.OrderBookSnapshot)
}

// Result 回放统计
type Result struct {
	// Frames 读取的帧数
	Frames int64 `json:"frames"`
	// Snapshots 产生的快照数
	Snapshots int64 `json:"snapshots"`
	// ParseErrors 无法解析的帧数
	ParseErrors int64 `json:"parse_errors"`
	// Symbols 涉及的交易对数
	Symbols int `json:"symbols"`
}

// Options 回放选项
type Options struct {
	// Symbols 只回放这些交易对，为空表示全部
	Symbols []string
	// MaxDepth 订单簿深度
	MaxDepth int
}

// Run 回放录制文件
// ctx 取消时停止并返回已处理的统计与 ctx.Err()。
func Run(ctx context.Context, path string, sink Sink, opts Options, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("replay")

	var filter map[string]bool
	if len(opts.Symbols) > 0 {
		filter = make(map[string]bool, len(opts.Symbols))
		for _, s := range opts.Symbols {
			filter[s] = true
		}
	}

	books := book.NewRegistry(opts.MaxDepth)
	p := kraken.NewProcessor(books)

	var res Result
	err := jsonl.ReadFrames(path, func(fr jsonl.Frame) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Frames++

		_, snap, err := p.Process([]byte(fr.Data))
		if err != nil {
			res.ParseErrors++
			if errors.Is(err, kraken.ErrProtocol) {
				logger.Debug("跳过无法解析的帧", zap.Int64("frame", res.Frames), zap.Error(err))
				return nil
			}
			return err
		}
		if snap == nil || (filter != nil && !filter[snap.Symbol]) {
			return nil
		}

		snap.Timestamp = timeutil.NanoToTime(fr.ArrivedUnixNs)
		sink.Update(ctx, snap)
		res.Snapshots++
		return nil
	})
	res.Symbols = books.Len()

	logger.Info("回放结束",
		zap.String("path", path),
		zap.Int64("frames", res.Frames),
		zap.Int64("snapshots", res.Snapshots),
		zap.Int64("parse_errors", res.ParseErrors))
	return res, err
}
