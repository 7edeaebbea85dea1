// Package tsdb 定义订单簿快照时序存储的查询契约及其实现。
//
// 契约：
//   - Append 成功后对后续查询立即可见（读己之写）
//   - 同一交易对按追加顺序保存；不同交易对的追加互不阻塞
//   - RangeScan 返回 [from, to] 闭区间内按时间升序的记录
//   - 存储故障返回包装 ErrUnavailable 的错误，"无数据" 返回 nil 结果与 nil 错误
package tsdb

import (
	"context"
	"errors"
	"time"

	"orderbook-timetravel/internal/core/model"
)

// ErrUnavailable 存储不可用（读写失败、已关闭、数据损坏）
var ErrUnavailable = errors.New("tsdb: 存储不可用")

// Stats 单个交易对的存储统计
type Stats struct {
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Count 记录数
	Count int64 `json:"count"`
	// Oldest 最早记录时间，无记录时为零值
	Oldest time.Time `json:"oldest"`
	// Newest 最新记录时间，无记录时为零值
	Newest time.Time `json:"newest"`
	// ApproxBytes 近似占用字节数
	ApproxBytes int64 `json:"approx_bytes"`
}

// Store 时序存储接口
type Store interface {
	// Append 追加一条快照记录
	Append(ctx context.Context, snap *model.OrderBookSnapshot) error
	// RangeScan 查询 [from, to] 内的记录，按时间升序；时间相同按追加顺序
	RangeScan(ctx context.Context, symbol string, from, to time.Time) ([]*model.OrderBookSnapshot, error)
	// NearestAtOrBefore 查询时间不晚于 t 的最新记录；时间相同取最后追加的一条；无记录返回 nil
	NearestAtOrBefore(ctx context.Context, symbol string, t time.Time) (*model.OrderBookSnapshot, error)
	// Stats 返回统计信息；无记录时 Count 为 0
	Stats(ctx context.Context, symbol string) (Stats, error)
	// Close 释放资源，之后的调用返回 ErrUnavailable
	Close() error
}
