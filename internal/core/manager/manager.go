// Package manager 协调订单簿快照的缓存、持久化与广播。
//
// Update 的顺序为：写缓存 -> 追加到时序存储 -> 广播。
// 存储失败只记录日志，不回滚缓存也不阻止广播；查询时存储故障以错误返回，
// 与 "无数据" 区分开。
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"orderbook-timetravel/internal/core/bus"
	"orderbook-timetravel/internal/core/model"
	"orderbook-timetravel/internal/core/store"
	"orderbook-timetravel/internal/tsdb"
)

// AtTimeWindow GetAtTime 向前查找的最大时间跨度
const AtTimeWindow = time.Hour

// Manager 订单簿管理器
type Manager struct {
	cache  *store.Store
	ts     tsdb.Store
	bus    *bus.Bus[*model.OrderBookSnapshot]
	logger *zap.Logger

	// updates 累计更新次数
	updates int64
	// storeErrors 累计存储写入失败次数
	storeErrors int64
}

// New 创建管理器
// 参数 ts: 时序存储
// 参数 capacity: 每个订阅者的广播缓冲容量
// 参数 logger: 日志记录器
func New(ts tsdb.Store, capacity int, logger *zap.Logger) *Manager {
	return &Manager{
		cache:  store.New(),
		ts:     ts,
		bus:    bus.New[*model.OrderBookSnapshot](capacity),
		logger: logger.Named("manager"),
	}
}

// Update 接收一份新快照
// 快照交给管理器后不得再修改：缓存、存储与所有订阅者共享同一份。
func (m *Manager) Update(ctx context.Context, snap *model.OrderBookSnapshot) {
	if snap == nil || snap.Symbol == "" {
		return
	}
	atomic.AddInt64(&m.updates, 1)

	m.cache.Put(snap)

	if err := m.ts.Append(ctx, snap); err != nil {
		n := atomic.AddInt64(&m.storeErrors, 1)
		m.logger.Error("快照写入存储失败",
			zap.String("symbol", snap.Symbol),
			zap.Time("ts", snap.Timestamp),
			zap.Int64("total_errors", n),
			zap.Error(err))
	}

	m.bus.Publish(snap)
}

// GetCurrent 返回最新缓存快照的副本；从未见过的交易对返回 nil
func (m *Manager) GetCurrent(symbol string) *model.OrderBookSnapshot {
	snap := m.cache.Get(symbol)
	if snap == nil {
		return nil
	}
	return snap.Clone()
}

// GetHistory 返回 [from, to] 内的快照，按时间升序
func (m *Manager) GetHistory(ctx context.Context, symbol string, from, to time.Time) ([]*model.OrderBookSnapshot, error) {
	snaps, err := m.ts.RangeScan(ctx, symbol, from, to)
	if err != nil {
		return nil, unavailable("查询历史快照失败", err)
	}
	return snaps, nil
}

// GetAtTime 返回 t 时刻的订单簿状态
// 优先返回时间恰为 t 的记录；否则返回 (t-1h, t] 内最新的记录；否则返回 nil
func (m *Manager) GetAtTime(ctx context.Context, symbol string, t time.Time) (*model.OrderBookSnapshot, error) {
	snap, err := m.ts.NearestAtOrBefore(ctx, symbol, t)
	if err != nil {
		return nil, unavailable("查询时点快照失败", err)
	}
	if snap == nil {
		return nil, nil
	}
	if snap.Timestamp.Equal(t) || snap.Timestamp.After(t.Add(-AtTimeWindow)) {
		return snap, nil
	}
	return nil, nil
}

// Subscribe 订阅所有交易对的实时快照，调用方自行过滤
// 不再需要时调用 Subscription.Close
func (m *Manager) Subscribe() *bus.Subscription[*model.OrderBookSnapshot] {
	return m.bus.Subscribe()
}

// GetStats 返回存储统计
func (m *Manager) GetStats(ctx context.Context, symbol string) (tsdb.Stats, error) {
	st, err := m.ts.Stats(ctx, symbol)
	if err != nil {
		return tsdb.Stats{Symbol: symbol}, unavailable("查询存储统计失败", err)
	}
	return st, nil
}

// Symbols 返回已缓存的交易对（升序）
func (m *Manager) Symbols() []string {
	return m.cache.Symbols()
}

// Updates 累计更新次数
func (m *Manager) Updates() int64 {
	return atomic.LoadInt64(&m.updates)
}

// StoreErrors 累计存储写入失败次数
func (m *Manager) StoreErrors() int64 {
	return atomic.LoadInt64(&m.storeErrors)
}

// Subscribers 当前订阅者数量
func (m *Manager) Subscribers() int {
	return m.bus.Len()
}

// Close 关闭广播总线；时序存储由创建方关闭
func (m *Manager) Close() {
	m.bus.Close()
}

// unavailable 保证查询错误可用 errors.Is(err, tsdb.ErrUnavailable) 判断
func unavailable(msg string, err error) error {
	if errors.Is(err, tsdb.ErrUnavailable) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %v", msg, tsdb.ErrUnavailable, err)
}
