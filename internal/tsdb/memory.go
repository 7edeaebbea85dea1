package tsdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"orderbook-timetravel/internal/core/model"
)

// memRecord 内存记录
type memRecord struct {
	ts   int64
	snap *model.OrderBookSnapshot
	size int64
}

// memSeries 单个交易对的有序记录
type memSeries struct {
	mu    sync.RWMutex
	recs  []memRecord
	bytes int64
}

// Memory 进程内时序存储，重启后数据丢失
type Memory struct {
	mu     sync.RWMutex
	series map[string]*memSeries
	closed bool
}

// NewMemory 创建内存存储
func NewMemory() *Memory {
	return &Memory{series: make(map[string]*memSeries)}
}

func (m *Memory) get(symbol string, create bool) (*memSeries, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: 存储已关闭", ErrUnavailable)
	}
	s := m.series[symbol]
	m.mu.RUnlock()
	if s != nil || !create {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("%w: 存储已关闭", ErrUnavailable)
	}
	if s = m.series[symbol]; s == nil {
		s = &memSeries{}
		m.series[symbol] = s
	}
	return s, nil
}

// Append 追加快照
func (m *Memory) Append(_ context.Context, snap *model.OrderBookSnapshot) error {
	if err := validateSnapshot(snap); err != nil {
		return err
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	s, err := m.get(snap.Symbol, true)
	if err != nil {
		return err
	}

	rec := memRecord{ts: snap.Timestamp.UnixNano(), snap: snap.Clone(), size: int64(len(data))}

	s.mu.Lock()
	// 时间相同的记录排在已有记录之后
	i := sort.Search(len(s.recs), func(i int) bool { return s.recs[i].ts > rec.ts })
	s.recs = append(s.recs, memRecord{})
	copy(s.recs[i+1:], s.recs[i:])
	s.recs[i] = rec
	s.bytes += rec.size
	s.mu.Unlock()
	return nil
}

// RangeScan 查询 [from, to] 内的记录
func (m *Memory) RangeScan(_ context.Context, symbol string, from, to time.Time) ([]*model.OrderBookSnapshot, error) {
	s, err := m.get(symbol, false)
	if err != nil || s == nil || to.Before(from) {
		return nil, err
	}
	lo, hi := clampNano(from), clampNano(to)

	s.mu.RLock()
	defer s.mu.RUnlock()
	start := sort.Search(len(s.recs), func(i int) bool { return s.recs[i].ts >= lo })
	var out []*model.OrderBookSnapshot
	for i := start; i < len(s.recs) && s.recs[i].ts <= hi; i++ {
		out = append(out, s.recs[i].snap.Clone())
	}
	return out, nil
}

// NearestAtOrBefore 查询不晚于 t 的最新记录
func (m *Memory) NearestAtOrBefore(_ context.Context, symbol string, t time.Time) (*model.OrderBookSnapshot, error) {
	s, err := m.get(symbol, false)
	if err != nil || s == nil {
		return nil, err
	}
	ts := clampNano(t)

	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.recs), func(i int) bool { return s.recs[i].ts > ts })
	if i == 0 {
		return nil, nil
	}
	return s.recs[i-1].snap.Clone(), nil
}

// Stats 返回统计信息
func (m *Memory) Stats(_ context.Context, symbol string) (Stats, error) {
	st := Stats{Symbol: symbol}
	s, err := m.get(symbol, false)
	if err != nil || s == nil {
		return st, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := len(s.recs); n > 0 {
		st.Count = int64(n)
		st.Oldest = s.recs[0].snap.Timestamp
		st.Newest = s.recs[n-1].snap.Timestamp
		st.ApproxBytes = s.bytes
	}
	return st, nil
}

// Close 关闭存储并释放数据
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.series = nil
	return nil
}
