// Package book 维护单个交易对的订单簿状态。
// 负责全量快照替换、增量更新、排序与深度截断。
package book

import (
	"sort"
	"sync"
	"time"

	"orderbook-timetravel/internal/core/model"
)

// Book 单交易对订单簿状态
// 买盘价格降序、卖盘价格升序；零数量为删除标记，从不存储。
type Book struct {
	// symbol 交易对
	symbol string
	// maxDepth 单侧最大档位数
	maxDepth int

	mu       sync.Mutex
	bids     []model.PriceLevel
	asks     []model.PriceLevel
	checksum *uint32
	sequence *uint64
}

// New 创建空订单簿
// 参数 maxDepth: 单侧最大档位数，<=0 或超过 model.MaxDepth 时使用 model.MaxDepth
func New(symbol string, maxDepth int) *Book {
	if maxDepth <= 0 || maxDepth > model.MaxDepth {
		maxDepth = model.MaxDepth
	}
	return &Book{symbol: symbol, maxDepth: maxDepth}
}

// Symbol 返回交易对
func (b *Book) Symbol() string {
	return b.symbol
}

// ApplySnapshot 用全量档位整体替换对应方向
// nil 表示该方向不在本次消息中，保持原状；空切片表示清空。
func (b *Book) ApplySnapshot(asks, bids []model.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if asks != nil {
		b.asks = b.normalize(model.SideAsk, asks)
	}
	if bids != nil {
		b.bids = b.normalize(model.SideBid, bids)
	}
}

// ApplyDelta 按到达顺序应用增量
// 每个档位先删除同价位，再在数量 > 0 时插入；全部处理后统一排序并截断。
// 同一消息内同价位的多条增量以最后一条为准。
func (b *Book) ApplyDelta(side model.Side, deltas []model.PriceLevel) {
	if len(deltas) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	levels := b.side(side)
	for _, d := range deltas {
		levels = removePrice(levels, d)
		if d.Volume.IsPositive() {
			levels = append(levels, d)
		}
	}
	levels = b.sortAndTruncate(side, levels)
	b.setSide(side, levels)
}

// SetChecksum 记录交易所提供的校验和（不做校验）
func (b *Book) SetChecksum(checksum *uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checksum = checksum
}

// Snapshot 返回当前状态的独立拷贝，时间戳为当前 UTC 时间
func (b *Book) Snapshot() *model.OrderBookSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := &model.OrderBookSnapshot{
		Symbol:    b.symbol,
		Timestamp: time.Now().UTC(),
		Bids:      model.CloneLevels(b.bids),
		Asks:      model.CloneLevels(b.asks),
	}
	if snap.Bids == nil {
		snap.Bids = []model.PriceLevel{}
	}
	if snap.Asks == nil {
		snap.Asks = []model.PriceLevel{}
	}
	if b.checksum != nil {
		v := *b.checksum
		snap.Checksum = &v
	}
	if b.sequence != nil {
		v := *b.sequence
		snap.Sequence = &v
	}
	return snap
}

func (b *Book) side(side model.Side) []model.PriceLevel {
	if side == model.SideBid {
		return b.bids
	}
	return b.asks
}

func (b *Book) setSide(side model.Side, levels []model.PriceLevel) {
	if side == model.SideBid {
		b.bids = levels
		return
	}
	b.asks = levels
}

// normalize 整理全量档位：丢弃零数量、同价位保留最后一条、排序并截断
func (b *Book) normalize(side model.Side, levels []model.PriceLevel) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = removePrice(out, l)
		if l.Volume.IsPositive() {
			out = append(out, l)
		}
	}
	return b.sortAndTruncate(side, out)
}

func (b *Book) sortAndTruncate(side model.Side, levels []model.PriceLevel) []model.PriceLevel {
	sort.SliceStable(levels, func(i, j int) bool {
		return model.Less(side, levels[i], levels[j])
	})
	if len(levels) > b.maxDepth {
		levels = levels[:b.maxDepth]
	}
	return levels
}

// removePrice 原地删除与 l 价格精确相等的档位
func removePrice(levels []model.PriceLevel, l model.PriceLevel) []model.PriceLevel {
	for i := range levels {
		if levels[i].Price.Equal(l.Price) {
			return append(levels[:i], levels[i+1:]...)
		}
	}
	return levels
}

// Registry 按交易对维护订单簿，首次出现时惰性创建，生命周期与进程一致
// 各交易对的 Book 相互独立，各自加锁；Registry 的锁只保护映射本身。
type Registry struct {
	maxDepth int

	mu    sync.Mutex
	books map[string]*Book
}

// NewRegistry 创建订单簿注册表
func NewRegistry(maxDepth int) *Registry {
	return &Registry{
		maxDepth: maxDepth,
		books:    make(map[string]*Book),
	}
}

// GetOrCreate 获取交易对的订单簿，不存在时创建
func (r *Registry) GetOrCreate(symbol string) *Book {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.books[symbol]
	if !ok {
		b = New(symbol, r.maxDepth)
		r.books[symbol] = b
	}
	return b
}

// Get 获取交易对的订单簿，不存在返回 nil
func (r *Registry) Get(symbol string) *Book {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.books[symbol]
}

// Len 返回已跟踪的交易对数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.books)
}
