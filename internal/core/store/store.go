// Package store 维护每个交易对的最新订单簿快照。
// 所有访问经过同一把互斥锁，持锁时间仅为一次 map 读或写。
package store

import (
	"sort"
	"sync"

	"orderbook-timetravel/internal/core/model"
)

// Store 最新快照缓存
// 保存的快照视为不可变：写入方交出所有权，读取方不得修改。
type Store struct {
	mu sync.Mutex
	// books key: 交易对（如 XBT/USD）
	books map[string]*model.OrderBookSnapshot
	// symbols 按首次写入顺序记录的交易对
	symbols []string
}

// New 创建新的快照缓存
func New() *Store {
	return &Store{
		books: make(map[string]*model.OrderBookSnapshot),
	}
}

// Put 写入最新快照，覆盖旧值
func (s *Store) Put(snap *model.OrderBookSnapshot) {
	if snap == nil || snap.Symbol == "" {
		return
	}
	s.mu.Lock()
	if _, ok := s.books[snap.Symbol]; !ok {
		s.symbols = append(s.symbols, snap.Symbol)
	}
	s.books[snap.Symbol] = snap
	s.mu.Unlock()
}

// Get 获取指定交易对的最新快照
// 返回值可能为 nil；返回的指针应视为只读。
func (s *Store) Get(symbol string) *model.OrderBookSnapshot {
	s.mu.Lock()
	snap := s.books[symbol]
	s.mu.Unlock()
	return snap
}

// Symbols 返回已缓存的交易对（升序）
func (s *Store) Symbols() []string {
	s.mu.Lock()
	out := append([]string(nil), s.symbols...)
	s.mu.Unlock()

	sort.Strings(out)
	return out
}

// Len 已缓存的交易对数量
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.books)
}
