// Package model 定义订单簿记录器中使用的核心数据结构。
// 包含价格档位、订单簿快照等核心类型。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxDepth 单侧最多保留的档位数量（与 Kraken book 订阅深度一致）
const MaxDepth = 25

// Side 订单簿方向
type Side string

const (
	// SideBid 买盘，按价格降序
	SideBid Side = "bid"
	// SideAsk 卖盘，按价格升序
	SideAsk Side = "ask"
)

// PriceLevel 订单簿深度档位
// 价格与数量使用十进制定点数，档位身份依赖价格的精确相等。
type PriceLevel struct {
	// Price 价格
	Price decimal.Decimal `json:"price"`
	// Volume 数量（0 表示删除，不会被存储）
	Volume decimal.Decimal `json:"volume"`
	// OrderCount 订单数（交易所未提供时为空）
	OrderCount *uint32 `json:"order_count,omitempty"`
}

// NewLevel 由价格与数量字符串构造档位，解析失败时 panic，仅用于测试与常量。
func NewLevel(price, volume string) PriceLevel {
	return PriceLevel{
		Price:  decimal.RequireFromString(price),
		Volume: decimal.RequireFromString(volume),
	}
}

// Less 判断在指定方向上 a 是否应排在 b 之前
func Less(side Side, a, b PriceLevel) bool {
	if side == SideBid {
		return a.Price.GreaterThan(b.Price)
	}
	return a.Price.LessThan(b.Price)
}

// OrderBookSnapshot 某一时刻的订单簿快照
// 不变式：每侧价格唯一、不含零数量档位、每侧不超过 MaxDepth。
type OrderBookSnapshot struct {
	// Symbol 交易对，如 XBT/USD
	Symbol string `json:"symbol"`
	// Timestamp 快照时间（UTC）
	Timestamp time.Time `json:"timestamp"`
	// Bids 买盘（价格降序）
	Bids []PriceLevel `json:"bids"`
	// Asks 卖盘（价格升序）
	Asks []PriceLevel `json:"asks"`
	// Checksum 交易所提供的校验和（仅透传，不做校验）
	Checksum *uint32 `json:"checksum,omitempty"`
	// Sequence 序列号（Kraken v1 不提供，保留字段）
	Sequence *uint64 `json:"sequence,omitempty"`
}

// Clone 创建快照的深拷贝
func (s *OrderBookSnapshot) Clone() *OrderBookSnapshot {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Bids = CloneLevels(s.Bids)
	clone.Asks = CloneLevels(s.Asks)
	if s.Checksum != nil {
		v := *s.Checksum
		clone.Checksum = &v
	}
	if s.Sequence != nil {
		v := *s.Sequence
		clone.Sequence = &v
	}
	return &clone
}

// BestBid 返回买一档，空盘返回 false
func (s *OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk 返回卖一档，空盘返回 false
func (s *OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// Spread 计算买卖价差（卖一 - 买一），任一侧为空返回 false
func (s *OrderBookSnapshot) Spread() (decimal.Decimal, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// MidPrice 计算中间价 (买一 + 卖一) / 2
func (s *OrderBookSnapshot) MidPrice() (decimal.Decimal, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// CloneLevels 拷贝档位切片；nil 保持为 nil
func CloneLevels(levels []PriceLevel) []PriceLevel {
	if levels == nil {
		return nil
	}
	out := make([]PriceLevel, len(levels))
	copy(out, levels)
	for i := range out {
		if out[i].OrderCount != nil {
			v := *out[i].OrderCount
			out[i].OrderCount = &v
		}
	}
	return out
}
