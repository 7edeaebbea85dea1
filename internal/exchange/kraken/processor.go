package kraken

import (
	"orderbook-timetravel/internal/core/book"
	"orderbook-timetravel/internal/core/model"
)

// Processor 将原始帧解析并应用到订单簿注册表
// 同一交易对的帧必须由单个 goroutine 按到达顺序处理。
type Processor struct {
	parser *Parser
	books  *book.Registry
}

// NewProcessor 创建帧处理器
func NewProcessor(books *book.Registry) *Processor {
	return &Processor{
		parser: NewParser(),
		books:  books,
	}
}

// Books 返回订单簿注册表
func (p *Processor) Books() *book.Registry {
	return p.books
}

// Process 解析一帧；若为深度消息则应用到对应订单簿并返回更新后的快照
// 快照消息先整体替换，再应用同帧中的增量。
// 非深度消息返回 nil 快照。
func (p *Processor) Process(data []byte) (*FeedEvent, *model.OrderBookSnapshot, error) {
	ev, err := p.parser.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	if !IsBookEvent(ev) {
		return ev, nil, nil
	}

	b := p.books.GetOrCreate(ev.Symbol)

	if ev.Kind == EventSnapshot {
		b.ApplySnapshot(ev.AskSnapshot, ev.BidSnapshot)
		// 新快照使旧校验和失效
		b.SetChecksum(ev.Checksum)
	}
	if len(ev.AskDeltas) > 0 {
		b.ApplyDelta(model.SideAsk, ev.AskDeltas)
	}
	if len(ev.BidDeltas) > 0 {
		b.ApplyDelta(model.SideBid, ev.BidDeltas)
	}
	if ev.Kind == EventUpdate && ev.Checksum != nil {
		b.SetChecksum(ev.Checksum)
	}

	snap := b.Snapshot()
	return ev, snap, nil
}
