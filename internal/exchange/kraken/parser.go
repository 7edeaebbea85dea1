// Package kraken 实现 Kraken 交易所消息解析。
// 深度消息为定长数组 [channelID, payload..., channelName, pair]，
// payload 中 as/bs 为全量快照，a/b 为增量，c 为校验和。
package kraken

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"orderbook-timetravel/internal/core/model"
	"orderbook-timetravel/internal/util/fastparse"
)

// ErrProtocol 协议错误：帧无法解析
var ErrProtocol = errors.New("kraken: 协议错误")

// bookChannelPrefix 深度频道名称前缀，如 book-25
const bookChannelPrefix = "book"

// Parser Kraken 消息解析器（无状态）
type Parser struct{}

// NewParser 创建 Kraken 消息解析器
func NewParser() *Parser {
	return &Parser{}
}

// Parse 解析 Kraken WebSocket 文本帧
// 参数 data: 原始消息字节
// 返回: 解析出的事件；非 JSON 帧或结构损坏的深度帧返回包装 ErrProtocol 的错误
func (p *Parser) Parse(data []byte) (*FeedEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: 空消息", ErrProtocol)
	}

	switch trimmed[0] {
	case '{':
		return p.parseControl(trimmed)
	case '[':
		return p.parseArray(trimmed)
	default:
		return nil, fmt.Errorf("%w: 非 JSON 消息", ErrProtocol)
	}
}

func (p *Parser) parseControl(data []byte) (*FeedEvent, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: 解析控制消息失败: %v", ErrProtocol, err)
	}
	if msg.Event == "" {
		return &FeedEvent{Kind: EventUnrecognized}, nil
	}
	return &FeedEvent{
		Kind:    EventControl,
		Symbol:  msg.Pair,
		Channel: msg.ChannelName,
		Control: &msg,
	}, nil
}

func (p *Parser) parseArray(data []byte) (*FeedEvent, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("%w: 解析数组消息失败: %v", ErrProtocol, err)
	}

	// [channelID, payload, channelName, pair]，至少 4 个元素
	if len(arr) < 4 {
		return &FeedEvent{Kind: EventUnrecognized}, nil
	}

	var symbol, channel string
	if err := json.Unmarshal(arr[len(arr)-1], &symbol); err != nil || symbol == "" {
		return &FeedEvent{Kind: EventUnrecognized}, nil
	}
	if err := json.Unmarshal(arr[len(arr)-2], &channel); err != nil || !strings.HasPrefix(channel, bookChannelPrefix) {
		return &FeedEvent{Kind: EventUnrecognized, Symbol: symbol, Channel: channel}, nil
	}

	ev := &FeedEvent{Symbol: symbol, Channel: channel}
	_ = json.Unmarshal(arr[0], &ev.ChannelID)

	// 更新消息可能拆成两个 payload：[id, {"a":...}, {"b":...,"c":...}, channel, pair]
	var hasDeltas bool
	for _, raw := range arr[1 : len(arr)-2] {
		var payload bookPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("%w: %s 深度数据格式错误: %v", ErrProtocol, symbol, err)
		}

		if payload.AskSnapshot != nil {
			ev.AskSnapshot = p.appendLevels(ev, nonNil(ev.AskSnapshot), payload.AskSnapshot)
		}
		if payload.BidSnapshot != nil {
			ev.BidSnapshot = p.appendLevels(ev, nonNil(ev.BidSnapshot), payload.BidSnapshot)
		}
		if payload.Asks != nil {
			ev.AskDeltas = p.appendLevels(ev, ev.AskDeltas, payload.Asks)
			hasDeltas = true
		}
		if payload.Bids != nil {
			ev.BidDeltas = p.appendLevels(ev, ev.BidDeltas, payload.Bids)
			hasDeltas = true
		}
		if payload.Checksum != "" {
			if cs, err := fastparse.ParseChecksum(payload.Checksum); err == nil {
				ev.Checksum = &cs
			}
		}
	}

	switch {
	case ev.AskSnapshot != nil || ev.BidSnapshot != nil:
		ev.Kind = EventSnapshot
	case hasDeltas || ev.Checksum != nil:
		ev.Kind = EventUpdate
	default:
		ev.Kind = EventUnrecognized
	}
	return ev, nil
}

// appendLevels 逐条解析档位 [price, volume, timestamp, ...]
// 单条格式错误只跳过该条并计数。
func (p *Parser) appendLevels(ev *FeedEvent, dst []model.PriceLevel, raws []json.RawMessage) []model.PriceLevel {
	for _, raw := range raws {
		level, tsNs, ok := parseLevel(raw)
		if !ok {
			ev.SkippedEntries++
			continue
		}
		if tsNs > ev.ExchTsUnixNs {
			ev.ExchTsUnixNs = tsNs
		}
		dst = append(dst, level)
	}
	return dst
}

func parseLevel(raw json.RawMessage) (model.PriceLevel, int64, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields []any
	if err := dec.Decode(&fields); err != nil || len(fields) < 2 {
		return model.PriceLevel{}, 0, false
	}

	priceStr, ok := numericString(fields[0])
	if !ok {
		return model.PriceLevel{}, 0, false
	}
	volumeStr, ok := numericString(fields[1])
	if !ok {
		return model.PriceLevel{}, 0, false
	}

	price, err := fastparse.ParseDecimal(priceStr)
	if err != nil || !price.IsPositive() {
		return model.PriceLevel{}, 0, false
	}
	volume, err := fastparse.ParseDecimal(volumeStr)
	if err != nil || volume.IsNegative() {
		return model.PriceLevel{}, 0, false
	}

	var tsNs int64
	if len(fields) >= 3 {
		if tsStr, ok := numericString(fields[2]); ok {
			tsNs, _ = fastparse.ParseUnixSeconds(tsStr)
		}
	}

	return model.PriceLevel{Price: price, Volume: volume}, tsNs, true
}

// numericString 接受字符串或 JSON 数字（保留原始文本，避免浮点转换）
func numericString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	default:
		return "", false
	}
}

func nonNil(levels []model.PriceLevel) []model.PriceLevel {
	if levels == nil {
		return []model.PriceLevel{}
	}
	return levels
}

// IsBookEvent 判断事件是否需要应用到订单簿
func IsBookEvent(ev *FeedEvent) bool {
	return ev != nil && (ev.Kind == EventSnapshot || ev.Kind == EventUpdate)
}
