// Package kraken 定义 Kraken 交易所 WebSocket v1 消息类型。
package kraken

import (
	"encoding/json"

	"orderbook-timetravel/internal/core/model"
)

// SubscribeRequest Kraken 订阅请求
// {"event":"subscribe","pair":["XBT/USD"],"subscription":{"name":"book","depth":25}}
type SubscribeRequest struct {
	// Event 事件类型: subscribe
	Event string `json:"event"`
	// Pair 交易对列表
	Pair []string `json:"pair"`
	// Subscription 订阅详情
	Subscription SubscriptionDetails `json:"subscription"`
}

// SubscriptionDetails 订阅详情
type SubscriptionDetails struct {
	// Name 频道名称: book
	Name string `json:"name"`
	// Depth 深度: 10, 25, 100, 500, 1000
	Depth int `json:"depth"`
}

// PingRequest 应用层心跳请求，服务端回复 {"event":"pong","reqid":N}
type PingRequest struct {
	// Event 事件类型: ping
	Event string `json:"event"`
	// ReqID 请求 ID
	ReqID int64 `json:"reqid"`
}

// ControlMessage 控制类消息（JSON 对象形式）
// 包括 systemStatus、subscriptionStatus、heartbeat、pong、error。
type ControlMessage struct {
	// Event 事件类型
	Event string `json:"event"`
	// Status 状态: online/subscribed/error 等
	Status string `json:"status,omitempty"`
	// Pair 交易对（subscriptionStatus）
	Pair string `json:"pair,omitempty"`
	// ChannelName 频道名称（subscriptionStatus），如 book-25
	ChannelName string `json:"channelName,omitempty"`
	// ErrorMessage 错误信息
	ErrorMessage string `json:"errorMessage,omitempty"`
	// ReqID 请求 ID（pong）
	ReqID int64 `json:"reqid,omitempty"`
	// Version 协议版本（systemStatus）
	Version string `json:"version,omitempty"`
}

// IsError 判断控制消息是否表示错误
func (m *ControlMessage) IsError() bool {
	return m.Event == "error" || m.Status == "error"
}

// bookPayload 深度消息中的数据对象
// as/bs: 全量快照；a/b: 增量；c: 校验和
// 档位逐条保留原始 JSON，单条格式错误只跳过该条。
type bookPayload struct {
	AskSnapshot []json.RawMessage `json:"as"`
	BidSnapshot []json.RawMessage `json:"bs"`
	Asks        []json.RawMessage `json:"a"`
	Bids        []json.RawMessage `json:"b"`
	Checksum    string            `json:"c"`
}

// EventKind 解析结果类型
type EventKind int

const (
	// EventUnrecognized 合法 JSON 但不是可识别的深度或控制消息
	EventUnrecognized EventKind = iota
	// EventSnapshot 含全量快照（可能同时含增量，增量在替换之后应用）
	EventSnapshot
	// EventUpdate 仅含增量
	EventUpdate
	// EventControl 控制消息
	EventControl
)

// String 返回类型名称
func (k EventKind) String() string {
	switch k {
	case EventSnapshot:
		return "snapshot"
	case EventUpdate:
		return "update"
	case EventControl:
		return "control"
	default:
		return "unrecognized"
	}
}

// FeedEvent 单条原始帧解析后的类型化事件
type FeedEvent struct {
	// Kind 事件类型
	Kind EventKind
	// Symbol 交易对，如 XBT/USD
	Symbol string
	// Channel 频道名称，如 book-25
	Channel string
	// ChannelID 频道 ID
	ChannelID int64

	// AskSnapshot 卖盘全量；nil 表示消息未携带 as
	AskSnapshot []model.PriceLevel
	// BidSnapshot 买盘全量；nil 表示消息未携带 bs
	BidSnapshot []model.PriceLevel
	// AskDeltas 卖盘增量（按到达顺序）
	AskDeltas []model.PriceLevel
	// BidDeltas 买盘增量（按到达顺序）
	BidDeltas []model.PriceLevel

	// Checksum 交易所校验和（仅透传）
	Checksum *uint32
	// ExchTsUnixNs 本帧中最新的档位时间戳（纳秒），无则为 0
	ExchTsUnixNs int64
	// SkippedEntries 因格式错误被跳过的档位数
	SkippedEntries int

	// Control 控制消息（Kind == EventControl）
	Control *ControlMessage
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// State 当前会话状态
	State string `json:"state"`
	// ReconnectCount 重连次数
	ReconnectCount int64 `json:"reconnect_count"`
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64 `json:"parse_error_count"`
	// SkippedEntryCount 被跳过的档位数
	SkippedEntryCount int64 `json:"skipped_entry_count"`
	// UpdatesPerSec 每秒更新次数
	UpdatesPerSec float64 `json:"updates_per_sec"`
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64 `json:"last_message_age_ms"`
}
