package tsdb

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"orderbook-timetravel/internal/core/model"
)

// 纳秒 int64 可表示的时间范围（约 1677 ~ 2262 年）
var (
	minNanoTime = time.Unix(0, math.MinInt64)
	maxNanoTime = time.Unix(0, math.MaxInt64)
)

// clampNano 将查询边界转为 Unix 纳秒，超出范围的时间截断到 int64 边界
func clampNano(t time.Time) int64 {
	if t.Before(minNanoTime) {
		return math.MinInt64
	}
	if t.After(maxNanoTime) {
		return math.MaxInt64
	}
	return t.UnixNano()
}

// encodeSnapshot 将快照编码为 JSON 记录
func encodeSnapshot(snap *model.OrderBookSnapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("编码快照失败: %w", err)
	}
	return data, nil
}

// decodeSnapshot 解码 JSON 记录；损坏的记录视为存储故障
func decodeSnapshot(data []byte) (*model.OrderBookSnapshot, error) {
	var snap model.OrderBookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: 解码快照失败: %v", ErrUnavailable, err)
	}
	snap.Timestamp = snap.Timestamp.UTC()
	return &snap, nil
}

// validateSnapshot 检查追加参数
func validateSnapshot(snap *model.OrderBookSnapshot) error {
	if snap == nil {
		return fmt.Errorf("快照不能为空")
	}
	if snap.Symbol == "" || strings.ContainsRune(snap.Symbol, 0) {
		return fmt.Errorf("无效的交易对 %q", snap.Symbol)
	}
	if snap.Timestamp.Before(minNanoTime) || snap.Timestamp.After(maxNanoTime) {
		return fmt.Errorf("快照时间 %s 超出可表示范围", snap.Timestamp)
	}
	return nil
}
