// Package latency 统计行情延迟。
// 每个交易对维护两组滚动直方图：
//   - feed lag: 帧到达时间 - 帧内最新档位的交易所时间
//   - ingest: 帧到达 -> 快照写入缓存、存储并广播完成
package latency

import (
	"sort"
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// 直方图记录单位为微秒，范围 1µs ~ 1h，3 位有效数字
	minMicros   = 1
	maxMicros   = 3_600_000_000
	significant = 3
)

// LagStats 单个交易对的延迟统计快照（滚动窗口）
// 单位：毫秒。
type LagStats struct {
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Count 样本总数（累计）
	Count int64 `json:"count"`
	// Skewed 交易所时间晚于到达时间的样本数（时钟偏差，按 0 记录）
	Skewed int64 `json:"skewed"`

	// FeedP50Ms 行情延迟 P50
	FeedP50Ms float64 `json:"feed_p50_ms"`
	// FeedP90Ms 行情延迟 P90
	FeedP90Ms float64 `json:"feed_p90_ms"`
	// FeedP99Ms 行情延迟 P99
	FeedP99Ms float64 `json:"feed_p99_ms"`
	// FeedMaxMs 行情延迟最大值
	FeedMaxMs float64 `json:"feed_max_ms"`

	// IngestP50Ms 处理耗时 P50
	IngestP50Ms float64 `json:"ingest_p50_ms"`
	// IngestP99Ms 处理耗时 P99
	IngestP99Ms float64 `json:"ingest_p99_ms"`
}

type symbolTracker struct {
	feed   *hdrhistogram.WindowedHistogram
	ingest *hdrhistogram.WindowedHistogram
	count  int64
	skewed int64
}

// Tracker 延迟追踪器（并发安全）
type Tracker struct {
	windows int

	mu      sync.Mutex
	symbols map[string]*symbolTracker
}

// NewTracker 创建延迟追踪器
// 参数 windows: 滚动窗口个数，每次 Rotate 丢弃最旧的一个（建议 6）
func NewTracker(windows int) *Tracker {
	if windows <= 0 {
		windows = 1
	}
	return &Tracker{
		windows: windows,
		symbols: make(map[string]*symbolTracker),
	}
}

func (t *Tracker) get(symbol string) *symbolTracker {
	st, ok := t.symbols[symbol]
	if !ok {
		st = &symbolTracker{
			feed:   hdrhistogram.NewWindowed(t.windows, minMicros, maxMicros, significant),
			ingest: hdrhistogram.NewWindowed(t.windows, minMicros, maxMicros, significant),
		}
		t.symbols[symbol] = st
	}
	return st
}

// Add 记录一次更新
// 参数 exchTsNs: 交易所时间（纳秒），<= 0 时不记录行情延迟
// 参数 arrivedNs: 帧到达时间（纳秒）
// 参数 doneNs: 处理完成时间（纳秒），<= 0 时不记录处理耗时
func (t *Tracker) Add(symbol string, exchTsNs, arrivedNs, doneNs int64) {
	if symbol == "" || arrivedNs <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.get(symbol)
	st.count++

	if exchTsNs > 0 {
		lag := arrivedNs - exchTsNs
		if lag < 0 {
			st.skewed++
			lag = 0
		}
		_ = st.feed.Current.RecordValue(clampMicros(lag))
	}
	if doneNs > 0 {
		_ = st.ingest.Current.RecordValue(clampMicros(doneNs - arrivedNs))
	}
}

// Rotate 开始新的统计窗口，丢弃最旧的窗口
func (t *Tracker) Rotate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, st := range t.symbols {
		st.feed.Rotate()
		st.ingest.Rotate()
	}
}

// Stats 获取指定交易对的统计快照
func (t *Tracker) Stats(symbol string) LagStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.symbols[symbol]
	if !ok {
		return LagStats{Symbol: symbol}
	}
	return st.snapshot(symbol)
}

// All 获取所有交易对的统计快照（按交易对排序）
func (t *Tracker) All() []LagStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]LagStats, 0, len(t.symbols))
	for sym, st := range t.symbols {
		out = append(out, st.snapshot(sym))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (st *symbolTracker) snapshot(symbol string) LagStats {
	feed := st.feed.Merge()
	ingest := st.ingest.Merge()

	return LagStats{
		Symbol:      symbol,
		Count:       st.count,
		Skewed:      st.skewed,
		FeedP50Ms:   microsToMs(feed.ValueAtQuantile(50)),
		FeedP90Ms:   microsToMs(feed.ValueAtQuantile(90)),
		FeedP99Ms:   microsToMs(feed.ValueAtQuantile(99)),
		FeedMaxMs:   microsToMs(feed.Max()),
		IngestP50Ms: microsToMs(ingest.ValueAtQuantile(50)),
		IngestP99Ms: microsToMs(ingest.ValueAtQuantile(99)),
	}
}

func clampMicros(ns int64) int64 {
	us := ns / 1_000
	if us < 0 {
		return 0
	}
	if us > maxMicros {
		return maxMicros
	}
	return us
}

func microsToMs(us int64) float64 {
	return float64(us) / 1_000.0
}
