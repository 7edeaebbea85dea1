package latency

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ms = int64(1_000_000)

// TestTracker_Percentiles_Property 分位数单调且不超过最大值
func TestTracker_Percentiles_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("P50 <= P90 <= P99 <= Max", prop.ForAll(
		func(lagsMs []int64) bool {
			tr := NewTracker(3)
			base := int64(1_700_000_000) * 1_000_000_000
			for _, l := range lagsMs {
				tr.Add("XBT/USD", base, base+l*ms, 0)
			}
			st := tr.Stats("XBT/USD")
			return st.FeedP50Ms <= st.FeedP90Ms &&
				st.FeedP90Ms <= st.FeedP99Ms &&
				st.FeedP99Ms <= st.FeedMaxMs &&
				st.Count == int64(len(lagsMs))
		},
		gen.SliceOf(gen.Int64Range(0, 60_000)),
	))

	properties.TestingRun(t)
}

func TestTracker_Add(t *testing.T) {
	base := int64(1_700_000_000) * 1_000_000_000

	tests := []struct {
		name       string
		exch       int64
		arrived    int64
		done       int64
		wantCount  int64
		wantSkewed int64
		wantFeedMs float64
	}{
		{"正常延迟", base, base + 25*ms, base + 26*ms, 1, 0, 25},
		{"时钟偏差按 0 记录", base + 5*ms, base, 0, 1, 1, 0},
		{"无交易所时间只计数", 0, base, base + ms, 1, 0, 0},
		{"无到达时间忽略", base, 0, 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(1)
			tr.Add("XBT/USD", tt.exch, tt.arrived, tt.done)
			st := tr.Stats("XBT/USD")
			assert.Equal(t, tt.wantCount, st.Count)
			assert.Equal(t, tt.wantSkewed, st.Skewed)
			assert.InDelta(t, tt.wantFeedMs, st.FeedP50Ms, tt.wantFeedMs*0.01+0.001)
		})
	}
}

func TestTracker_IngestAndClamp(t *testing.T) {
	tr := NewTracker(1)
	base := int64(1_700_000_000) * 1_000_000_000

	tr.Add("ETH/USD", base, base+2*ms, base+5*ms)
	st := tr.Stats("ETH/USD")
	assert.InDelta(t, 3.0, st.IngestP50Ms, 0.01)

	// 超过直方图上限的值被截断
	tr.Add("ETH/USD", base-3*3_600_000*ms, base, 0)
	st = tr.Stats("ETH/USD")
	assert.False(t, math.IsInf(st.FeedMaxMs, 0))
	assert.InDelta(t, 3_600_000.0, st.FeedMaxMs, 3_600_000.0*0.001)
}

func TestTracker_RotateDropsOldWindows(t *testing.T) {
	tr := NewTracker(2)
	base := int64(1_700_000_000) * 1_000_000_000

	tr.Add("XBT/USD", base, base+500*ms, 0)
	tr.Rotate()
	tr.Add("XBT/USD", base, base+10*ms, 0)

	// 两个窗口都在
	require.InDelta(t, 500.0, tr.Stats("XBT/USD").FeedMaxMs, 1)

	tr.Rotate()
	// 第一个窗口已被丢弃
	assert.InDelta(t, 10.0, tr.Stats("XBT/USD").FeedMaxMs, 0.1)
	// 累计计数不受窗口影响
	assert.Equal(t, int64(2), tr.Stats("XBT/USD").Count)
}

func TestTracker_All(t *testing.T) {
	tr := NewTracker(0)
	base := int64(1_700_000_000) * 1_000_000_000
	tr.Add("XBT/USD", base, base+ms, 0)
	tr.Add("ETH/USD", base, base+ms, 0)
	tr.Add("", base, base+ms, 0)

	all := tr.All()
	require.Len(t, all, 2)
	assert.Equal(t, "ETH/USD", all[0].Symbol)
	assert.Equal(t, "XBT/USD", all[1].Symbol)

	empty := tr.Stats("SOL/USD")
	assert.Equal(t, "SOL/USD", empty.Symbol)
	assert.Zero(t, empty.Count)
}
