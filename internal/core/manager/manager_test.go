package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderbook-timetravel/internal/core/book"
	"orderbook-timetravel/internal/core/bus"
	"orderbook-timetravel/internal/core/model"
	"orderbook-timetravel/internal/tsdb"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func snapAt(symbol string, ts time.Time) *model.OrderBookSnapshot {
	return &model.OrderBookSnapshot{
		Symbol:    symbol,
		Timestamp: ts,
		Bids:      []model.PriceLevel{model.NewLevel("99", "1")},
		Asks:      []model.PriceLevel{model.NewLevel("100", "1")},
	}
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	m := New(tsdb.NewMemory(), 100, zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

// failingStore 所有操作都失败的存储
type failingStore struct{}

var errDisk = errors.New("磁盘已满")

func (failingStore) Append(context.Context, *model.OrderBookSnapshot) error { return errDisk }
func (failingStore) RangeScan(context.Context, string, time.Time, time.Time) ([]*model.OrderBookSnapshot, error) {
	return nil, errDisk
}
func (failingStore) NearestAtOrBefore(context.Context, string, time.Time) (*model.OrderBookSnapshot, error) {
	return nil, errDisk
}
func (failingStore) Stats(context.Context, string) (tsdb.Stats, error) { return tsdb.Stats{}, errDisk }
func (failingStore) Close() error                                      { return nil }

func TestManager_FeedExample(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	b := book.New("BTC/USD", model.MaxDepth)

	b.ApplySnapshot(
		[]model.PriceLevel{model.NewLevel("100", "1"), model.NewLevel("101", "2")},
		[]model.PriceLevel{model.NewLevel("99", "1")},
	)
	m.Update(ctx, b.Snapshot())

	cur := m.GetCurrent("BTC/USD")
	require.NotNil(t, cur)
	require.Len(t, cur.Asks, 2)
	require.True(t, cur.Asks[0].Price.Equal(model.NewLevel("100", "0").Price))
	require.True(t, cur.Asks[1].Volume.Equal(model.NewLevel("0", "2").Volume))
	require.Len(t, cur.Bids, 1)

	b.ApplyDelta(model.SideAsk, []model.PriceLevel{model.NewLevel("100", "0"), model.NewLevel("102", "3")})
	m.Update(ctx, b.Snapshot())

	cur = m.GetCurrent("BTC/USD")
	require.Len(t, cur.Asks, 2)
	require.Equal(t, "101", cur.Asks[0].Price.String())
	require.Equal(t, "102", cur.Asks[1].Price.String())
	require.Equal(t, "3", cur.Asks[1].Volume.String())
}

func TestManager_GetCurrentUnknown(t *testing.T) {
	m := newManager(t)
	require.Nil(t, m.GetCurrent("NONE/USD"))
}

func TestManager_GetCurrentReturnsCopy(t *testing.T) {
	m := newManager(t)
	m.Update(context.Background(), snapAt("XBT/USD", t0))

	cur := m.GetCurrent("XBT/USD")
	cur.Bids[0] = model.NewLevel("1", "1")
	require.Equal(t, "99", m.GetCurrent("XBT/USD").Bids[0].Price.String())
}

func TestManager_GetAtTime(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	m.Update(ctx, snapAt("XBT/USD", t0))
	m.Update(ctx, snapAt("XBT/USD", t0.Add(10*time.Minute)))

	tests := []struct {
		name string
		at   time.Time
		want *time.Time
	}{
		{"精确匹配", t0, &t0},
		{"一小时内取最近", t0.Add(5 * time.Minute), &t0},
		{"更新的记录", t0.Add(30 * time.Minute), ptr(t0.Add(10 * time.Minute))},
		{"早于所有记录", t0.Add(-time.Second), nil},
		{"超过一小时", t0.Add(10*time.Minute + 2*time.Hour), nil},
		{"恰好一小时为开区间", t0.Add(10*time.Minute + time.Hour), nil},
		{"一小时差一纳秒", t0.Add(10*time.Minute + time.Hour - time.Nanosecond), ptr(t0.Add(10 * time.Minute))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.GetAtTime(ctx, "XBT/USD", tt.at)
			require.NoError(t, err)
			if tt.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.True(t, got.Timestamp.Equal(*tt.want), "got %s, want %s", got.Timestamp, *tt.want)
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestManager_GetHistoryWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("历史查询结果有序且在区间内", prop.ForAll(
		func(offsets []int, a, b int) bool {
			m := New(tsdb.NewMemory(), 10, zap.NewNop())
			defer m.Close()
			ctx := context.Background()

			for _, off := range offsets {
				m.Update(ctx, snapAt("XBT/USD", t0.Add(time.Duration(off)*time.Second)))
			}
			if a > b {
				a, b = b, a
			}
			from, to := t0.Add(time.Duration(a)*time.Second), t0.Add(time.Duration(b)*time.Second)

			got, err := m.GetHistory(ctx, "XBT/USD", from, to)
			if err != nil {
				return false
			}

			want := 0
			for _, off := range offsets {
				if off >= a && off <= b {
					want++
				}
			}
			if len(got) != want {
				return false
			}
			for i, snap := range got {
				if snap.Timestamp.Before(from) || snap.Timestamp.After(to) {
					return false
				}
				if i > 0 && snap.Timestamp.Before(got[i-1].Timestamp) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestManager_StoreFailureDoesNotBlockCacheOrBroadcast(t *testing.T) {
	m := New(failingStore{}, 10, zap.NewNop())
	defer m.Close()
	ctx := context.Background()

	sub := m.Subscribe()
	defer sub.Close()

	m.Update(ctx, snapAt("XBT/USD", t0))

	require.NotNil(t, m.GetCurrent("XBT/USD"))
	require.Equal(t, int64(1), m.StoreErrors())

	got, ok := sub.TryRecv()
	require.True(t, ok)
	require.Equal(t, "XBT/USD", got.Symbol)

	// 查询时存储故障与无数据区分
	_, err := m.GetHistory(ctx, "XBT/USD", t0, t0)
	require.ErrorIs(t, err, tsdb.ErrUnavailable)
	_, err = m.GetAtTime(ctx, "XBT/USD", t0)
	require.ErrorIs(t, err, tsdb.ErrUnavailable)
	_, err = m.GetStats(ctx, "XBT/USD")
	require.ErrorIs(t, err, tsdb.ErrUnavailable)
}

func TestManager_NoDataIsNotError(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	hist, err := m.GetHistory(ctx, "NONE/USD", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, hist)

	at, err := m.GetAtTime(ctx, "NONE/USD", t0)
	require.NoError(t, err)
	require.Nil(t, at)

	st, err := m.GetStats(ctx, "NONE/USD")
	require.NoError(t, err)
	require.Zero(t, st.Count)
}

func TestManager_SubscribersSeeOrderedUpdates(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	subs := []*bus.Subscription[*model.OrderBookSnapshot]{m.Subscribe(), m.Subscribe(), m.Subscribe()}
	require.Equal(t, 3, m.Subscribers())

	for i := 0; i < 20; i++ {
		m.Update(ctx, snapAt("XBT/USD", t0.Add(time.Duration(i)*time.Second)))
	}

	for _, sub := range subs {
		var prev time.Time
		n := 0
		for {
			snap, ok := sub.TryRecv()
			if !ok {
				break
			}
			require.True(t, snap.Timestamp.After(prev) || n == 0)
			prev = snap.Timestamp
			n++
		}
		require.Equal(t, 20, n)
	}
}

func TestManager_StatsAndSymbols(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	m.Update(ctx, snapAt("XBT/USD", t0))
	m.Update(ctx, snapAt("XBT/USD", t0.Add(time.Minute)))
	m.Update(ctx, snapAt("ETH/USD", t0))

	st, err := m.GetStats(ctx, "XBT/USD")
	require.NoError(t, err)
	require.Equal(t, int64(2), st.Count)
	require.True(t, st.Oldest.Equal(t0))
	require.True(t, st.Newest.Equal(t0.Add(time.Minute)))

	require.Equal(t, []string{"ETH/USD", "XBT/USD"}, m.Symbols())
	require.Equal(t, int64(3), m.Updates())
}
