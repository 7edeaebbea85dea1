package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderbook-timetravel/internal/core/bus"
	"orderbook-timetravel/internal/core/model"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) messages() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.msgs...)
}

func snap(symbol string, sec int64) *model.OrderBookSnapshot {
	return &model.OrderBookSnapshot{
		Symbol:    symbol,
		Timestamp: time.Unix(sec, 0).UTC(),
		Bids:      []model.PriceLevel{model.NewLevel("99", "1")},
		Asks:      []model.PriceLevel{model.NewLevel("100", "1")},
	}
}

func TestPublisher_ForwardsInOrder(t *testing.T) {
	b := bus.New[*model.OrderBookSnapshot](16)
	sub := b.Subscribe()
	w := &fakeWriter{}
	p := newPublisher(w, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), sub) }()

	for i := int64(1); i <= 5; i++ {
		b.Publish(snap("XBT/USD", i))
	}
	b.Publish(snap("ETH/USD", 6))
	b.Close()

	require.NoError(t, <-done)

	msgs := w.messages()
	require.Len(t, msgs, 6)
	for i, m := range msgs[:5] {
		assert.Equal(t, "XBT/USD", string(m.Key))
		var got model.OrderBookSnapshot
		require.NoError(t, json.Unmarshal(m.Value, &got))
		assert.Equal(t, int64(i+1), got.Timestamp.Unix())
	}
	assert.Equal(t, "ETH/USD", string(msgs[5].Key))
	assert.Equal(t, int64(6), p.Published())
	assert.Zero(t, p.Failed())
}

func TestPublisher_WriteFailureCounted(t *testing.T) {
	b := bus.New[*model.OrderBookSnapshot](4)
	sub := b.Subscribe()
	w := &fakeWriter{err: errors.New("broker down")}
	p := newPublisher(w, nil)

	b.Publish(snap("XBT/USD", 1))
	b.Publish(snap("XBT/USD", 2))
	b.Close()

	require.NoError(t, p.Run(context.Background(), sub))
	assert.Equal(t, int64(2), p.Failed())
	assert.Zero(t, p.Published())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_StopsOnCancel(t *testing.T) {
	b := bus.New[*model.OrderBookSnapshot](4)
	defer b.Close()
	p := newPublisher(&fakeWriter{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, b.Subscribe()) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run 未在取消后退出")
	}
	assert.Zero(t, b.Len())
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(nil, "t", time.Millisecond, nil)
	assert.Error(t, err)
	_, err = NewPublisher([]string{"localhost:9092"}, "", time.Millisecond, nil)
	assert.Error(t, err)

	p, err := NewPublisher([]string{"localhost:9092"}, "orderbook-snapshots", 10*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Close())
}
