// Package kafka 将实时快照流转发到 Kafka。
// 每条消息的 key 为交易对，value 为快照 JSON；同一交易对落在同一分区，保持有序。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"orderbook-timetravel/internal/core/bus"
	"orderbook-timetravel/internal/core/model"
)

const (
	// maxBatch 单次写入最多合并的消息数
	maxBatch = 100
	// writeTimeout 单次写入超时
	writeTimeout = 5 * time.Second
)

// messageWriter kafka.Writer 的最小接口
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 快照转发器
type Publisher struct {
	writer messageWriter
	logger *zap.Logger

	published int64
	failed    int64
}

// NewPublisher 创建 Kafka 转发器
// 参数 brokers: broker 地址列表
// 参数 topic: 目标 topic
// 参数 batchTimeout: 批量等待时间
func NewPublisher(brokers []string, topic string, batchTimeout time.Duration, logger *zap.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: 未配置 broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka: 未配置 topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: batchTimeout,
	}
	return newPublisher(w, logger), nil
}

func newPublisher(w messageWriter, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{writer: w, logger: logger.Named("kafka")}
}

// Run 消费订阅并转发，直到 ctx 取消或订阅关闭
// 返回前会尽量把已取出的消息写完。
func (p *Publisher) Run(ctx context.Context, sub *bus.Subscription[*model.OrderBookSnapshot]) error {
	defer sub.Close()

	for {
		snap, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) {
				return nil
			}
			return err
		}

		batch := []*model.OrderBookSnapshot{snap}
		for len(batch) < maxBatch {
			next, ok := sub.TryRecv()
			if !ok {
				break
			}
			batch = append(batch, next)
		}
		p.send(ctx, batch)
	}
}

func (p *Publisher) send(ctx context.Context, batch []*model.OrderBookSnapshot) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, snap := range batch {
		msg, err := encode(snap)
		if err != nil {
			atomic.AddInt64(&p.failed, 1)
			p.logger.Warn("快照编码失败", zap.String("symbol", snap.Symbol), zap.Error(err))
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return
	}

	// ctx 取消后仍给最后一批一次写入机会
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(wctx, msgs...); err != nil {
		atomic.AddInt64(&p.failed, int64(len(msgs)))
		p.logger.Warn("写入 Kafka 失败", zap.Int("messages", len(msgs)), zap.Error(err))
		return
	}
	atomic.AddInt64(&p.published, int64(len(msgs)))
}

// Published 成功写入的消息数
func (p *Publisher) Published() int64 { return atomic.LoadInt64(&p.published) }

// Failed 写入失败的消息数
func (p *Publisher) Failed() int64 { return atomic.LoadInt64(&p.failed) }

// Close 关闭底层 writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func encode(snap *model.OrderBookSnapshot) (kafka.Message, error) {
	value, err := json.Marshal(snap)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(snap.Symbol),
		Value: value,
		Time:  snap.Timestamp,
	}, nil
}
