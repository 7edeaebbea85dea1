package tsdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"orderbook-timetravel/internal/core/model"
)

// RedisOptions Redis 连接配置
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// nearestPageSize 反向扫描时每页条数
const nearestPageSize = 16

// Redis 基于 Redis 有序集合的时序存储
// 每个交易对一个 ZSET：score 为 Unix 微秒，member 为 "<seq>|<快照 JSON>"；
// 同一微秒内按 member 字典序（即 seq）排列，读取时按纳秒时间精确过滤。
type Redis struct {
	client *redis.Client
	prefix string
	closed int32
}

// OpenRedis 连接 Redis 并校验可用性
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: 连接 Redis 失败: %v", ErrUnavailable, err)
	}
	return NewRedis(client, opts.KeyPrefix), nil
}

// NewRedis 使用已有客户端创建存储
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "obtt"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) seriesKey(symbol string) string { return fmt.Sprintf("%s:snap:%s", r.prefix, symbol) }
func (r *Redis) seqKey(symbol string) string    { return fmt.Sprintf("%s:seq:%s", r.prefix, symbol) }
func (r *Redis) metaKey(symbol string) string   { return fmt.Sprintf("%s:meta:%s", r.prefix, symbol) }

func (r *Redis) check() error {
	if atomic.LoadInt32(&r.closed) == 1 {
		return fmt.Errorf("%w: 存储已关闭", ErrUnavailable)
	}
	return nil
}

// Append 追加快照
func (r *Redis) Append(ctx context.Context, snap *model.OrderBookSnapshot) error {
	if err := validateSnapshot(snap); err != nil {
		return err
	}
	if err := r.check(); err != nil {
		return err
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	seq, err := r.client.Incr(ctx, r.seqKey(snap.Symbol)).Result()
	if err != nil {
		return fmt.Errorf("%w: 分配序号失败: %v", ErrUnavailable, err)
	}

	member := encodeMember(snap.Timestamp, seq, data)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, r.seriesKey(snap.Symbol), redis.Z{
			Score:  float64(snap.Timestamp.UnixMicro()),
			Member: member,
		})
		pipe.HIncrBy(ctx, r.metaKey(snap.Symbol), "bytes", int64(len(member)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: 写入快照失败: %v", ErrUnavailable, err)
	}
	return nil
}

// RangeScan 查询 [from, to] 内的记录
func (r *Redis) RangeScan(ctx context.Context, symbol string, from, to time.Time) ([]*model.OrderBookSnapshot, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, nil
	}

	members, err := r.client.ZRangeByScore(ctx, r.seriesKey(symbol), &redis.ZRangeBy{
		Min: scoreBound(from),
		Max: scoreBound(to),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: 范围查询失败: %v", ErrUnavailable, err)
	}

	lo, hi := clampNano(from), clampNano(to)
	var out []*model.OrderBookSnapshot
	for _, m := range members {
		snap, err := decodeMember(m)
		if err != nil {
			return nil, err
		}
		if ts := snap.Timestamp.UnixNano(); ts < lo || ts > hi {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// NearestAtOrBefore 查询不晚于 t 的最新记录
func (r *Redis) NearestAtOrBefore(ctx context.Context, symbol string, t time.Time) (*model.OrderBookSnapshot, error) {
	if err := r.check(); err != nil {
		return nil, err
	}

	target := clampNano(t)
	for offset := int64(0); ; offset += nearestPageSize {
		members, err := r.client.ZRevRangeByScore(ctx, r.seriesKey(symbol), &redis.ZRangeBy{
			Min:    "-inf",
			Max:    scoreBound(t),
			Offset: offset,
			Count:  nearestPageSize,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: 反向查询失败: %v", ErrUnavailable, err)
		}

		for _, m := range members {
			snap, err := decodeMember(m)
			if err != nil {
				return nil, err
			}
			// 同一微秒内可能有晚于 t 的纳秒记录
			if snap.Timestamp.UnixNano() <= target {
				return snap, nil
			}
		}
		if len(members) < nearestPageSize {
			return nil, nil
		}
	}
}

// Stats 返回统计信息
func (r *Redis) Stats(ctx context.Context, symbol string) (Stats, error) {
	st := Stats{Symbol: symbol}
	if err := r.check(); err != nil {
		return st, err
	}

	key := r.seriesKey(symbol)
	count, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return st, fmt.Errorf("%w: 统计失败: %v", ErrUnavailable, err)
	}
	if count == 0 {
		return st, nil
	}

	first, err := r.client.ZRange(ctx, key, 0, 0).Result()
	if err != nil {
		return st, fmt.Errorf("%w: 统计失败: %v", ErrUnavailable, err)
	}
	last, err := r.client.ZRange(ctx, key, -1, -1).Result()
	if err != nil {
		return st, fmt.Errorf("%w: 统计失败: %v", ErrUnavailable, err)
	}
	if len(first) == 0 || len(last) == 0 {
		return st, nil
	}

	oldest, err := decodeMember(first[0])
	if err != nil {
		return st, err
	}
	newest, err := decodeMember(last[0])
	if err != nil {
		return st, err
	}

	bytes, err := r.client.HGet(ctx, r.metaKey(symbol), "bytes").Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return st, fmt.Errorf("%w: 读取元数据失败: %v", ErrUnavailable, err)
	}

	st.Count = count
	st.Oldest = oldest.Timestamp
	st.Newest = newest.Timestamp
	st.ApproxBytes = bytes
	return st, nil
}

// Close 关闭客户端
func (r *Redis) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}
	return r.client.Close()
}

// encodeMember 微秒内的纳秒余数（3 位）+ 序号（20 位）补零作前缀，
// 同分值时字典序即 (纳秒时间, 追加顺序)
func encodeMember(ts time.Time, seq int64, data []byte) string {
	var b strings.Builder
	b.Grow(24 + len(data))
	fmt.Fprintf(&b, "%03d%020d|", ts.Nanosecond()%1000, seq)
	b.Write(data)
	return b.String()
}

// scoreBound 查询边界对应的分值；超出纳秒可表示范围时取无穷
func scoreBound(t time.Time) string {
	switch {
	case t.Before(minNanoTime):
		return "-inf"
	case t.After(maxNanoTime):
		return "+inf"
	default:
		return strconv.FormatInt(t.UnixMicro(), 10)
	}
}

func decodeMember(m string) (*model.OrderBookSnapshot, error) {
	_, data, ok := strings.Cut(m, "|")
	if !ok {
		return nil, fmt.Errorf("%w: 记录格式错误", ErrUnavailable)
	}
	return decodeSnapshot([]byte(data))
}
