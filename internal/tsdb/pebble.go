package tsdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"orderbook-timetravel/internal/core/model"
)

// 键布局:
//
//	s/<symbol>\x00<ts:8 BE, 符号位翻转><seq:8 BE>  -> 快照 JSON
//	m/<symbol>                                     -> 统计元数据
//
// 翻转符号位后按字节序即按时间序，同一时间按 seq（追加顺序）排列。
const (
	recordPrefix = "s/"
	metaPrefix   = "m/"
)

// seriesMeta 单个交易对的统计元数据，与记录在同一批次写入
type seriesMeta struct {
	Count  int64
	Oldest int64
	Newest int64
	Bytes  int64
	Seq    uint64
}

// binary encoding: [count:8][oldest:8][newest:8][bytes:8][seq:8]
func encodeMeta(m seriesMeta) []byte {
	buf := make([]byte, 40)
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.Count))
	binary.BigEndian.PutUint64(buf[8:16], uint64(m.Oldest))
	binary.BigEndian.PutUint64(buf[16:24], uint64(m.Newest))
	binary.BigEndian.PutUint64(buf[24:32], uint64(m.Bytes))
	binary.BigEndian.PutUint64(buf[32:40], m.Seq)
	return buf
}

func decodeMeta(b []byte) (seriesMeta, error) {
	if len(b) != 40 {
		return seriesMeta{}, errors.New("invalid meta length")
	}
	return seriesMeta{
		Count:  int64(binary.BigEndian.Uint64(b[0:8])),
		Oldest: int64(binary.BigEndian.Uint64(b[8:16])),
		Newest: int64(binary.BigEndian.Uint64(b[16:24])),
		Bytes:  int64(binary.BigEndian.Uint64(b[24:32])),
		Seq:    binary.BigEndian.Uint64(b[32:40]),
	}, nil
}

// Pebble 基于 Pebble LSM 的持久化时序存储（默认引擎）
type Pebble struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions

	// closeMu 读锁保护进行中的操作，Close 取写锁
	closeMu sync.RWMutex
	closed  bool

	// locksMu 保护 locks 与 metas
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
	metas   map[string]*seriesMeta
}

// OpenPebble 打开（或创建）Pebble 存储
// 参数 dir: 数据目录
// 参数 syncWrites: 每次追加是否 fsync
func OpenPebble(dir string, syncWrites bool) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: 打开 pebble 失败: %v", ErrUnavailable, err)
	}
	opts := pebble.NoSync
	if syncWrites {
		opts = pebble.Sync
	}
	return &Pebble{
		db:        db,
		writeOpts: opts,
		locks:     make(map[string]*sync.Mutex),
		metas:     make(map[string]*seriesMeta),
	}, nil
}

func (p *Pebble) symbolLock(symbol string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	mu, ok := p.locks[symbol]
	if !ok {
		mu = &sync.Mutex{}
		p.locks[symbol] = mu
	}
	return mu
}

// Append 追加快照；记录与元数据在同一批次提交
func (p *Pebble) Append(_ context.Context, snap *model.OrderBookSnapshot) error {
	if err := validateSnapshot(snap); err != nil {
		return err
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return fmt.Errorf("%w: 存储已关闭", ErrUnavailable)
	}

	mu := p.symbolLock(snap.Symbol)
	mu.Lock()
	defer mu.Unlock()

	meta, err := p.loadMeta(snap.Symbol)
	if err != nil {
		return err
	}

	ts := snap.Timestamp.UnixNano()
	next := *meta
	next.Seq++
	if next.Count == 0 || ts < next.Oldest {
		next.Oldest = ts
	}
	if next.Count == 0 || ts > next.Newest {
		next.Newest = ts
	}
	next.Count++
	next.Bytes += int64(len(data))

	b := p.db.NewBatch()
	defer b.Close()
	if err := b.Set(recordKey(snap.Symbol, ts, next.Seq), data, nil); err != nil {
		return fmt.Errorf("%w: 写入记录失败: %v", ErrUnavailable, err)
	}
	if err := b.Set(metaKey(snap.Symbol), encodeMeta(next), nil); err != nil {
		return fmt.Errorf("%w: 写入元数据失败: %v", ErrUnavailable, err)
	}
	if err := b.Commit(p.writeOpts); err != nil {
		return fmt.Errorf("%w: 提交批次失败: %v", ErrUnavailable, err)
	}

	*meta = next
	return nil
}

// loadMeta 读取缓存的元数据，首次访问从磁盘加载
// 调用方需持有该交易对的锁
func (p *Pebble) loadMeta(symbol string) (*seriesMeta, error) {
	p.locksMu.Lock()
	meta, ok := p.metas[symbol]
	p.locksMu.Unlock()
	if ok {
		return meta, nil
	}

	m, err := p.readMeta(symbol)
	if err != nil {
		return nil, err
	}
	meta = &m

	p.locksMu.Lock()
	p.metas[symbol] = meta
	p.locksMu.Unlock()
	return meta, nil
}

func (p *Pebble) readMeta(symbol string) (seriesMeta, error) {
	val, closer, err := p.db.Get(metaKey(symbol))
	if errors.Is(err, pebble.ErrNotFound) {
		return seriesMeta{}, nil
	}
	if err != nil {
		return seriesMeta{}, fmt.Errorf("%w: 读取元数据失败: %v", ErrUnavailable, err)
	}
	defer closer.Close()

	m, err := decodeMeta(val)
	if err != nil {
		return seriesMeta{}, fmt.Errorf("%w: %s 元数据损坏: %v", ErrUnavailable, symbol, err)
	}
	return m, nil
}

// RangeScan 查询 [from, to] 内的记录
func (p *Pebble) RangeScan(_ context.Context, symbol string, from, to time.Time) ([]*model.OrderBookSnapshot, error) {
	if to.Before(from) {
		return nil, nil
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return nil, fmt.Errorf("%w: 存储已关闭", ErrUnavailable)
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: recordKey(symbol, clampNano(from), 0),
		UpperBound: upperBoundAt(symbol, clampNano(to)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: 创建迭代器失败: %v", ErrUnavailable, err)
	}
	defer iter.Close()

	var out []*model.OrderBookSnapshot
	for iter.First(); iter.Valid(); iter.Next() {
		snap, err := decodeSnapshot(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: 迭代失败: %v", ErrUnavailable, err)
	}
	return out, nil
}

// NearestAtOrBefore 查询不晚于 t 的最新记录
func (p *Pebble) NearestAtOrBefore(_ context.Context, symbol string, t time.Time) (*model.OrderBookSnapshot, error) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return nil, fmt.Errorf("%w: 存储已关闭", ErrUnavailable)
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: symbolPrefix(symbol),
		UpperBound: upperBoundAt(symbol, clampNano(t)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: 创建迭代器失败: %v", ErrUnavailable, err)
	}
	defer iter.Close()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return nil, fmt.Errorf("%w: 迭代失败: %v", ErrUnavailable, err)
		}
		return nil, nil
	}
	return decodeSnapshot(iter.Value())
}

// Stats 返回统计信息
func (p *Pebble) Stats(_ context.Context, symbol string) (Stats, error) {
	st := Stats{Symbol: symbol}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return st, fmt.Errorf("%w: 存储已关闭", ErrUnavailable)
	}

	m, err := p.readMeta(symbol)
	if err != nil {
		return st, err
	}
	if m.Count > 0 {
		st.Count = m.Count
		st.Oldest = time.Unix(0, m.Oldest).UTC()
		st.Newest = time.Unix(0, m.Newest).UTC()
		st.ApproxBytes = m.Bytes
	}
	return st, nil
}

// Close 刷盘并关闭数据库
func (p *Pebble) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("%w: 关闭 pebble 失败: %v", ErrUnavailable, err)
	}
	return nil
}

// -------------------- Keys --------------------

func symbolPrefix(symbol string) []byte {
	k := make([]byte, 0, len(recordPrefix)+len(symbol)+1)
	k = append(k, recordPrefix...)
	k = append(k, symbol...)
	return append(k, 0)
}

func recordKey(symbol string, ts int64, seq uint64) []byte {
	k := symbolPrefix(symbol)
	k = binary.BigEndian.AppendUint64(k, uint64(ts)^(1<<63))
	return binary.BigEndian.AppendUint64(k, seq)
}

// upperBoundAt 返回包含时间 ts 全部记录的排他上界
func upperBoundAt(symbol string, ts int64) []byte {
	k := recordKey(symbol, ts, 0)
	k = append(k[:len(k)-8], bytes.Repeat([]byte{0xff}, 8)...)
	return append(k, 0)
}

func metaKey(symbol string) []byte {
	return []byte(metaPrefix + symbol)
}
