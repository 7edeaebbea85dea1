// Package bus 实现有界多生产者多消费者广播总线。
// 每个订阅者持有独立的环形缓冲区：缓冲满时只丢弃该订阅者最旧的未读消息，
// 发布方永不阻塞，也不影响其他订阅者。
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrClosed 订阅已关闭且缓冲已读空
var ErrClosed = errors.New("bus: 订阅已关闭")

// Bus 广播总线
type Bus[T any] struct {
	capacity int

	mu     sync.RWMutex
	subs   map[string]*Subscription[T]
	closed bool

	published uint64
}

// New 创建广播总线
// 参数 capacity: 每个订阅者的缓冲容量（<= 0 时为 1）
func New[T any](capacity int) *Bus[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus[T]{
		capacity: capacity,
		subs:     make(map[string]*Subscription[T]),
	}
}

// Subscribe 创建新的订阅，只接收订阅之后发布的消息
// 总线已关闭时返回的订阅立即处于关闭状态
func (b *Bus[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		id:     uuid.NewString(),
		bus:    b,
		buf:    make([]T, b.capacity),
		notify: make(chan struct{}, 1),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.close()
		return s
	}
	b.subs[s.id] = s
	return s
}

// Publish 向所有订阅者投递消息，返回投递的订阅者数量
func (b *Bus[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	atomic.AddUint64(&b.published, 1)
	for _, s := range b.subs {
		s.push(v)
	}
	return len(b.subs)
}

// Len 当前订阅者数量
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published 累计发布次数
func (b *Bus[T]) Published() uint64 {
	return atomic.LoadUint64(&b.published)
}

// Close 关闭总线及全部订阅；订阅者仍可读完已缓冲的消息
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.close()
		delete(b.subs, id)
	}
}

func (b *Bus[T]) remove(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription 单个订阅者的接收句柄
type Subscription[T any] struct {
	id  string
	bus *Bus[T]

	mu     sync.Mutex
	buf    []T
	head   int
	size   int
	closed bool
	notify chan struct{}

	dropped uint64
}

// ID 订阅 ID
func (s *Subscription[T]) ID() string {
	return s.id
}

// Dropped 因缓冲满被丢弃的消息数
func (s *Subscription[T]) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	n := len(s.buf)
	if s.size == n {
		// 丢弃最旧
		var zero T
		s.buf[s.head] = zero
		s.head = (s.head + 1) % n
		s.size--
		atomic.AddUint64(&s.dropped, 1)
	}
	s.buf[(s.head+s.size)%n] = v
	s.size++

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pop() (T, bool) {
	var zero T
	if s.size == 0 {
		return zero, false
	}
	v := s.buf[s.head]
	s.buf[s.head] = zero
	s.head = (s.head + 1) % len(s.buf)
	s.size--
	return v, true
}

// TryRecv 非阻塞读取
func (s *Subscription[T]) TryRecv() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pop()
}

// Recv 阻塞读取下一条消息
// 返回: ctx 取消时返回 ctx.Err()；订阅关闭且缓冲读空时返回 ErrClosed
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	for {
		s.mu.Lock()
		v, ok := s.pop()
		closed := s.closed
		s.mu.Unlock()

		if ok {
			return v, nil
		}
		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Close 取消订阅
func (s *Subscription[T]) Close() {
	s.bus.remove(s.id)
	s.close()
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}
