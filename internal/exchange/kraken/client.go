// Package kraken 实现 Kraken 交易所的 WebSocket 客户端。
// 连接地址: wss://ws.kraken.com
// 订阅频道: book（深度 25）
// 心跳机制: 协议层 ping 自动回复 pong，应用层 {"event":"ping"}，服务端空闲时推送 heartbeat
package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"orderbook-timetravel/internal/config"
	"orderbook-timetravel/internal/core/model"
	"orderbook-timetravel/internal/util/timeutil"
)

var (
	// ErrTransport 连接、读写或超时失败
	ErrTransport = errors.New("kraken: 传输错误")
	// ErrServerClosed 服务端发送了关闭帧
	ErrServerClosed = errors.New("kraken: 服务端关闭连接")
)

// State 会话状态
type State int32

const (
	// StateDisconnected 未连接
	StateDisconnected State = iota
	// StateConnecting 正在连接
	StateConnecting
	// StateSubscribed 已发送订阅请求，正在接收数据
	StateSubscribed
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// EventType 会话生命周期事件类型
type EventType int

const (
	// SessionConnected 连接建立
	SessionConnected EventType = iota + 1
	// SessionSubscribed 订阅请求已发送
	SessionSubscribed
	// SessionOrderbook 订单簿已更新
	SessionOrderbook
	// SessionDisconnected 服务端关闭连接
	SessionDisconnected
	// SessionError 传输错误，会话结束
	SessionError
)

// String 返回事件类型名称
func (t EventType) String() string {
	switch t {
	case SessionConnected:
		return "connected"
	case SessionSubscribed:
		return "subscribed"
	case SessionOrderbook:
		return "orderbook"
	case SessionDisconnected:
		return "disconnected"
	case SessionError:
		return "error"
	default:
		return "unknown"
	}
}

// Event 会话事件
type Event struct {
	// Type 事件类型
	Type EventType
	// Snapshot 更新后的订单簿快照（SessionOrderbook）
	Snapshot *model.OrderBookSnapshot
	// ExchTsUnixNs 帧内最新档位时间戳（纳秒），无则为 0
	ExchTsUnixNs int64
	// ArrivedAtUnixNs 帧到达时间（纳秒）
	ArrivedAtUnixNs int64
	// Err 错误原因（SessionDisconnected / SessionError）
	Err error
}

// FrameRecorder 原始帧录制接口
type FrameRecorder interface {
	// RecordFrame 记录一帧原始消息
	RecordFrame(arrivedAtUnixNs int64, data []byte) error
}

// counters 连接计数器，跨会话累计
type counters struct {
	state       int32
	reconnects  int64
	parseErrors int64
	skipped     int64
	updates     int64
	lastMsgTime int64
}

// Session 单次 Kraken WebSocket 会话
// 一个 Session 只运行一次：连接、订阅、读取直到出错或 ctx 取消。
// 重连由 Feed 负责。
type Session struct {
	// cfg 行情配置
	cfg *config.FeedConfig
	// logger 日志记录器
	logger *zap.Logger
	// processor 帧处理器
	processor *Processor
	// events 事件输出通道
	events chan<- Event
	// recorder 原始帧录制（可选）
	recorder FrameRecorder
	// stats 计数器
	stats *counters

	// conn WebSocket 连接
	conn *websocket.Conn
	// connMu 连接锁，串行化文本帧写入
	connMu sync.Mutex

	// pingReqID 应用层 ping 请求 ID
	pingReqID int64
	// parseErrLog 解析错误日志采样
	parseErrLog rate.Sometimes
	// subscribed 本会话是否到达过订阅状态
	subscribed int32
}

func newSession(cfg *config.FeedConfig, processor *Processor, events chan<- Event, recorder FrameRecorder, stats *counters, logger *zap.Logger) *Session {
	return &Session{
		cfg:       cfg,
		logger:    logger,
		processor: processor,
		events:    events,
		recorder:  recorder,
		stats:     stats,
		// 首次错误必记，之后每 10 秒最多一条
		parseErrLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// NewSession 创建独立会话，事件写入 events
func NewSession(cfg *config.FeedConfig, processor *Processor, events chan<- Event, logger *zap.Logger) *Session {
	return newSession(cfg, processor, events, nil, &counters{}, logger.Named("kraken"))
}

// State 返回当前状态
func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.stats.state))
}

func (s *Session) setState(st State) {
	atomic.StoreInt32(&s.stats.state, int32(st))
}

// Run 运行会话直到连接失败、服务端关闭或 ctx 取消
// 返回: ctx 取消时返回 ctx.Err()；否则返回包装 ErrTransport 或 ErrServerClosed 的错误
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)
	s.setState(StateConnecting)

	if err := s.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.emit(ctx, Event{Type: SessionError, Err: err})
		return err
	}
	defer s.closeConn()
	s.emit(ctx, Event{Type: SessionConnected})

	if err := s.subscribe(); err != nil {
		s.emit(ctx, Event{Type: SessionError, Err: err})
		return err
	}
	s.setState(StateSubscribed)
	atomic.StoreInt32(&s.subscribed, 1)
	s.emit(ctx, Event{Type: SessionSubscribed})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.pingLoop(runCtx)
	go func() {
		// 取消时关闭连接以解除阻塞的读取
		<-runCtx.Done()
		s.closeConn()
	}()

	err := s.readLoop(runCtx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if errors.Is(err, ErrServerClosed) {
		s.logger.Warn("Kraken 服务端关闭连接", zap.Error(err))
		s.emit(ctx, Event{Type: SessionDisconnected, Err: err})
	} else {
		s.logger.Warn("Kraken 会话中断", zap.Error(err))
		s.emit(ctx, Event{Type: SessionError, Err: err})
	}
	return err
}

// connect 建立 WebSocket 连接
func (s *Session) connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("User-Agent", "orderbook-timetravel/1.0")

	dialer := websocket.Dialer{HandshakeTimeout: ms(s.cfg.HandshakeTimeoutMs, 10*time.Second)}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("%w: 连接 Kraken WebSocket 失败: %v", ErrTransport, err)
	}

	writeTimeout := ms(s.cfg.WriteTimeoutMs, 5*time.Second)
	conn.SetPingHandler(func(appData string) error {
		atomic.StoreInt64(&s.stats.lastMsgTime, timeutil.NowNano())
		s.extendDeadline(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Debug("回复 Kraken pong 失败", zap.Error(err))
		}
		return nil
	})
	conn.SetPongHandler(func(string) error {
		atomic.StoreInt64(&s.stats.lastMsgTime, timeutil.NowNano())
		s.extendDeadline(conn)
		return nil
	})
	s.extendDeadline(conn)

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.logger.Info("Kraken WebSocket 连接成功", zap.String("url", s.cfg.URL))
	return nil
}

// subscribe 订阅全部交易对的深度频道
func (s *Session) subscribe() error {
	req := SubscribeRequest{
		Event: "subscribe",
		Pair:  s.cfg.Symbols,
		Subscription: SubscriptionDetails{
			Name:  "book",
			Depth: s.cfg.Depth,
		},
	}
	if err := s.writeJSON(req); err != nil {
		return fmt.Errorf("%w: 发送订阅请求失败: %v", ErrTransport, err)
	}

	s.logger.Info("Kraken 订阅请求已发送",
		zap.Strings("symbols", s.cfg.Symbols),
		zap.Int("depth", s.cfg.Depth))
	return nil
}

func (s *Session) readLoop(ctx context.Context) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: WebSocket 未连接", ErrTransport)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("%w: code=%d %s", ErrServerClosed, closeErr.Code, closeErr.Text)
			}
			return fmt.Errorf("%w: 读取消息失败: %v", ErrTransport, err)
		}

		arrivedNs := timeutil.NowNano()
		atomic.StoreInt64(&s.stats.lastMsgTime, arrivedNs)
		s.extendDeadline(conn)

		if s.recorder != nil {
			if err := s.recorder.RecordFrame(arrivedNs, data); err != nil {
				s.logger.Debug("录制原始帧失败", zap.Error(err))
			}
		}

		ev, snap, err := s.processor.Process(data)
		if err != nil {
			atomic.AddInt64(&s.stats.parseErrors, 1)
			s.maybeLogParseError(err, data)
			continue
		}
		if ev.SkippedEntries > 0 {
			atomic.AddInt64(&s.stats.skipped, int64(ev.SkippedEntries))
		}

		switch {
		case ev.Kind == EventControl:
			s.handleControl(ev.Control)
		case snap != nil:
			atomic.AddInt64(&s.stats.updates, 1)
			out := Event{
				Type:            SessionOrderbook,
				Snapshot:        snap,
				ExchTsUnixNs:    ev.ExchTsUnixNs,
				ArrivedAtUnixNs: arrivedNs,
			}
			select {
			case s.events <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// handleControl 处理控制消息
func (s *Session) handleControl(msg *ControlMessage) {
	switch msg.Event {
	case "heartbeat", "pong":
	case "systemStatus":
		s.logger.Info("Kraken 系统状态",
			zap.String("status", msg.Status),
			zap.String("version", msg.Version))
	case "subscriptionStatus":
		if msg.IsError() {
			s.logger.Error("Kraken 订阅失败",
				zap.String("pair", msg.Pair),
				zap.String("error", msg.ErrorMessage))
			return
		}
		s.logger.Info("Kraken 订阅状态",
			zap.String("pair", msg.Pair),
			zap.String("channel", msg.ChannelName),
			zap.String("status", msg.Status))
	default:
		if msg.IsError() {
			s.logger.Warn("Kraken 返回错误", zap.String("error", msg.ErrorMessage))
			return
		}
		s.logger.Debug("忽略 Kraken 控制消息", zap.String("event", msg.Event))
	}
}

func (s *Session) pingLoop(ctx context.Context) {
	if s.cfg.PingIntervalMs <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(s.cfg.PingIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req := PingRequest{Event: "ping", ReqID: atomic.AddInt64(&s.pingReqID, 1)}
			if err := s.writeJSON(req); err != nil {
				// 连接已失效时由读取循环结束会话
				s.logger.Warn("发送 Kraken ping 失败", zap.Error(err))
			}
		}
	}
}

func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(ms(s.cfg.WriteTimeoutMs, 5*time.Second)))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) extendDeadline(conn *websocket.Conn) {
	if s.cfg.ReadTimeoutMs > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(time.Duration(s.cfg.ReadTimeoutMs) * time.Millisecond))
	}
}

func (s *Session) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Session) reachedSubscribed() bool {
	return atomic.LoadInt32(&s.subscribed) == 1
}

// maybeLogParseError 采样记录解析错误原始消息，避免刷屏
func (s *Session) maybeLogParseError(err error, data []byte) {
	s.parseErrLog.Do(func() {
		sample := data
		if len(sample) > 200 {
			sample = sample[:200]
		}
		s.logger.Warn("解析 Kraken 消息失败（采样）",
			zap.Error(err),
			zap.ByteString("data", sample),
			zap.Int64("total", atomic.LoadInt64(&s.stats.parseErrors)))
	})
}

func ms(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Millisecond
}
