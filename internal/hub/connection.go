// Package hub 实现与服务端时间表 Hub 的实时双向连接。
//
// 连接在会话启动时建立一次，断开后按固定间隔自动重连，会话结束时关闭。
// 远程调用（Invoke）只等待服务端的送达回执；业务结果通过事件通道异步到达，
// 所有事件在同一个分发协程中按接收顺序逐个处理，处理器之间不会并发。
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/gerges15/minia-it-department-sub001/pkg/errors"
	"github.com/gerges15/minia-it-department-sub001/pkg/jwt"
)

// State 连接状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Handler 事件处理器，args 为事件参数的原始 JSON
type Handler func(args []json.RawMessage)

// Options 连接参数
type Options struct {
	Endpoint          string
	AccessToken       string
	SkipNegotiation   bool
	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	ServerTimeout     time.Duration
	ReconnectDelays   []time.Duration
	InvokeTimeout     time.Duration // 等待完成回执的上限；0 表示只受调用方 ctx 约束
	EventBuffer       int
	HTTPClient        *http.Client
	Dialer            *websocket.Dialer
}

var (
	errConnectionLost = errors.New("连接已断开，回执未送达")
	errClosed         = errors.New("连接已关闭")
)

// inbound 待分发的服务端事件
type inbound struct {
	target string
	args   []json.RawMessage
}

type completion struct {
	err error
}

// Connection 一个会话内唯一的逻辑 Hub 连接
type Connection struct {
	opts   Options
	logger *zap.Logger

	// 生命周期：Disconnect 时取消，终止重连与事件分发
	ctx    context.Context
	cancel context.CancelFunc

	connectMu    sync.Mutex
	dispatchOnce sync.Once
	events       chan inbound

	mu        sync.Mutex
	state     State
	sock      *socket
	closing   bool
	pending   map[string]chan completion
	handlers  map[string]Handler
	listeners []func(from, to State)
}

// New 创建连接（不立即建立网络连接）
func New(opts Options, logger *zap.Logger) *Connection {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.HandshakeTimeout}
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		opts:     opts,
		logger:   logger.With(zap.String("hub", opts.Endpoint)),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan inbound, opts.EventBuffer),
		pending:  make(map[string]chan completion),
		handlers: make(map[string]Handler),
	}
}

// State 当前连接状态
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange 注册状态变化监听
func (c *Connection) OnStateChange(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// On 为事件注册唯一的处理器；事件名大小写不敏感
func (c *Connection) On(event string, h Handler) error {
	key := strings.ToLower(event)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[key]; ok {
		return fmt.Errorf("%s: %w", event, apperrors.ErrHandlerRegistered)
	}
	c.handlers[key] = h
	return nil
}

// Connect 建立连接；已连接或正在重连时直接返回
func (c *Connection) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	state, closing := c.state, c.closing
	c.mu.Unlock()

	if closing {
		return &apperrors.ConnectionError{Endpoint: c.opts.Endpoint, Err: errClosed}
	}
	if state == StateConnected || state == StateReconnecting {
		return nil
	}

	c.setState(StateConnecting)
	c.dispatchOnce.Do(func() { go c.dispatch() })

	sock, leftover, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		c.logger.Error("Hub 连接失败", zap.Error(err))
		return &apperrors.ConnectionError{Endpoint: c.opts.Endpoint, Err: err}
	}

	c.attach(sock, leftover)
	c.logger.Info("Hub 连接成功")
	return nil
}

// Invoke 发送远程调用并等待服务端送达回执
//
// 回执只表示服务端已接收调用，业务结果通过对应的结果事件异步到达。
func (c *Connection) Invoke(ctx context.Context, target string, args ...any) error {
	c.mu.Lock()
	sock := c.sock
	if c.state != StateConnected || sock == nil {
		c.mu.Unlock()
		return &apperrors.InvocationError{Target: target, Err: apperrors.ErrNotConnected}
	}
	id := uuid.NewString()
	ch := make(chan completion, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	msg := invocationMessage{Type: typeInvocation, InvocationID: id, Target: target, Arguments: normalizeArgs(args)}
	if err := sock.write(msg); err != nil {
		c.dropPending(id)
		return &apperrors.InvocationError{Target: target, Err: err}
	}

	if c.opts.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.InvokeTimeout)
		defer cancel()
	}

	select {
	case comp := <-ch:
		if comp.err != nil {
			return &apperrors.InvocationError{Target: target, Err: comp.err}
		}
		return nil
	case <-ctx.Done():
		c.dropPending(id)
		return &apperrors.InvocationError{Target: target, Err: ctx.Err()}
	case <-c.ctx.Done():
		return &apperrors.InvocationError{Target: target, Err: errClosed}
	}
}

// Send 发送不需要回执的调用
func (c *Connection) Send(_ context.Context, target string, args ...any) error {
	c.mu.Lock()
	sock := c.sock
	connected := c.state == StateConnected && sock != nil
	c.mu.Unlock()
	if !connected {
		return &apperrors.InvocationError{Target: target, Err: apperrors.ErrNotConnected}
	}

	msg := invocationMessage{Type: typeInvocation, Target: target, Arguments: normalizeArgs(args)}
	if err := sock.write(msg); err != nil {
		return &apperrors.InvocationError{Target: target, Err: err}
	}
	return nil
}

// Disconnect 关闭连接并停止重连与事件分发；从未连接时调用也安全
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	sock := c.sock
	c.sock = nil
	pending := c.takePendingLocked()
	c.mu.Unlock()

	c.cancel()
	failPending(pending, errClosed)

	if sock != nil {
		_ = sock.write(closeMessage{Type: typeClose})
		sock.close()
	}
	c.setState(StateDisconnected)
	c.logger.Info("Hub 连接已关闭")
	return nil
}

// ── 内部实现 ──

func (c *Connection) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	listeners := append([]func(from, to State){}, c.listeners...)
	c.mu.Unlock()

	if from == to {
		return
	}
	c.logger.Debug("Hub 连接状态变化", zap.Stringer("from", from), zap.Stringer("to", to))
	for _, fn := range listeners {
		fn(from, to)
	}
}

// dial 协商、建立 WebSocket 并完成握手；返回握手帧中多余的消息
func (c *Connection) dial(ctx context.Context) (*socket, [][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	token := c.opts.AccessToken
	if claims, err := jwt.Inspect(token, time.Now()); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, nil, apperrors.ErrTokenExpired
		}
		return nil, nil, err
	} else if claims != nil {
		c.logger.Debug("使用访问令牌连接", zap.String("user", claims.Username), zap.String("role", claims.Role))
	}

	endpoint, connID := c.opts.Endpoint, ""
	if !c.opts.SkipNegotiation {
		var err error
		endpoint, connID, token, err = c.negotiate(ctx, endpoint, token)
		if err != nil {
			return nil, nil, err
		}
	}

	wsURL, err := websocketURL(endpoint, connID)
	if err != nil {
		return nil, nil, err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, nil, fmt.Errorf("WebSocket 握手失败 (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, nil, fmt.Errorf("WebSocket 连接失败: %w", err)
	}

	sock := newSocket(conn)
	leftover, err := c.handshake(ctx, sock)
	if err != nil {
		sock.close()
		return nil, nil, err
	}
	return sock, leftover, nil
}

func (c *Connection) handshake(ctx context.Context, sock *socket) ([][]byte, error) {
	if err := sock.write(handshakeRequest{Protocol: "json", Version: 1}); err != nil {
		return nil, fmt.Errorf("发送握手请求失败: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opts.HandshakeTimeout)
	}
	_ = sock.conn.SetReadDeadline(deadline)
	defer sock.conn.SetReadDeadline(time.Time{})

	_, frame, err := sock.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("读取握手响应失败: %w", err)
	}
	records := splitRecords(frame)
	if len(records) == 0 {
		return nil, errors.New("握手响应为空")
	}

	var resp handshakeResponse
	if err := json.Unmarshal(records[0], &resp); err != nil {
		return nil, fmt.Errorf("握手响应格式无效: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("握手被拒绝: %s", resp.Error)
	}
	return records[1:], nil
}

// attach 启用新建立的 socket
func (c *Connection) attach(sock *socket, leftover [][]byte) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		sock.close()
		return
	}
	c.sock = sock
	c.mu.Unlock()

	c.setState(StateConnected)
	go c.readLoop(sock, leftover)
	go c.keepAlive(sock)
}

func (c *Connection) readLoop(sock *socket, leftover [][]byte) {
	allowReconnect := true
	var cause error

	defer func() {
		c.onSocketClosed(sock, cause, allowReconnect)
	}()

	for _, rec := range leftover {
		if stop, reconnect, err := c.handleRecord(rec); stop {
			allowReconnect, cause = reconnect, err
			return
		}
	}

	for {
		if c.opts.ServerTimeout > 0 {
			_ = sock.conn.SetReadDeadline(time.Now().Add(c.opts.ServerTimeout))
		}
		_, frame, err := sock.conn.ReadMessage()
		if err != nil {
			cause = err
			return
		}
		for _, rec := range splitRecords(frame) {
			if stop, reconnect, err := c.handleRecord(rec); stop {
				allowReconnect, cause = reconnect, err
				return
			}
		}
	}
}

// handleRecord 处理单条消息；返回 stop=true 表示服务端要求关闭
func (c *Connection) handleRecord(rec []byte) (stop bool, allowReconnect bool, err error) {
	var msg inboundMessage
	if err := json.Unmarshal(rec, &msg); err != nil {
		c.logger.Warn("忽略无法解析的 Hub 消息", zap.Error(err))
		return false, false, nil
	}

	switch msg.Type {
	case typeInvocation:
		select {
		case c.events <- inbound{target: msg.Target, args: msg.Arguments}:
		case <-c.ctx.Done():
		}
	case typeCompletion:
		var cerr error
		if msg.Error != "" {
			cerr = errors.New(msg.Error)
		}
		c.resolve(msg.InvocationID, cerr)
	case typePing:
	case typeClose:
		if msg.Error != "" {
			return true, msg.AllowReconnect, fmt.Errorf("服务端关闭连接: %s", msg.Error)
		}
		return true, msg.AllowReconnect, errors.New("服务端关闭连接")
	default:
		c.logger.Debug("忽略不支持的 Hub 消息类型", zap.Int("type", int(msg.Type)))
	}
	return false, false, nil
}

func (c *Connection) onSocketClosed(sock *socket, cause error, allowReconnect bool) {
	sock.close()

	c.mu.Lock()
	if c.sock != sock {
		// Disconnect 已接管或已被新连接替换
		c.mu.Unlock()
		return
	}
	c.sock = nil
	closing := c.closing
	pending := c.takePendingLocked()
	c.mu.Unlock()

	failPending(pending, errConnectionLost)
	if closing {
		return
	}

	c.logger.Warn("Hub 连接断开", zap.Error(cause), zap.Bool("allow_reconnect", allowReconnect))
	if !allowReconnect || len(c.opts.ReconnectDelays) == 0 {
		c.setState(StateDisconnected)
		return
	}

	c.setState(StateReconnecting)
	go c.reconnect()
}

// reconnect 按固定间隔重试，全部失败后进入 Disconnected
func (c *Connection) reconnect() {
	for attempt, delay := range c.opts.ReconnectDelays {
		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}

		sock, leftover, err := c.dial(c.ctx)
		if err != nil {
			c.logger.Warn("Hub 重连失败", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		c.attach(sock, leftover)
		c.logger.Info("Hub 重连成功", zap.Int("attempt", attempt+1))
		return
	}

	c.logger.Error("Hub 重连次数已用尽", zap.Int("attempts", len(c.opts.ReconnectDelays)))
	c.setState(StateDisconnected)
}

func (c *Connection) keepAlive(sock *socket) {
	if c.opts.KeepAliveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sock.write(pingMessage{Type: typePing}); err != nil {
				return
			}
		case <-sock.closed:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// dispatch 单协程按接收顺序逐个执行事件处理器
func (c *Connection) dispatch() {
	for {
		select {
		case ev := <-c.events:
			c.deliver(ev)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) deliver(ev inbound) {
	c.mu.Lock()
	h := c.handlers[strings.ToLower(ev.target)]
	c.mu.Unlock()

	if h == nil {
		c.logger.Debug("事件无处理器，已忽略", zap.String("event", ev.target))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("事件处理器 panic", zap.String("event", ev.target), zap.Any("panic", r))
		}
	}()
	h(ev.args)
}

func (c *Connection) resolve(id string, err error) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if ok {
		ch <- completion{err: err}
	}
}

func (c *Connection) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Connection) takePendingLocked() map[string]chan completion {
	pending := c.pending
	c.pending = make(map[string]chan completion)
	return pending
}

func failPending(pending map[string]chan completion, err error) {
	for _, ch := range pending {
		ch <- completion{err: err}
	}
}

func normalizeArgs(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}

// ── socket ──

// socket 单个 WebSocket 会话，写操作串行化
type socket struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func newSocket(conn *websocket.Conn) *socket {
	return &socket{conn: conn, closed: make(chan struct{})}
}

func (s *socket) write(v any) error {
	data, err := encodeRecord(v)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return errConnectionLost
	default:
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *socket) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}
