// Package hubtest 提供进程内的时间表 Hub 模拟服务，供连接与会话测试使用。
//
// 模拟服务实现协商、JSON 握手、调用回执与事件推送，并可按调用名配置响应。
// 对于带回执的调用，响应事件总是先于完成回执发出，以覆盖"结果早于回执"的时序。
package hubtest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gerges15/minia-it-department-sub001/internal/api/middleware"
	"github.com/gerges15/minia-it-department-sub001/pkg/jwt"
)

const recordSeparator byte = 0x1e

const (
	typeInvocation = 1
	typeCompletion = 3
	typePing       = 6
	typeClose      = 7
)

// Options 模拟服务配置
type Options struct {
	// Secret 非空时要求请求携带该密钥签发的 Bearer 令牌
	Secret string
	// Path Hub 路径，默认 /TimeTableHub
	Path string
	// RejectHandshake 非空时以该错误拒绝握手
	RejectHandshake string
	// SuppressCompletions 不发送完成回执
	SuppressCompletions bool
}

// Invocation 服务端收到的一次调用
type Invocation struct {
	InvocationID string
	Target       string
	Arguments    []json.RawMessage
}

// Event 服务端推送的事件
type Event struct {
	Target    string
	Arguments []any
}

// Responder 根据调用生成需要推送的事件
type Responder func(inv Invocation) []Event

// Reply 返回固定推送一个事件的 Responder
func Reply(target string, args ...any) Responder {
	return func(Invocation) []Event {
		return []Event{{Target: target, Arguments: args}}
	}
}

// Server 模拟 Hub
type Server struct {
	opts   Options
	jwtMgr *jwt.Manager
	http   *httptest.Server

	upgrader websocket.Upgrader

	mu           sync.Mutex
	conns        map[*peer]struct{}
	invocations  []Invocation
	responders   map[string]Responder
	completionEr map[string]string
	negotiations int
	handshakes   int
	invoked      chan struct{}
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, append(b, recordSeparator))
}

// New 启动模拟 Hub
func New(opts Options) *Server {
	if opts.Path == "" {
		opts.Path = "/TimeTableHub"
	}
	s := &Server{
		opts:         opts,
		conns:        make(map[*peer]struct{}),
		responders:   make(map[string]Responder),
		completionEr: make(map[string]string),
		invoked:      make(chan struct{}, 1),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if opts.Secret != "" {
		s.jwtMgr = jwt.NewManager(opts.Secret, time.Hour)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group(opts.Path, middleware.JWTAuth(s.jwtMgr))
	g.POST("/negotiate", s.negotiate)
	g.GET("", s.serveWS)

	s.http = httptest.NewServer(r)
	return s
}

// Endpoint Hub 完整地址（http://...）
func (s *Server) Endpoint() string {
	return s.http.URL + s.opts.Path
}

// Close 关闭模拟服务
func (s *Server) Close() {
	s.DropConnections()
	s.http.Close()
}

// Token 签发访问令牌；未配置密钥时返回空串
func (s *Server) Token(username string) string {
	if s.jwtMgr == nil {
		return ""
	}
	token, _ := s.jwtMgr.GenerateAccessToken(username, "tutor")
	return token
}

// Respond 为调用名配置响应
func (s *Server) Respond(target string, fn Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responders[strings.ToLower(target)] = fn
}

// FailCompletion 令指定调用的完成回执携带错误
func (s *Server) FailCompletion(target, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completionEr[strings.ToLower(target)] = message
}

// Invocations 已收到的调用（按到达顺序）
func (s *Server) Invocations() []Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Invocation(nil), s.invocations...)
}

// InvocationsOf 已收到的指定调用
func (s *Server) InvocationsOf(target string) []Invocation {
	var out []Invocation
	for _, inv := range s.Invocations() {
		if strings.EqualFold(inv.Target, target) {
			out = append(out, inv)
		}
	}
	return out
}

// WaitInvocations 等待指定调用累计达到 n 次
func (s *Server) WaitInvocations(target string, n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(s.InvocationsOf(target)) >= n {
			return true
		}
		select {
		case <-s.invoked:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			return false
		}
	}
}

// Negotiations 协商次数
func (s *Server) Negotiations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.negotiations
}

// Handshakes 成功握手次数
func (s *Server) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

// Connections 当前连接数
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Push 向所有连接推送事件
func (s *Server) Push(target string, args ...any) {
	for _, p := range s.peers() {
		_ = p.write(invocation(target, args))
	}
}

// DropConnections 直接断开所有底层连接（模拟网络中断）
func (s *Server) DropConnections() {
	for _, p := range s.peers() {
		_ = p.conn.Close()
	}
}

// CloseConnections 发送关闭消息后断开
func (s *Server) CloseConnections(message string, allowReconnect bool) {
	msg := map[string]any{"type": typeClose, "allowReconnect": allowReconnect}
	if message != "" {
		msg["error"] = message
	}
	for _, p := range s.peers() {
		_ = p.write(msg)
		_ = p.conn.Close()
	}
}

func (s *Server) peers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.conns))
	for p := range s.conns {
		out = append(out, p)
	}
	return out
}

// ── HTTP ──

func (s *Server) negotiate(c *gin.Context) {
	s.mu.Lock()
	s.negotiations++
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"negotiateVersion": 1,
		"connectionId":     uuid.NewString(),
		"connectionToken":  uuid.NewString(),
		"availableTransports": []gin.H{
			{"transport": "WebSockets", "transferFormats": []string{"Text"}},
		},
	})
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn}
	defer conn.Close()

	if !s.handshake(p) {
		return
	}

	// 先登记再应答握手，客户端连接成功后推送的事件不会丢失
	s.mu.Lock()
	s.conns[p] = struct{}{}
	s.handshakes++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, p)
		s.mu.Unlock()
	}()

	if err := p.write(struct{}{}); err != nil {
		return
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for _, rec := range bytes.Split(frame, []byte{recordSeparator}) {
			if len(bytes.TrimSpace(rec)) == 0 {
				continue
			}
			if !s.handleRecord(p, rec) {
				return
			}
		}
	}
}

func (s *Server) handshake(p *peer) bool {
	_, frame, err := p.conn.ReadMessage()
	if err != nil {
		return false
	}
	var req struct {
		Protocol string `json:"protocol"`
		Version  int    `json:"version"`
	}
	if err := json.Unmarshal(bytes.TrimRight(frame, string(recordSeparator)), &req); err != nil {
		_ = p.write(gin.H{"error": "握手格式无效"})
		return false
	}
	if s.opts.RejectHandshake != "" {
		_ = p.write(gin.H{"error": s.opts.RejectHandshake})
		return false
	}
	if req.Protocol != "json" {
		_ = p.write(gin.H{"error": "不支持的协议 " + req.Protocol})
		return false
	}
	return true
}

func (s *Server) handleRecord(p *peer, rec []byte) bool {
	var msg struct {
		Type         int               `json:"type"`
		InvocationID string            `json:"invocationId"`
		Target       string            `json:"target"`
		Arguments    []json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(rec, &msg); err != nil {
		return true
	}

	switch msg.Type {
	case typeInvocation:
		inv := Invocation{InvocationID: msg.InvocationID, Target: msg.Target, Arguments: msg.Arguments}

		s.mu.Lock()
		s.invocations = append(s.invocations, inv)
		responder := s.responders[strings.ToLower(msg.Target)]
		failure := s.completionEr[strings.ToLower(msg.Target)]
		s.mu.Unlock()

		select {
		case s.invoked <- struct{}{}:
		default:
		}

		if responder != nil && failure == "" {
			for _, ev := range responder(inv) {
				_ = p.write(invocation(ev.Target, ev.Arguments))
			}
		}

		if msg.InvocationID != "" && !s.opts.SuppressCompletions {
			comp := gin.H{"type": typeCompletion, "invocationId": msg.InvocationID}
			if failure != "" {
				comp["error"] = failure
			}
			_ = p.write(comp)
		}
	case typePing:
		_ = p.write(gin.H{"type": typePing})
	case typeClose:
		return false
	}
	return true
}

func invocation(target string, args []any) gin.H {
	if args == nil {
		args = []any{}
	}
	return gin.H{"type": typeInvocation, "target": target, "arguments": args}
}
