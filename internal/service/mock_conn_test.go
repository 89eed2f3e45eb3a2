package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/gerges15/minia-it-department-sub001/internal/hub"
	apperrors "github.com/gerges15/minia-it-department-sub001/pkg/errors"
)

// ── Mock Connection ──

type recordedCall struct {
	target string
	args   []any
}

type mockConn struct {
	mu          sync.Mutex
	state       hub.State
	connectErr  error
	invokeErr   error
	calls       []recordedCall
	handlers    map[string]hub.Handler
	listeners   []func(from, to hub.State)
	disconnects int
}

func newMockConn() *mockConn {
	return &mockConn{handlers: make(map[string]hub.Handler)}
}

func (m *mockConn) Invoke(_ context.Context, target string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != hub.StateConnected {
		return &apperrors.InvocationError{Target: target, Err: apperrors.ErrNotConnected}
	}
	if m.invokeErr != nil {
		return m.invokeErr
	}
	m.calls = append(m.calls, recordedCall{target: target, args: args})
	return nil
}

func (m *mockConn) On(event string, h hub.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(event)
	if _, ok := m.handlers[key]; ok {
		return apperrors.ErrHandlerRegistered
	}
	m.handlers[key] = h
	return nil
}

func (m *mockConn) Connect(context.Context) error {
	if m.connectErr != nil {
		return m.connectErr
	}
	m.setState(hub.StateConnected)
	return nil
}

func (m *mockConn) Disconnect() error {
	m.mu.Lock()
	m.disconnects++
	m.mu.Unlock()
	m.setState(hub.StateDisconnected)
	return nil
}

func (m *mockConn) State() hub.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockConn) OnStateChange(fn func(from, to hub.State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *mockConn) setState(to hub.State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	listeners := append([]func(from, to hub.State){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(from, to)
	}
}

// callsTo 指定调用的记录
func (m *mockConn) callsTo(target string) []recordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recordedCall
	for _, c := range m.calls {
		if c.target == target {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockConn) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// emit 同步投递一个结果事件；payload 为 string 时按原始 JSON 处理
func (m *mockConn) emit(t *testing.T, event string, payload any) {
	t.Helper()

	var raw json.RawMessage
	switch v := payload.(type) {
	case string:
		raw = json.RawMessage(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("序列化事件参数失败: %v", err)
		}
		raw = b
	}

	m.mu.Lock()
	h := m.handlers[strings.ToLower(event)]
	m.mu.Unlock()
	if h == nil {
		t.Fatalf("事件 %s 没有注册处理器", event)
	}
	h([]json.RawMessage{raw})
}

// ── 信封构造 ──

func successEnvelope(dataJSON string) string {
	return `{"isSuccess":true,"data":` + dataJSON + `}`
}

func failureEnvelope(message string) string {
	b, _ := json.Marshal(map[string]any{"isSuccess": false, "error": message})
	return string(b)
}
