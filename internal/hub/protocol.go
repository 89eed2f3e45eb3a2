package hub

import (
	"bytes"
	"encoding/json"
)

// recordSeparator JSON Hub 协议的消息分隔符
const recordSeparator byte = 0x1e

type messageType int

const (
	typeInvocation       messageType = 1
	typeStreamItem       messageType = 2
	typeCompletion       messageType = 3
	typeStreamInvocation messageType = 4
	typeCancelInvocation messageType = 5
	typePing             messageType = 6
	typeClose            messageType = 7
)

// handshakeRequest 握手请求，连接建立后发送的第一条消息
type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// handshakeResponse 握手响应，error 为空表示成功
type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// inboundMessage 服务端消息（各类型字段的并集）
type inboundMessage struct {
	Type           messageType       `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// invocationMessage 客户端调用；InvocationID 为空表示不需要完成回执
type invocationMessage struct {
	Type         messageType `json:"type"`
	InvocationID string      `json:"invocationId,omitempty"`
	Target       string      `json:"target"`
	Arguments    []any       `json:"arguments"`
}

type pingMessage struct {
	Type messageType `json:"type"`
}

type closeMessage struct {
	Type  messageType `json:"type"`
	Error string      `json:"error,omitempty"`
}

// encodeRecord 序列化消息并追加分隔符
func encodeRecord(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, recordSeparator), nil
}

// splitRecords 按分隔符拆分一帧中的多条消息，忽略空记录
func splitRecords(frame []byte) [][]byte {
	parts := bytes.Split(frame, []byte{recordSeparator})
	out := make([][]byte, 0, len(parts))
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}
