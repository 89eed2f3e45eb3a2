package hub

import (
	"encoding/json"
	"fmt"
)

// Outcome 结果事件解码后的二选一值：Success(T) | Failure(message)
//
// 信封只在传输边界解码一次，下游处理器按 IsSuccess/Value 分支处理，
// 不再逐字段探测 isSuccess/data/error。
type Outcome[T any] struct {
	ok      bool
	value   T
	message string
}

// Success 构造成功结果
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{ok: true, value: v}
}

// Failure 构造失败结果
func Failure[T any](message string) Outcome[T] {
	return Outcome[T]{message: message}
}

// IsSuccess 是否成功
func (o Outcome[T]) IsSuccess() bool { return o.ok }

// Value 成功时返回载荷
func (o Outcome[T]) Value() (T, bool) { return o.value, o.ok }

// Message 失败时的错误信息
func (o Outcome[T]) Message() string { return o.message }

// envelope 服务端结果信封 { isSuccess, data?, error? }
type envelope struct {
	IsSuccess bool            `json:"isSuccess"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
}

// DecodeOutcome 将结果事件的第一个参数解码为 Outcome
// 信封本身无法解析时按失败处理，保证错误最终能到达用户
func DecodeOutcome[T any](args []json.RawMessage) Outcome[T] {
	if len(args) == 0 {
		return Failure[T]("结果事件缺少参数")
	}

	var env envelope
	if err := json.Unmarshal(args[0], &env); err != nil {
		return Failure[T](fmt.Sprintf("结果格式无效: %v", err))
	}
	if !env.IsSuccess {
		if env.Error == "" {
			return Failure[T]("操作失败")
		}
		return Failure[T](env.Error)
	}

	var v T
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return Failure[T](fmt.Sprintf("结果数据无效: %v", err))
		}
	}
	return Success(v)
}

// DecodePayload 解码不带信封的结果事件（列表、搜索）
func DecodePayload[T any](args []json.RawMessage) (T, error) {
	var v T
	if len(args) == 0 {
		return v, fmt.Errorf("结果事件缺少参数")
	}
	if err := json.Unmarshal(args[0], &v); err != nil {
		return v, fmt.Errorf("结果格式无效: %w", err)
	}
	return v, nil
}
