// Package errors 定义时间表会话的错误分类。
//
// 分类与处理位置：
//   - ValidationError   本地校验失败，永远不会到达传输层
//   - ConnectionError   初始握手失败，所有命令被禁用
//   - InvocationError   连接未打开或远端拒绝调用，立即返回，不影响缓存
//   - BusinessFailure   服务端返回 isSuccess=false，缓存保持原状
//   - CorruptCacheError 本地缓存内容损坏，按"无时间表"处理，不向用户暴露
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected 连接未打开
	ErrNotConnected = errors.New("实时连接未建立")
	// ErrHandlerRegistered 同一事件重复注册处理器
	ErrHandlerRegistered = errors.New("该事件已注册处理器")
	// ErrNoTimetable 当前没有已加载的时间表
	ErrNoTimetable = errors.New("当前未加载任何时间表")
	// ErrCommandBusy 同类命令仍在等待结果
	ErrCommandBusy = errors.New("同类操作仍在处理中，请稍候")
	// ErrTokenExpired 访问令牌已过期
	ErrTokenExpired = errors.New("访问令牌已过期")
)

// ValidationError 本地输入校验失败
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid 构造 ValidationError
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConnectionError 初始连接（协商/握手）失败
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("连接 %s 失败: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// InvocationError 远程调用未能送达或被 Hub 拒绝
type InvocationError struct {
	Target string
	Err    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("调用 %s 失败: %v", e.Target, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// BusinessFailure 服务端在结果信封中报告的业务失败
type BusinessFailure struct {
	Event   string
	Message string
}

func (e *BusinessFailure) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: 服务端未返回错误信息", e.Event)
	}
	return e.Message
}

// CorruptCacheError 本地缓存内容无法解析
type CorruptCacheError struct {
	Key string
	Err error
}

func (e *CorruptCacheError) Error() string {
	return fmt.Sprintf("缓存键 %s 内容损坏: %v", e.Key, e.Err)
}

func (e *CorruptCacheError) Unwrap() error { return e.Err }

// IsValidation 判断是否为本地校验错误
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConnection 判断是否为连接错误
func IsConnection(err error) bool {
	var c *ConnectionError
	return errors.As(err, &c)
}

// IsInvocation 判断是否为调用错误
func IsInvocation(err error) bool {
	var i *InvocationError
	return errors.As(err, &i)
}
