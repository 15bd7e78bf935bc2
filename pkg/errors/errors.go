// Package errors 提供统一错误种类与包装辅助，不依赖 internal
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// 错误种类（哨兵），调用方用 errors.Is 判断
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrTransport          = errors.New("transport error")
	ErrHandoverIncomplete = errors.New("handover incomplete")
	ErrRunExpired         = errors.New("run expired")
	ErrLocked             = errors.New("metering point locked")
)

// IncompleteError 交接未完成：携带未响应的对手方名称，errors.Is(err, ErrHandoverIncomplete) 为真
type IncompleteError struct {
	Unresolved []string
}

func (e *IncompleteError) Error() string {
	if len(e.Unresolved) == 0 {
		return ErrHandoverIncomplete.Error()
	}
	return fmt.Sprintf("%s: unresolved=%s", ErrHandoverIncomplete.Error(), strings.Join(e.Unresolved, ","))
}

// Is 使 IncompleteError 与 ErrHandoverIncomplete 等价
func (e *IncompleteError) Is(target error) bool {
	return target == ErrHandoverIncomplete
}

// Incomplete 构造 IncompleteError，names 会被复制
func Incomplete(names []string) error {
	cp := make([]string, len(names))
	copy(cp, names)
	return &IncompleteError{Unresolved: cp}
}

// UnresolvedOf 从错误链中取出未响应对手方名称；非 IncompleteError 时返回 nil
func UnresolvedOf(err error) []string {
	var ie *IncompleteError
	if errors.As(err, &ie) {
		return ie.Unresolved
	}
	return nil
}

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Invalidf 构造 InvalidInput 种类的错误
func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Transport 将底层错误归类为 TransportError
func Transport(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", msg, ErrTransport, err)
}

// Is 等同标准库 errors.Is
func Is(err, target error) bool { return errors.Is(err, target) }

// As 等同标准库 errors.As
func As(err error, target interface{}) bool { return errors.As(err, target) }

// New 等同标准库 errors.New
func New(text string) error { return errors.New(text) }
