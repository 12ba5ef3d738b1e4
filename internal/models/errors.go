package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRootUnreachable 种子页面在重试后仍无法渲染,整个运行失败
	ErrRootUnreachable = errors.New("种子页面无法访问")

	// ErrNoProducts 运行成功但没有提取到任何商品
	ErrNoProducts = errors.New("未找到任何商品")
)

// IsCancellation 错误是否来自调用方取消
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// ValidationError 头部验证错误
type ValidationError struct {
	// Field 出错的字段 ("name" 或 "value")
	Field string

	HeaderName string
	Reason     string

	// Suggestion 修复建议 (可选)
	Suggestion string
}

// Error 实现error接口
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("头部验证失败 [%s]: %s", e.HeaderName, e.Reason)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (建议: %s)", e.Suggestion)
	}
	return msg
}

// ConfigError 配置文件错误
type ConfigError struct {
	FilePath string
	Cause    error
}

// Error 实现error接口
func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// RootError 种子页面失败的详细信息, errors.Is(err, ErrRootUnreachable) 为真
type RootError struct {
	URL   string
	Cause error
}

func (e *RootError) Error() string {
	return fmt.Sprintf("%v [%s]: %v", ErrRootUnreachable, e.URL, e.Cause)
}

func (e *RootError) Unwrap() []error {
	return []error{ErrRootUnreachable, e.Cause}
}
