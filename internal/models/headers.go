package models

import (
	"fmt"
	"net/http"
	"strings"
)

// HeaderConfig headers.yaml配置文件的结构
type HeaderConfig struct {
	// Headers 自定义HTTP头部, 键为头部名称, 值为头部值
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`

	// UserAgent 单独配置的User-Agent,非空时覆盖Headers中的值
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
}

// CliHeaders 命令行传递的头部列表, 每项格式为 "Name: Value"
type CliHeaders []string

// Parse 将字符串列表解析为 http.Header
func (ch CliHeaders) Parse() (http.Header, error) {
	result := make(http.Header)
	for i, s := range ch {
		name, value, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf("参数 --header 第%d项格式错误: 缺少冒号分隔符,应为 'Name: Value'", i+1)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("参数 --header 第%d项格式错误: 头部名称不能为空", i+1)
		}
		result.Set(name, strings.TrimSpace(value))
	}
	return result, nil
}

// HeaderProvider 提供渲染请求使用的HTTP头部
// 返回的http.Header已按优先级合并(默认 < 配置 < 命令行)
type HeaderProvider interface {
	GetHeaders() (http.Header, error)
}

// StaticHeaders 固定头部集合,主要用于测试和库调用方
type StaticHeaders http.Header

// GetHeaders 实现 HeaderProvider
func (s StaticHeaders) GetHeaders() (http.Header, error) {
	return http.Header(s).Clone(), nil
}
