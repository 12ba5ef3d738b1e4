package utils

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/RecoveryAshes/productcrawl/internal/models"
)

// MaxHeaderValueLength 单个头部值最大长度 (8KB)
const MaxHeaderValueLength = 8192

var (
	headerNamePattern  = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	headerValuePattern = regexp.MustCompile(`^[\x20-\x7E\t]*$`)

	// reservedHeaders 由浏览器或HTTP客户端管理,不允许覆盖
	reservedHeaders = map[string]bool{
		"host":              true,
		"content-length":    true,
		"transfer-encoding": true,
		"connection":        true,
		"cookie2":           true,
	}

	// sensitiveKeywords 名称包含这些关键字的头部在日志中脱敏
	sensitiveKeywords = []string{"authorization", "cookie", "token", "key", "secret", "password", "credential"}
)

// ValidateHeader 检查单个头部的名称和值
func ValidateHeader(name, value string) error {
	switch {
	case name == "":
		return &models.ValidationError{Field: "name", Reason: "头部名称不能为空"}
	case reservedHeaders[strings.ToLower(name)]:
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "此头部由浏览器自动管理,不允许自定义",
			Suggestion: fmt.Sprintf("移除 '%s' 头部配置", name),
		}
	case !headerNamePattern.MatchString(name):
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "头部名称包含非法字符",
			Suggestion: "仅使用字母、数字和连字符, 如 'Accept-Language'",
		}
	case len(value) > MaxHeaderValueLength:
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(value), MaxHeaderValueLength),
		}
	case !headerValuePattern.MatchString(value):
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     "头部值包含控制字符或非ASCII字符",
		}
	}
	return nil
}

// ValidateHeaders 检查全部头部,返回第一个错误
// 按名称排序遍历,保证错误信息稳定
func ValidateHeaders(headers http.Header) error {
	for _, name := range sortedNames(headers) {
		for _, value := range headers[name] {
			if err := ValidateHeader(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsSensitiveHeader 头部名称是否包含敏感关键字
func IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// RedactValue 脱敏单个头部值
func RedactValue(name, value string) string {
	if !IsSensitiveHeader(name) {
		return value
	}
	if strings.HasPrefix(value, "Bearer ") {
		return "Bearer ***"
	}
	if len(value) > 8 {
		return value[:4] + "***" + value[len(value)-4:]
	}
	return "***"
}

// RedactHeaders 返回可写入日志的头部描述, 格式 "A: x, B: y"
func RedactHeaders(headers http.Header) string {
	parts := make([]string, 0, len(headers))
	for _, name := range sortedNames(headers) {
		values := headers[name]
		if len(values) == 0 {
			continue
		}
		parts = append(parts, name+": "+RedactValue(name, values[0]))
	}
	return strings.Join(parts, ", ")
}

func sortedNames(headers http.Header) []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
