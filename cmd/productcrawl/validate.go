package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/RecoveryAshes/productcrawl/internal/models"
)

// ValidateFlags 验证命令行标志
// --url 与 --url-file 不能同时使用
func ValidateFlags(targetURL string, urlFile string) error {
	if targetURL != "" && urlFile != "" {
		return fmt.Errorf("--url 与 --url-file 不能同时指定")
	}

	if targetURL != "" {
		if _, err := NormalizeSeedURL(targetURL); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeSeedURL 规范化种子URL
// 如果没有协议,默认使用https
func NormalizeSeedURL(urlStr string) (string, error) {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return "", fmt.Errorf("种子URL不能为空")
	}
	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("无效的目标URL: %w", err)
	}
	if err := models.ValidateURL(parsed.String()); err != nil {
		return "", fmt.Errorf("无效的目标URL: %w", err)
	}
	return parsed.String(), nil
}
