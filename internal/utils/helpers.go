package utils

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/RecoveryAshes/productcrawl/internal/models"
)

// ReadURLsFromFile 从文件中读取种子URL列表
// 空行和 # 开头的注释行会被跳过, 重复的URL只保留第一次出现
func ReadURLsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开URL文件失败: %w", err)
	}
	defer file.Close()

	urls := make([]string, 0)
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		normalized, err := models.NormalizeURL(line)
		if err != nil {
			Warnf("跳过无效URL (行 %d): %s - %v", lineNum, line, err)
			continue
		}
		if seen[normalized] {
			Debugf("跳过重复URL (行 %d): %s", lineNum, line)
			continue
		}
		seen[normalized] = true
		urls = append(urls, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取URL文件失败: %w", err)
	}

	if len(urls) == 0 {
		return nil, fmt.Errorf("URL文件中没有有效的URL")
	}

	Infof("从文件加载了 %d 个URL", len(urls))
	return urls, nil
}

// SanitizeDomain 将主机名转换为可用作目录名的形式
func SanitizeDomain(host string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return replacer.Replace(strings.ToLower(host))
}
