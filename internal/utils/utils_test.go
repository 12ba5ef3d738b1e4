package utils

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/models"
)

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		value   string
		wantErr bool
	}{
		{"合法头部", "Accept-Language", "en-US,en;q=0.9", false},
		{"空值", "X-Empty", "", false},
		{"名称为空", "", "x", true},
		{"保留头部Host", "Host", "shop.example.com", true},
		{"保留头部大小写", "content-length", "12", true},
		{"名称含空格", "User Agent", "x", true},
		{"名称含下划线", "User_Agent", "x", true},
		{"值含控制字符", "X-Bad", "a\x00b", true},
		{"值超长", "X-Long", strings.Repeat("a", MaxHeaderValueLength+1), true},
		{"值恰好等于上限", "X-Long", strings.Repeat("a", MaxHeaderValueLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(tt.header, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ve *models.ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("期望 *models.ValidationError, 得到 %T", err)
				}
			}
		})
	}
}

func TestValidateHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Accept", "text/html")
	headers.Set("Referer", "https://shop.example.com/")
	if err := ValidateHeaders(headers); err != nil {
		t.Errorf("合法头部集合不应报错: %v", err)
	}

	headers.Set("Connection", "close")
	if err := ValidateHeaders(headers); err == nil {
		t.Error("包含保留头部时应返回错误")
	}
}

func TestRedactHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer abcdef123456")
	headers.Set("X-Api-Key", "sk-1234567890abcd")
	headers.Set("Cookie", "sid=1")
	headers.Set("Accept", "text/html")

	got := RedactHeaders(headers)

	for _, want := range []string{"Authorization: Bearer ***", "X-Api-Key: sk-1***abcd", "Cookie: ***", "Accept: text/html"} {
		if !strings.Contains(got, want) {
			t.Errorf("RedactHeaders() = %q, 缺少 %q", got, want)
		}
	}
	if strings.Contains(got, "abcdef123456") {
		t.Error("脱敏结果不应包含原始令牌")
	}
	// 排序输出
	if !strings.HasPrefix(got, "Accept:") {
		t.Errorf("输出应按名称排序, 得到 %q", got)
	}
}

func TestReadURLsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.txt")
	content := strings.Join([]string{
		"# 种子列表",
		"https://shop.example.com/",
		"",
		"ftp://files.example.com/",
		"not a url",
		"https://SHOP.example.com/#top",
		"https://store.example.org/catalog",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	urls, err := ReadURLsFromFile(path)
	if err != nil {
		t.Fatalf("ReadURLsFromFile() error = %v", err)
	}

	want := []string{"https://shop.example.com/", "https://store.example.org/catalog"}
	if len(urls) != len(want) {
		t.Fatalf("得到 %d 个URL %v, 期望 %v", len(urls), urls, want)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("urls[%d] = %q, 期望 %q", i, urls[i], want[i])
		}
	}
}

func TestReadURLsFromFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	_ = os.WriteFile(path, []byte("# nothing\n\n"), 0644)

	if _, err := ReadURLsFromFile(path); err == nil {
		t.Error("没有有效URL时应返回错误")
	}
	if _, err := ReadURLsFromFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("文件不存在时应返回错误")
	}
}

func TestSanitizeDomain(t *testing.T) {
	if got := SanitizeDomain("Shop.Example.com:8080"); got != "shop.example.com_8080" {
		t.Errorf("SanitizeDomain() = %q", got)
	}
}

func TestReporter_GenerateReport(t *testing.T) {
	dir := t.TempDir()
	reporter := NewReporter(dir, "shop.example.com")

	start := time.Now().Add(-time.Second)
	report := &models.CrawlReport{
		TaskID:    "task-1",
		SeedURL:   "https://shop.example.com/",
		Domain:    "shop.example.com",
		StartTime: start,
		EndTime:   time.Now(),
		Stats:     models.TaskStats{VisitedPages: 3, UniqueRecords: 2},
	}

	if err := reporter.GenerateReport(report); err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "shop.example.com", "reports", "crawl_report.json"))
	if err != nil {
		t.Fatalf("读取报告失败: %v", err)
	}
	var loaded models.CrawlReport
	if err := loaded.FromJSON(data); err != nil {
		t.Fatalf("解析报告失败: %v", err)
	}
	if loaded.Stats.UniqueRecords != 2 || loaded.SeedURL != report.SeedURL {
		t.Errorf("报告内容不一致: %+v", loaded)
	}

	failed, err := os.ReadFile(filepath.Join(dir, "shop.example.com", "reports", "failed_pages.json"))
	if err != nil {
		t.Fatalf("读取失败页面列表失败: %v", err)
	}
	if strings.TrimSpace(string(failed)) != "[]" {
		t.Errorf("没有失败页面时应写入空数组, 得到 %s", failed)
	}
}
