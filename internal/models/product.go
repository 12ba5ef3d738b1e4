package models

import (
	"strings"
	"time"
)

// ProductRecord 从渲染后页面中提取的一条商品记录
// Name/Price/ImageURL 三个字段均为清洗后的原始展示文本,价格不做数值解析
type ProductRecord struct {
	Name     string `json:"name" csv:"name"`
	Price    string `json:"price" csv:"price"`
	ImageURL string `json:"imageUrl" csv:"image_url"`

	// 以下字段仅用于追溯,不参与去重
	PageURL   string    `json:"pageUrl,omitempty" csv:"page_url"`
	ScrapedAt time.Time `json:"scrapedAt,omitempty" csv:"scraped_at"`
}

// IsComplete 三个必需字段是否都非空
func (r ProductRecord) IsComplete() bool {
	return strings.TrimSpace(r.Name) != "" &&
		strings.TrimSpace(r.Price) != "" &&
		strings.TrimSpace(r.ImageURL) != ""
}

// keySeparator 不会出现在解析后的页面文本中, HTML解析器会把NUL替换为U+FFFD
const keySeparator = "\x00"

// Key 返回去重键: (name, price, imageUrl) 经大小写与空白归一化后拼接
func (r ProductRecord) Key() string {
	return strings.Join([]string{
		normalizeKeyPart(r.Name),
		normalizeKeyPart(r.Price),
		normalizeKeyPart(r.ImageURL),
	}, keySeparator)
}

func normalizeKeyPart(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// CrawlResult 一次爬取运行的结果
type CrawlResult struct {
	SeedURL     string          `json:"seed_url"`
	Records     []ProductRecord `json:"records"`
	Stats       TaskStats       `json:"stats"`
	FailedPages []PageFailure   `json:"failed_pages,omitempty"`

	// Truncated 运行截止时间到达,仍有目标未被调度
	Truncated bool `json:"truncated"`
}

// PageFailure 单个页面重试耗尽后的失败记录
type PageFailure struct {
	URL       string `json:"url"`
	Depth     int    `json:"depth"`
	ErrorType string `json:"error_type"` // timeout, canceled, render, other
	ErrorMsg  string `json:"error_msg"`
}
