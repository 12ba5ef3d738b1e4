package models

import (
	"encoding/json"
	"time"
)

// CrawlReport 爬取报告
type CrawlReport struct {
	// 任务信息
	TaskID  string     `json:"task_id"`
	SeedURL string     `json:"seed_url"`
	Domain  string     `json:"domain"`
	Mode    CrawlMode  `json:"mode"`
	Status  TaskStatus `json:"status"`

	// 时间信息
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // 秒

	Stats       TaskStats     `json:"stats"`
	FailedPages []PageFailure `json:"failed_pages"`
	Truncated   bool          `json:"truncated"`

	// 错误信息(运行失败时)
	ErrorMessage string `json:"error_message,omitempty"`

	// 输出文件
	OutputDir   string   `json:"output_dir"`
	OutputFiles []string `json:"output_files"`

	// 配置快照
	Config RenderSnapshot `json:"config"`
}

// RenderSnapshot 写入报告的配置快照
type RenderSnapshot struct {
	Crawl  CrawlConfig  `json:"crawl"`
	Render RenderConfig `json:"render"`
}

// ToJSON 序列化为JSON
func (r *CrawlReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *CrawlReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
