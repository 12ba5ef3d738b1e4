package models

import (
	"fmt"
	"net/url"
	"time"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"   // 待执行
	TaskStatusRunning   TaskStatus = "running"   // 执行中
	TaskStatusCompleted TaskStatus = "completed" // 已完成
	TaskStatusFailed    TaskStatus = "failed"    // 失败
	TaskStatusCancelled TaskStatus = "cancelled" // 已取消
)

// CrawlMode 渲染模式
type CrawlMode string

const (
	ModeDynamic CrawlMode = "dynamic" // 浏览器渲染(默认)
	ModeStatic  CrawlMode = "static"  // 仅HTTP抓取,不执行JS
	ModeAll     CrawlMode = "all"     // 先静态,失败后回退到浏览器
)

// ParseCrawlMode 解析模式字符串
func ParseCrawlMode(s string) (CrawlMode, error) {
	switch CrawlMode(s) {
	case ModeDynamic, ModeStatic, ModeAll:
		return CrawlMode(s), nil
	case "":
		return ModeDynamic, nil
	}
	return "", fmt.Errorf("无效的渲染模式: %s (有效值: dynamic, static, all)", s)
}

// TaskStats 任务统计
type TaskStats struct {
	VisitedPages     int     `json:"visited_pages"`     // 已调度渲染的页面数
	RenderedPages    int     `json:"rendered_pages"`    // 渲染成功的页面数
	FailedPages      int     `json:"failed_pages"`      // 重试耗尽的页面数
	EmptyPages       int     `json:"empty_pages"`       // 渲染成功但没有商品的页面数
	Retries          int     `json:"retries"`           // 重试次数(不含首次尝试)
	LinksEnqueued    int     `json:"links_enqueued"`    // 入队的链接数(含种子)
	SkippedVisited   int     `json:"skipped_visited"`   // 已访问而丢弃的链接数
	SkippedDepth     int     `json:"skipped_depth"`     // 超过深度而丢弃的链接数
	SkippedRobots    int     `json:"skipped_robots"`    // robots.txt禁止的链接数
	AbandonedTargets int     `json:"abandoned_targets"` // 截止时间到达时未调度的目标数
	RecordsExtracted int     `json:"records_extracted"` // 各页面提取的记录总数
	UniqueRecords    int     `json:"unique_records"`    // 跨页面去重后的记录数
	DuplicateRecords int     `json:"duplicate_records"` // 跨页面去重丢弃的记录数
	Duration         float64 `json:"duration"`          // 总耗时(秒)
}

// RateLimitConfig 同源请求限速配置, Requests<=0 表示关闭
type RateLimitConfig struct {
	Requests int           `json:"requests" mapstructure:"requests" yaml:"requests"`
	Window   time.Duration `json:"window" mapstructure:"window" yaml:"window"`
}

// CrawlConfig 遍历配置
type CrawlConfig struct {
	MaxDepth         int             `json:"max_depth" mapstructure:"max_depth" yaml:"max_depth"`                            // 最大深度 (默认:3)
	Retries          int             `json:"retries" mapstructure:"retries" yaml:"retries"`                                  // 每个页面的最大尝试次数 (默认:3)
	RetryBackoff     time.Duration   `json:"retry_backoff" mapstructure:"retry_backoff" yaml:"retry_backoff"`                // 首次重试等待
	RetryBackoffMax  time.Duration   `json:"retry_backoff_max" mapstructure:"retry_backoff_max" yaml:"retry_backoff_max"`    // 重试等待上限
	Workers          int             `json:"workers" mapstructure:"workers" yaml:"workers"`                                  // 并发worker数 (默认:4)
	Mode             CrawlMode       `json:"mode" mapstructure:"mode" yaml:"mode"`                                           // 渲染模式
	RunTimeout       time.Duration   `json:"run_timeout" mapstructure:"run_timeout" yaml:"run_timeout"`                      // 整体运行截止时间,0表示不限
	SkipPathKeywords []string        `json:"skip_path_keywords" mapstructure:"skip_path_keywords" yaml:"skip_path_keywords"` // 路径黑名单关键字
	RespectRobots    bool            `json:"respect_robots" mapstructure:"respect_robots" yaml:"respect_robots"`             // 遵守robots.txt
	MinDelay         time.Duration   `json:"min_delay" mapstructure:"min_delay" yaml:"min_delay"`                            // 同源请求最小间隔
	RateLimit        RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit" yaml:"rate_limit"`
}

// Validate 验证配置
func (c *CrawlConfig) Validate() error {
	if c.MaxDepth < 0 || c.MaxDepth > 10 {
		return fmt.Errorf("最大深度必须在0-10之间")
	}
	if c.Retries < 1 || c.Retries > 10 {
		return fmt.Errorf("重试次数必须在1-10之间")
	}
	if c.Workers < 1 || c.Workers > 64 {
		return fmt.Errorf("并发数必须在1-64之间")
	}
	if c.RetryBackoff < 0 || c.RetryBackoffMax < 0 {
		return fmt.Errorf("重试等待时间不能为负数")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("重试等待(%s)不能超过上限(%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RunTimeout < 0 || c.MinDelay < 0 {
		return fmt.Errorf("时间参数不能为负数")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("启用限速时窗口时间必须为正数")
	}
	if _, err := ParseCrawlMode(string(c.Mode)); err != nil {
		return err
	}
	return nil
}

// RenderConfig 页面渲染配置
type RenderConfig struct {
	NavigationTimeout time.Duration `json:"navigation_timeout" mapstructure:"navigation_timeout" yaml:"navigation_timeout"` // 单次导航超时 (默认:120s)
	IdleWindow        time.Duration `json:"idle_window" mapstructure:"idle_window" yaml:"idle_window"`                      // 网络静默判定窗口
	SettleDelay       time.Duration `json:"settle_delay" mapstructure:"settle_delay" yaml:"settle_delay"`                   // 滚动后稳定等待
	ScrollStep        int           `json:"scroll_step" mapstructure:"scroll_step" yaml:"scroll_step"`                      // 每次滚动像素
	ScrollInterval    time.Duration `json:"scroll_interval" mapstructure:"scroll_interval" yaml:"scroll_interval"`          // 滚动间隔
	MaxScrollSteps    int           `json:"max_scroll_steps" mapstructure:"max_scroll_steps" yaml:"max_scroll_steps"`       // 最多滚动次数
	Headless          bool          `json:"headless" mapstructure:"headless" yaml:"headless"`
	PopupLabels       []string      `json:"popup_labels" mapstructure:"popup_labels" yaml:"popup_labels"` // 需要自动点击的弹窗按钮文本
	StaticTimeout     time.Duration `json:"static_timeout" mapstructure:"static_timeout" yaml:"static_timeout"`
}

// Validate 验证渲染配置
func (c *RenderConfig) Validate() error {
	if c.NavigationTimeout <= 0 {
		return fmt.Errorf("导航超时必须为正数")
	}
	if c.ScrollStep < 1 {
		return fmt.Errorf("滚动步长必须为正数")
	}
	if c.SettleDelay < 0 || c.ScrollInterval < 0 || c.IdleWindow < 0 {
		return fmt.Errorf("时间参数不能为负数")
	}
	return nil
}

// CrawlTask 爬取任务
type CrawlTask struct {
	// 基本信息
	ID          string     `json:"id"`                     // 任务唯一ID (UUID)
	SeedURL     string     `json:"seed_url"`               // 种子URL
	Domain      string     `json:"domain"`                 // 解析的主机名
	CreatedAt   time.Time  `json:"created_at"`             // 创建时间
	StartedAt   *time.Time `json:"started_at,omitempty"`   // 开始时间
	CompletedAt *time.Time `json:"completed_at,omitempty"` // 完成时间

	Config CrawlConfig `json:"config"`

	// 执行状态
	Status TaskStatus `json:"status"`
	Mode   CrawlMode  `json:"mode"`

	Stats TaskStats `json:"stats"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// NewCrawlTask 创建新任务
func NewCrawlTask(seedURL string, config CrawlConfig) (*CrawlTask, error) {
	if err := ValidateURL(seedURL); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	parsed, _ := url.Parse(seedURL)
	mode, _ := ParseCrawlMode(string(config.Mode))

	return &CrawlTask{
		ID:        generateID(),
		SeedURL:   seedURL,
		Domain:    parsed.Host,
		CreatedAt: time.Now(),
		Config:    config,
		Status:    TaskStatusPending,
		Mode:      mode,
	}, nil
}

// Start 标记任务开始
func (t *CrawlTask) Start() {
	now := time.Now()
	t.StartedAt = &now
	t.Status = TaskStatusRunning
}

// Finish 根据运行错误标记任务结束
func (t *CrawlTask) Finish(stats TaskStats, err error) {
	now := time.Now()
	t.CompletedAt = &now
	t.Stats = stats
	switch {
	case err == nil:
		t.Status = TaskStatusCompleted
	case IsCancellation(err):
		t.Status = TaskStatusCancelled
		t.ErrorMessage = err.Error()
	default:
		t.Status = TaskStatusFailed
		t.ErrorMessage = err.Error()
	}
}
