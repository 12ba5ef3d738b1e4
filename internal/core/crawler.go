package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/crawlers"
	"github.com/RecoveryAshes/productcrawl/internal/extractor"
	"github.com/RecoveryAshes/productcrawl/internal/metrics"
	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/RecoveryAshes/productcrawl/internal/pipeline"
	"github.com/RecoveryAshes/productcrawl/internal/utils"
)

// resourceSampleInterval 动态模式下系统资源采样间隔
const resourceSampleInterval = 5 * time.Second

// Crawler 主爬取器协调器
// 负责组装渲染器、提取器和遍历引擎, 并把结果写入输出目录
type Crawler struct {
	config    *Config
	headers   models.HeaderProvider
	metrics   *metrics.Metrics
	extractor *extractor.Extractor

	// progress 页面计数器输出, nil表示不显示
	progress io.Writer
}

// NewCrawler 创建主爬取器
// headers和m可以为nil
func NewCrawler(config *Config, headers models.HeaderProvider, m *metrics.Metrics) (*Crawler, error) {
	if config == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ext, err := extractor.New(config.Extract)
	if err != nil {
		return nil, err
	}

	return &Crawler{
		config:    config,
		headers:   headers,
		metrics:   m,
		extractor: ext,
	}, nil
}

// WithProgress 设置页面计数器输出
func (c *Crawler) WithProgress(w io.Writer) *Crawler {
	c.progress = w
	return c
}

// Crawl 执行单个种子URL的爬取任务
// 执行流程:
//  1. 创建任务并验证头部
//  2. 根据模式创建渲染器 (static/dynamic/all)
//  3. 运行遍历引擎
//  4. 写入商品数据 (json/csv/sqlite)
//  5. 生成爬取报告
//
// 种子页面失败时同样生成报告, 返回的错误匹配 models.ErrRootUnreachable.
// ctx被取消时写入已收集的部分结果后返回取消错误.
func (c *Crawler) Crawl(ctx context.Context, seedURL string) (*models.CrawlReport, error) {
	return c.crawl(ctx, seedURL, nil)
}

// crawl 执行爬取任务, shared不为nil时使用共享的渲染器且不负责关闭
func (c *Crawler) crawl(ctx context.Context, seedURL string, shared crawlers.Renderer) (*models.CrawlReport, error) {
	task, err := models.NewCrawlTask(seedURL, c.config.Crawl)
	if err != nil {
		return nil, fmt.Errorf("创建任务失败: %w", err)
	}

	if c.headers != nil {
		if _, err := c.headers.GetHeaders(); err != nil {
			return nil, fmt.Errorf("HTTP头部配置无效: %w", err)
		}
	}

	domain := utils.SanitizeDomain(task.Domain)
	outputDir := filepath.Join(c.config.Output.BaseDir, domain)

	utils.Infof("🚀 开始爬取任务 [%s]", task.ID)
	utils.Infof("目标URL: %s", task.SeedURL)
	utils.Infof("渲染模式: %s", task.Mode)
	utils.Infof("输出目录: %s", outputDir)

	renderer := shared
	if renderer == nil {
		own, release, err := c.buildRenderer(task.Mode, 1)
		if err != nil {
			return nil, fmt.Errorf("创建渲染器失败: %w", err)
		}
		defer closeRenderer(own, release)
		renderer = own
	}

	onPage, stopProgress := c.pageObserver()
	defer stopProgress()

	engine, err := crawlers.NewEngine(crawlers.EngineOptions{
		Config:    c.config.Crawl,
		Renderer:  renderer,
		Extractor: c.extractor,
		Robots:    c.robotsChecker(),
		Metrics:   c.metrics,
		OnPage:    onPage,
	})
	if err != nil {
		return nil, err
	}

	task.Start()
	result, runErr := engine.Run(ctx, task.SeedURL)

	var stats models.TaskStats
	if result != nil {
		stats = result.Stats
	}
	task.Finish(stats, runErr)
	stopProgress()

	report := &models.CrawlReport{
		TaskID:    task.ID,
		SeedURL:   task.SeedURL,
		Domain:    task.Domain,
		Mode:      task.Mode,
		Status:    task.Status,
		Stats:     stats,
		OutputDir: outputDir,
		Config: models.RenderSnapshot{
			Crawl:  c.config.Crawl,
			Render: c.config.Render,
		},
		ErrorMessage: task.ErrorMessage,
	}
	if task.StartedAt != nil {
		report.StartTime = *task.StartedAt
	}
	if task.CompletedAt != nil {
		report.EndTime = *task.CompletedAt
		report.Duration = report.EndTime.Sub(report.StartTime).Seconds()
	}
	if result != nil {
		report.FailedPages = result.FailedPages
		report.Truncated = result.Truncated
	}

	// 种子失败时没有可写的商品; 中断时仍然写入部分结果
	if result != nil && !errors.Is(runErr, models.ErrRootUnreachable) {
		files, err := c.writeRecords(ctx, outputDir, result.Records)
		if err != nil {
			utils.Errorf("写入商品数据失败: %v", err)
			if runErr == nil {
				runErr = err
				report.Status = models.TaskStatusFailed
				report.ErrorMessage = err.Error()
			}
		}
		report.OutputFiles = files

		if runErr == nil && len(result.Records) == 0 {
			utils.Warnf("%v: %s", models.ErrNoProducts, task.SeedURL)
		}
	}

	reporter := utils.NewReporter(c.config.Output.BaseDir, domain)
	if err := reporter.GenerateReport(report); err != nil {
		utils.Warnf("生成报告失败: %v", err)
	}

	if runErr != nil {
		return report, runErr
	}

	utils.Infof("✅ 爬取任务完成")
	utils.Infof("商品数: %d (页面: %d, 失败: %d)", stats.UniqueRecords, stats.RenderedPages, stats.FailedPages)
	utils.Infof("总耗时: %.2f秒", stats.Duration)
	return report, nil
}

// writeRecords 写入所有配置的输出格式
// 使用不随ctx取消的上下文, 中断后的部分结果也能落盘
func (c *Crawler) writeRecords(ctx context.Context, outputDir string, records []models.ProductRecord) ([]string, error) {
	writers, err := pipeline.NewWriters(outputDir, c.config.Output.Formats)
	if err != nil {
		return nil, err
	}

	writeErr := writers.Write(context.WithoutCancel(ctx), records)
	closeErr := writers.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		return writers.Paths(), err
	}

	for _, path := range writers.Paths() {
		utils.Infof("💾 已保存 %d 条商品: %s", len(records), path)
	}
	return writers.Paths(), nil
}

// closeRenderer 关闭渲染器后调用release
func closeRenderer(renderer crawlers.Renderer, release func()) {
	if err := renderer.Close(); err != nil {
		utils.Warnf("关闭渲染器失败: %v", err)
	}
	if release != nil {
		release()
	}
}

// buildRenderer 按模式创建渲染器
// parallel为同时使用该渲染器的任务数, 决定浏览器标签页数量.
// 返回的release函数在渲染器关闭后调用, 用于停止资源监控
func (c *Crawler) buildRenderer(mode models.CrawlMode, parallel int) (crawlers.Renderer, func(), error) {
	switch mode {
	case models.ModeStatic:
		utils.Infof("🔍 静态渲染模式")
		return crawlers.NewCollyRenderer(c.config.Render, c.headers), nil, nil

	case models.ModeDynamic:
		utils.Infof("🌐 动态渲染模式")
		return c.buildDynamicRenderer(parallel)

	case models.ModeAll:
		utils.Infof("🔍 静态渲染优先, 失败或没有商品容器时使用浏览器")
		dynamic, release, err := c.buildDynamicRenderer(parallel)
		if err != nil {
			return nil, nil, err
		}
		static := crawlers.NewCollyRenderer(c.config.Render, c.headers)
		return c.fallbackRenderer(static, dynamic), release, nil
	}
	return nil, nil, fmt.Errorf("无效的渲染模式: %s", mode)
}

// fallbackRenderer 静态内容中没有商品容器时交给浏览器重新渲染
func (c *Crawler) fallbackRenderer(static, dynamic crawlers.Renderer) *crawlers.FallbackRenderer {
	return crawlers.NewFallbackRenderer(static, dynamic).WithAccept(c.extractor.HasContainers)
}

// buildDynamicRenderer 启动浏览器, 标签页数量受worker数和系统资源共同限制
func (c *Crawler) buildDynamicRenderer(parallel int) (crawlers.Renderer, func(), error) {
	sessions := min(c.config.Crawl.Workers*max(parallel, 1), c.config.Resource.MaxSessions)

	var monitor *crawlers.ResourceMonitor
	var release func()
	if c.config.Resource.AutoScale {
		monitor = crawlers.NewResourceMonitor(c.resourceMonitorConfig())
		monitor.StartMonitoring(resourceSampleInterval)
		release = monitor.StopMonitoring

		if limit := monitor.MaxSessions(); limit < sessions {
			utils.Infof("⚙️  根据系统资源将浏览器标签页限制为 %d", limit)
			sessions = limit
		}
	}

	renderer, err := crawlers.NewRodRenderer(c.config.Render, c.headers, sessions, monitor)
	if err != nil {
		if release != nil {
			release()
		}
		return nil, nil, err
	}
	return renderer, release, nil
}

func (c *Crawler) resourceMonitorConfig() crawlers.ResourceMonitorConfig {
	return crawlers.ResourceMonitorConfig{
		SafetyReserveMemory: c.config.Resource.SafetyReserveMB * 1024 * 1024,
		SessionMemory:       c.config.Resource.SessionMemoryMB * 1024 * 1024,
		MaxSessions:         c.config.Resource.MaxSessions,
		CPULoadThreshold:    c.config.Resource.CPUThreshold,
	}
}

// robotsChecker 未启用robots.txt时返回nil
func (c *Crawler) robotsChecker() *crawlers.RobotsChecker {
	if !c.config.Crawl.RespectRobots {
		return nil
	}

	userAgent := DefaultUserAgent
	if c.headers != nil {
		if h, err := c.headers.GetHeaders(); err == nil && h.Get("User-Agent") != "" {
			userAgent = h.Get("User-Agent")
		}
	}
	return crawlers.NewRobotsChecker(nil, userAgent)
}

// pageObserver 返回页面完成回调和停止函数
func (c *Crawler) pageObserver() (func(crawlers.PageEvent), func()) {
	logEvent := func(ev crawlers.PageEvent) {
		if ev.Err != nil {
			utils.Debugf("页面失败 [深度 %d]: %s: %v", ev.Depth, ev.URL, ev.Err)
			return
		}
		utils.Debugf("页面完成 [深度 %d]: %s (商品 %d, 新链接 %d)", ev.Depth, ev.URL, ev.Records, ev.Links)
	}

	if c.progress == nil {
		return logEvent, func() {}
	}

	spinner := utils.NewPageSpinner("渲染页面", c.progress)
	var once sync.Once
	observe := func(ev crawlers.PageEvent) {
		logEvent(ev)
		_ = spinner.Add(1)
	}
	stop := func() {
		once.Do(func() { _ = spinner.Finish() })
	}
	return observe, stop
}
