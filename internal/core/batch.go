package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/crawlers"
	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/RecoveryAshes/productcrawl/internal/utils"
	"golang.org/x/sync/errgroup"
)

// ErrBatchSkipped 批量任务中止后未执行的URL
var ErrBatchSkipped = errors.New("批量爬取已中止, 未执行")

// BatchCrawler 批量爬取器
// 多个种子并发爬取, 并发数由 concurrency 限制
type BatchCrawler struct {
	crawler       *Crawler
	concurrency   int
	continueOnErr bool

	// progress 进度条输出, nil时使用标准输出
	progress io.Writer

	// newRenderer 创建批量共享的渲染器, nil时使用 crawler.buildRenderer
	newRenderer func(mode models.CrawlMode, parallel int) (crawlers.Renderer, func(), error)
}

// BatchResult 批量爬取结果
type BatchResult struct {
	URL         string
	Success     bool
	Skipped     bool
	Error       error
	Report      *models.CrawlReport
	ProcessedAt time.Time
	Duration    float64
}

// BatchSummary 批量爬取摘要
type BatchSummary struct {
	TotalURLs     int
	SuccessCount  int
	FailCount     int
	SkippedCount  int
	TotalRecords  int
	TotalPages    int
	TotalDuration float64
	Results       []BatchResult
}

// NewBatchCrawler 创建批量爬取器
// concurrency小于1时按1处理; continueOnErr为false时第一个失败会取消其余任务
func NewBatchCrawler(crawler *Crawler, concurrency int, continueOnErr bool) *BatchCrawler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchCrawler{
		crawler:       crawler,
		concurrency:   concurrency,
		continueOnErr: continueOnErr,
	}
}

// WithProgress 设置进度条输出
func (bc *BatchCrawler) WithProgress(w io.Writer) *BatchCrawler {
	bc.progress = w
	return bc
}

// CrawlBatch 批量爬取URL列表
// 所有种子共享同一个渲染器(动态模式下即同一个浏览器进程).
// 结果按输入顺序返回. continueOnErr为false时返回第一个失败的错误
func (bc *BatchCrawler) CrawlBatch(ctx context.Context, urls []string) (*BatchSummary, error) {
	utils.Infof("🚀 开始批量爬取: %d个URL (并发: %d)", len(urls), bc.concurrency)

	build := bc.newRenderer
	if build == nil {
		build = bc.crawler.buildRenderer
	}
	mode, err := models.ParseCrawlMode(string(bc.crawler.config.Crawl.Mode))
	if err != nil {
		return nil, err
	}
	renderer, release, err := build(mode, bc.concurrency)
	if err != nil {
		return nil, fmt.Errorf("创建渲染器失败: %w", err)
	}
	defer closeRenderer(renderer, release)

	summary := &BatchSummary{
		TotalURLs: len(urls),
		Results:   make([]BatchResult, len(urls)),
	}
	startTime := time.Now()

	bar := utils.NewProgressBar(len(urls), "批量爬取", bc.progress)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bc.concurrency)

	for i, targetURL := range urls {
		g.Go(func() error {
			defer func() { _ = bar.Add(1) }()

			if gctx.Err() != nil {
				summary.Results[i] = BatchResult{URL: targetURL, Skipped: true, Error: ErrBatchSkipped}
				return nil
			}

			result := bc.crawlSingleURL(gctx, targetURL, renderer)
			summary.Results[i] = result

			if !result.Success {
				utils.Errorf("❌ 爬取失败 [%s]: %v", targetURL, result.Error)
				if !bc.continueOnErr {
					return fmt.Errorf("爬取 %s 失败: %w", targetURL, result.Error)
				}
			}
			return nil
		})
	}

	err = g.Wait()
	_ = bar.Finish()

	for _, result := range summary.Results {
		switch {
		case result.Skipped:
			summary.SkippedCount++
		case result.Success:
			summary.SuccessCount++
		default:
			summary.FailCount++
		}
		if result.Report != nil {
			summary.TotalRecords += result.Report.Stats.UniqueRecords
			summary.TotalPages += result.Report.Stats.RenderedPages
		}
	}
	summary.TotalDuration = time.Since(startTime).Seconds()

	bc.printSummary(summary)

	if err != nil {
		utils.Warn("批量爬取中止 (--continue-on-error=false)")
		return summary, err
	}
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

// crawlSingleURL 爬取单个URL
func (bc *BatchCrawler) crawlSingleURL(ctx context.Context, targetURL string, renderer crawlers.Renderer) BatchResult {
	result := BatchResult{
		URL:         targetURL,
		ProcessedAt: time.Now(),
	}

	report, err := bc.crawler.crawl(ctx, targetURL, renderer)
	result.Report = report
	result.Duration = time.Since(result.ProcessedAt).Seconds()
	if err != nil {
		result.Error = err
		return result
	}

	result.Success = true
	return result
}

// printSummary 打印批量爬取摘要
func (bc *BatchCrawler) printSummary(summary *BatchSummary) {
	utils.Info("==================================================")
	utils.Info("📊 批量爬取摘要")
	utils.Info("==================================================")
	utils.Infof("总URL数: %d", summary.TotalURLs)
	utils.Infof("✅ 成功: %d", summary.SuccessCount)
	utils.Infof("❌ 失败: %d", summary.FailCount)
	if summary.SkippedCount > 0 {
		utils.Infof("⏭️  跳过: %d", summary.SkippedCount)
	}
	utils.Infof("📦 商品总数: %d", summary.TotalRecords)
	utils.Infof("📄 渲染页面: %d", summary.TotalPages)
	utils.Infof("⏱️  总耗时: %.2f秒", summary.TotalDuration)
	utils.Info("==================================================")

	if summary.FailCount > 0 {
		utils.Warn("失败的URL:")
		for _, result := range summary.Results {
			if !result.Success && !result.Skipped {
				utils.Warnf("  - %s: %v", result.URL, result.Error)
			}
		}
	}
}
