package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/metrics"
	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/RecoveryAshes/productcrawl/internal/pipeline"
	"github.com/RecoveryAshes/productcrawl/internal/utils"
	"github.com/rs/zerolog/log"
)

// RecordExtractor 从渲染后的DOM中提取商品记录
type RecordExtractor interface {
	Extract(content string, pageURL string) ([]models.ProductRecord, error)
}

// PageEvent 单个页面处理结束的通知
type PageEvent struct {
	URL     string
	Depth   int
	Records int // 本页提取的记录数
	Links   int // 本页新入队的链接数
	Err     error
}

// EngineOptions 遍历引擎依赖
type EngineOptions struct {
	Config    models.CrawlConfig
	Renderer  Renderer
	Extractor RecordExtractor

	// 以下可选
	Robots  *RobotsChecker // Config.RespectRobots 为true时使用
	Metrics *metrics.Metrics
	OnPage  func(PageEvent)
}

// Engine 遍历引擎
// 固定数量的worker从无界frontier中取目标, 每个目标: 限速 -> 渲染(重试) -> 提取 -> 收集链接 -> 入队
type Engine struct {
	config    models.CrawlConfig
	renderer  Renderer
	extractor RecordExtractor
	robots    *RobotsChecker
	limiter   *DomainLimiter
	metrics   *metrics.Metrics
	onPage    func(PageEvent)
}

// NewEngine 创建遍历引擎
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Renderer == nil {
		return nil, fmt.Errorf("渲染器不能为空")
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("提取器不能为空")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("遍历配置无效: %w", err)
	}

	robots := opts.Robots
	if !opts.Config.RespectRobots {
		robots = nil
	}

	return &Engine{
		config:    opts.Config,
		renderer:  opts.Renderer,
		extractor: opts.Extractor,
		robots:    robots,
		limiter:   NewDomainLimiter(opts.Config.MinDelay, opts.Config.RateLimit),
		metrics:   opts.Metrics,
		onPage:    opts.OnPage,
	}, nil
}

// crawlRun 单次运行的共享状态
type crawlRun struct {
	queue     *URLQueue
	links     *LinkCollector
	agg       *pipeline.Aggregator
	governor  *Governor
	maxDepth  int
	seedURL   string
	startTime time.Time

	mu       sync.Mutex
	stats    models.TaskStats
	failures []models.PageFailure
	rootErr  error
}

func (r *crawlRun) update(fn func(s *models.TaskStats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

// Run 从种子URL开始遍历, 直到frontier耗尽、运行截止时间到达或ctx取消
//
// 返回的结果总是非nil (种子URL无效时除外):
//   - 种子页面重试后仍失败: 返回匹配 models.ErrRootUnreachable 的错误, 记录为空
//   - ctx取消: 返回部分结果和ctx错误
//   - 截止时间到达: 返回部分结果, Truncated为true, 不视为错误
func (e *Engine) Run(ctx context.Context, seedURL string) (*models.CrawlResult, error) {
	normalized, err := models.NormalizeURL(seedURL)
	if err != nil {
		return nil, fmt.Errorf("种子URL无效: %w", err)
	}
	origin, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("种子URL无效: %w", err)
	}

	run := &crawlRun{
		queue:     NewURLQueue(origin, e.config.MaxDepth),
		links:     NewLinkCollector(origin, e.config.SkipPathKeywords),
		agg:       pipeline.NewAggregator(),
		governor:  NewGovernor(e.config, e.metrics),
		maxDepth:  e.config.MaxDepth,
		seedURL:   normalized,
		startTime: time.Now(),
	}

	if err := run.queue.Push(normalized, 0, ""); err != nil {
		return nil, fmt.Errorf("种子URL入队失败: %w", err)
	}
	run.stats.LinksEnqueued = 1
	e.metrics.IncLink("enqueued")

	// runCtx 只控制是否继续取新目标, 进行中的页面使用ctx以便截止时自然收尾
	var runCtx context.Context
	var cancel context.CancelFunc
	if e.config.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.config.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	workers := e.config.Workers
	if workers < 1 {
		workers = 1
	}

	utils.Infof("开始遍历: %s (最大深度: %d, 并发: %d, 渲染器: %s)",
		normalized, e.config.MaxDepth, workers, e.renderer.Name())

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.worker(ctx, runCtx, run, id)
		}(i)
	}
	wg.Wait()

	abandoned := run.queue.Drain()
	run.queue.Close()

	return e.finish(ctx, runCtx, run, abandoned)
}

func (e *Engine) worker(ctx, runCtx context.Context, run *crawlRun, id int) {
	for {
		// 截止后不再取新目标, 即使队列中仍有待处理项
		if runCtx.Err() != nil {
			return
		}
		target, err := run.queue.Pop(runCtx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) {
				log.Debug().Int("worker", id).Err(err).Msg("worker停止取新目标")
			}
			return
		}

		e.processTarget(ctx, run, target)
		run.queue.Done()
		e.metrics.SetQueueDepth(run.queue.PendingCount())
	}
}

// processTarget 处理单个目标, 子链接在返回前全部入队
func (e *Engine) processTarget(ctx context.Context, run *crawlRun, target models.CrawlTarget) {
	e.metrics.PageStarted()
	defer e.metrics.PageFinished()

	run.update(func(s *models.TaskStats) { s.VisitedPages++ })

	host := ""
	if u, err := url.Parse(target.URL); err == nil {
		host = u.Host
	}

	content, err := Retry(ctx, run.governor, target.URL, func(ctx context.Context) (string, error) {
		if err := e.limiter.Wait(ctx, host); err != nil {
			return "", err
		}
		start := time.Now()
		html, err := e.renderer.Render(ctx, target.URL)
		e.metrics.ObserveRender(e.renderer.Name(), time.Since(start))
		return html, err
	})
	if err != nil {
		if ctx.Err() != nil {
			// 调用方取消, 不记为页面失败
			return
		}
		e.recordFailure(run, target, err)
		return
	}

	records, err := e.extractor.Extract(content, target.URL)
	if err != nil {
		log.Warn().Err(err).Str("url", target.URL).Msg("商品提取失败")
		records = nil
	}
	added := run.agg.Add(records)
	e.metrics.AddRecords(len(records), added)

	outcome := "rendered"
	if len(records) == 0 {
		outcome = "empty"
	}
	e.metrics.IncPage(outcome)

	enqueued := 0
	if target.Depth < run.maxDepth {
		enqueued = e.enqueueChildren(ctx, run, target, content)
	}

	run.update(func(s *models.TaskStats) {
		s.RenderedPages++
		s.RecordsExtracted += len(records)
		if len(records) == 0 {
			s.EmptyPages++
		}
	})

	log.Debug().
		Str("url", target.URL).
		Int("depth", target.Depth).
		Int("records", len(records)).
		Int("new_records", added).
		Int("links", enqueued).
		Msg("页面处理完成")

	e.notify(PageEvent{URL: target.URL, Depth: target.Depth, Records: len(records), Links: enqueued})
}

// enqueueChildren 收集同源链接并以 depth+1 入队, 返回新入队数量
func (e *Engine) enqueueChildren(ctx context.Context, run *crawlRun, target models.CrawlTarget, content string) int {
	links, err := run.links.Collect(content, target.URL)
	if err != nil {
		log.Warn().Err(err).Str("url", target.URL).Msg("链接收集失败")
		return 0
	}

	var enqueued, visited, depth, robots int
	for _, link := range links {
		if e.robots != nil {
			if run.queue.IsVisited(link) {
				visited++
				e.metrics.IncLink("visited")
				continue
			}
			if !e.robots.Allowed(ctx, link) {
				robots++
				e.metrics.IncLink("robots")
				continue
			}
		}

		err := run.queue.Push(link, target.Depth+1, target.URL)
		switch {
		case err == nil:
			enqueued++
			e.metrics.IncLink("enqueued")
		case errors.Is(err, ErrAlreadyVisited):
			visited++
			e.metrics.IncLink("visited")
		case errors.Is(err, ErrDepthExceeded):
			depth++
			e.metrics.IncLink("depth")
		default:
			log.Debug().Err(err).Str("link", link).Msg("链接未入队")
		}
	}

	run.update(func(s *models.TaskStats) {
		s.LinksEnqueued += enqueued
		s.SkippedVisited += visited
		s.SkippedDepth += depth
		s.SkippedRobots += robots
	})
	return enqueued
}

func (e *Engine) recordFailure(run *crawlRun, target models.CrawlTarget, err error) {
	errType := ClassifyError(err)
	e.metrics.IncPage("failed")

	log.Error().Err(err).
		Str("url", target.URL).
		Int("depth", target.Depth).
		Str("error_type", errType).
		Msg("页面渲染失败")

	run.mu.Lock()
	run.stats.FailedPages++
	run.failures = append(run.failures, models.PageFailure{
		URL:       target.URL,
		Depth:     target.Depth,
		ErrorType: errType,
		ErrorMsg:  err.Error(),
	})
	if target.Depth == 0 {
		run.rootErr = &models.RootError{URL: target.URL, Cause: err}
	}
	run.mu.Unlock()

	e.notify(PageEvent{URL: target.URL, Depth: target.Depth, Err: err})
}

func (e *Engine) notify(ev PageEvent) {
	if e.onPage != nil {
		e.onPage(ev)
	}
}

func (e *Engine) finish(ctx, runCtx context.Context, run *crawlRun, abandoned []models.CrawlTarget) (*models.CrawlResult, error) {
	run.mu.Lock()
	defer run.mu.Unlock()

	stats := run.stats
	stats.Retries = run.governor.Retries()
	stats.AbandonedTargets = len(abandoned)
	stats.Duration = time.Since(run.startTime).Seconds()

	result := &models.CrawlResult{
		SeedURL:     run.seedURL,
		Records:     run.agg.Records(),
		FailedPages: run.failures,
	}

	if run.rootErr != nil {
		result.Records = []models.ProductRecord{}
		result.Stats = stats
		utils.Errorf("种子页面无法访问, 运行失败: %s", run.seedURL)
		return result, run.rootErr
	}

	stats.UniqueRecords = len(result.Records)
	stats.DuplicateRecords = run.agg.Duplicates()
	result.Stats = stats

	if err := ctx.Err(); err != nil {
		utils.Warnf("遍历被中断: 已渲染 %d 个页面, 收集 %d 条商品", stats.RenderedPages, stats.UniqueRecords)
		return result, fmt.Errorf("遍历被中断: %w", err)
	}

	if runCtx.Err() != nil && len(abandoned) > 0 {
		result.Truncated = true
		utils.Warnf("已到达运行截止时间, %d 个目标未被调度", len(abandoned))
	}

	utils.Infof("遍历完成: 访问 %d, 成功 %d, 失败 %d, 商品 %d (耗时 %.1fs)",
		stats.VisitedPages, stats.RenderedPages, stats.FailedPages, stats.UniqueRecords, stats.Duration)
	return result, nil
}
