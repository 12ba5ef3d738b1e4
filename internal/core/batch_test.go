package core

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/RecoveryAshes/productcrawl/internal/crawlers"
	"github.com/RecoveryAshes/productcrawl/internal/models"
)

// closedServerURL 返回一个已关闭服务器的地址, 连接会被拒绝
func closedServerURL() string {
	server := httptest.NewServer(nil)
	u := server.URL
	server.Close()
	return u
}

// closingRenderer 可并发使用的stubRenderer, 记录关闭次数
type closingRenderer struct {
	stubRenderer
	mu     sync.Mutex
	closed int
}

func (r *closingRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stubRenderer.Render(ctx, pageURL)
}

func (r *closingRenderer) Close() error {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	return nil
}

func (r *closingRenderer) renderCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestBatchCrawler(t *testing.T, concurrency int, continueOnErr bool) *BatchCrawler {
	t.Helper()
	config := testCoreConfig(t)
	config.Output.Formats = []string{"json"}
	crawler, err := NewCrawler(config, nil, nil)
	if err != nil {
		t.Fatalf("NewCrawler失败: %v", err)
	}
	return NewBatchCrawler(crawler, concurrency, continueOnErr).WithProgress(io.Discard)
}

func TestBatchCrawler_ContinueOnError(t *testing.T) {
	good := newCatalogServer(t)
	other := newCatalogServer(t)
	bad := closedServerURL()

	bc := newTestBatchCrawler(t, 2, true)
	urls := []string{good.URL, bad, other.URL}

	summary, err := bc.CrawlBatch(context.Background(), urls)
	if err != nil {
		t.Fatalf("continueOnErr时不应返回错误: %v", err)
	}

	if summary.TotalURLs != 3 || summary.SuccessCount != 2 || summary.FailCount != 1 {
		t.Errorf("summary = %+v, 期望 3个URL, 成功2, 失败1", summary)
	}
	if summary.TotalRecords != 4 {
		t.Errorf("TotalRecords = %d, 期望 4", summary.TotalRecords)
	}

	// 结果保持输入顺序
	for i, result := range summary.Results {
		if result.URL != urls[i] {
			t.Errorf("Results[%d].URL = %s, 期望 %s", i, result.URL, urls[i])
		}
	}
	if !errors.Is(summary.Results[1].Error, models.ErrRootUnreachable) {
		t.Errorf("Results[1].Error = %v, 期望匹配 ErrRootUnreachable", summary.Results[1].Error)
	}
}

func TestBatchCrawler_StopOnError(t *testing.T) {
	good := newCatalogServer(t)
	bad := closedServerURL()

	bc := newTestBatchCrawler(t, 1, false)
	summary, err := bc.CrawlBatch(context.Background(), []string{bad, good.URL})
	if !errors.Is(err, models.ErrRootUnreachable) {
		t.Fatalf("err = %v, 期望匹配 ErrRootUnreachable", err)
	}

	if summary.FailCount != 1 || summary.SkippedCount != 1 || summary.SuccessCount != 0 {
		t.Errorf("summary = %+v, 期望 失败1 跳过1", summary)
	}
	if !summary.Results[1].Skipped || !errors.Is(summary.Results[1].Error, ErrBatchSkipped) {
		t.Errorf("Results[1] = %+v, 期望被跳过", summary.Results[1])
	}
}

func TestBatchCrawler_Cancelled(t *testing.T) {
	good := newCatalogServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bc := newTestBatchCrawler(t, 1, true)
	summary, err := bc.CrawlBatch(ctx, []string{good.URL})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, 期望 context.Canceled", err)
	}
	if summary.SuccessCount != 0 {
		t.Errorf("SuccessCount = %d, 期望 0", summary.SuccessCount)
	}
}

// TestBatchCrawler_SharedRenderer 整个批次只创建和关闭一次渲染器
func TestBatchCrawler_SharedRenderer(t *testing.T) {
	bc := newTestBatchCrawler(t, 2, true)

	shared := &closingRenderer{stubRenderer: stubRenderer{content: catalogChairs}}
	builds, released := 0, 0
	bc.newRenderer = func(mode models.CrawlMode, parallel int) (crawlers.Renderer, func(), error) {
		builds++
		if parallel != 2 {
			t.Errorf("parallel = %d, 期望 2", parallel)
		}
		return shared, func() { released++ }, nil
	}

	urls := []string{"https://a.example.com/", "https://b.example.com/", "https://c.example.com/"}
	summary, err := bc.CrawlBatch(context.Background(), urls)
	if err != nil {
		t.Fatalf("CrawlBatch失败: %v", err)
	}

	if summary.SuccessCount != 3 || summary.TotalRecords != 6 {
		t.Errorf("summary = %+v, 期望成功3, 商品6", summary)
	}
	if builds != 1 || shared.closed != 1 || released != 1 {
		t.Errorf("builds = %d, closed = %d, released = %d, 期望各 1", builds, shared.closed, released)
	}
	if n := shared.renderCalls(); n != 3 {
		t.Errorf("渲染次数 = %d, 期望 3", n)
	}
}

func TestBatchCrawler_RendererError(t *testing.T) {
	bc := newTestBatchCrawler(t, 1, true)
	bc.newRenderer = func(models.CrawlMode, int) (crawlers.Renderer, func(), error) {
		return nil, nil, errors.New("浏览器启动失败")
	}

	if _, err := bc.CrawlBatch(context.Background(), []string{"https://a.example.com/"}); err == nil {
		t.Error("渲染器创建失败时应返回错误")
	}
}

func TestNewBatchCrawler_Concurrency(t *testing.T) {
	if bc := NewBatchCrawler(nil, 0, true); bc.concurrency != 1 {
		t.Errorf("concurrency = %d, 期望 1", bc.concurrency)
	}
}
