package crawlers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// requireBrowser 本机没有Chrome/Chromium时跳过
func requireBrowser(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("short模式跳过浏览器测试")
	}
	if _, ok := launcher.LookPath(); !ok {
		t.Skip("未找到Chrome/Chromium, 跳过浏览器测试")
	}
}

func launchTestBrowser(t *testing.T) *rod.Browser {
	t.Helper()
	requireBrowser(t)

	browser, err := launchBrowser(true)
	if err != nil {
		t.Fatalf("启动浏览器失败: %v", err)
	}
	t.Cleanup(func() { _ = browser.Close() })
	return browser
}

func TestPagePool_AcquireRelease(t *testing.T) {
	pool := NewPagePool(launchTestBrowser(t), 2, nil)
	ctx := context.Background()

	p1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire失败: %v", err)
	}
	p2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire失败: %v", err)
	}
	if pool.Size() != 2 || pool.MaxSize() != 2 {
		t.Errorf("Size() = %d, MaxSize() = %d, 期望 2/2", pool.Size(), pool.MaxSize())
	}

	t.Run("池满时阻塞到ctx结束", func(t *testing.T) {
		timeoutCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		if _, err := pool.Acquire(timeoutCtx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Acquire() = %v, 期望 DeadlineExceeded", err)
		}
	})

	t.Run("健康的标签页被复用", func(t *testing.T) {
		pool.Release(p1, true)
		p3, err := pool.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire失败: %v", err)
		}
		if p3 != p1 {
			t.Error("期望复用归还的标签页")
		}
		if pool.Size() != 2 {
			t.Errorf("Size() = %d, 期望 2", pool.Size())
		}
		pool.Release(p3, true)
	})

	t.Run("不健康的标签页被销毁", func(t *testing.T) {
		pool.Release(p2, false)
		if pool.Size() != 1 {
			t.Errorf("Size() = %d, 期望 1", pool.Size())
		}
	})

	if err := pool.Close(); err != nil {
		t.Fatalf("Close失败: %v", err)
	}
	if pool.Size() != 0 {
		t.Errorf("关闭后 Size() = %d, 期望 0", pool.Size())
	}
	if _, err := pool.Acquire(ctx); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("关闭后 Acquire() = %v, 期望 ErrPoolClosed", err)
	}
}

// TestPagePool_Limit 并发借用时标签页数量不超过上限
func TestPagePool_Limit(t *testing.T) {
	pool := NewPagePool(launchTestBrowser(t), 3, nil)
	defer pool.Close()

	var peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				page, err := pool.Acquire(context.Background())
				if err != nil {
					t.Errorf("Acquire失败: %v", err)
					return
				}
				size := int64(pool.Size())
				for {
					old := peak.Load()
					if size <= old || peak.CompareAndSwap(old, size) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				pool.Release(page, j%2 == 0)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > int64(pool.MaxSize()) {
		t.Errorf("标签页数峰值 = %d, 超过上限 %d", got, pool.MaxSize())
	}
	if pool.Size() > pool.MaxSize() {
		t.Errorf("Size() = %d, 超过上限 %d", pool.Size(), pool.MaxSize())
	}
}
