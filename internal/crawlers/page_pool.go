package crawlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// ErrPoolClosed 标签页池已关闭
var ErrPoolClosed = errors.New("标签页池已关闭")

// maxCleanFailures 清理连续失败达到该次数后销毁标签页
const maxCleanFailures = 2

// PagePool 标签页池
// 最多同时借出 maxSize 个标签页, 归还时清理存储和cookie后复用
type PagePool struct {
	browser *rod.Browser
	monitor *ResourceMonitor

	slots chan struct{}
	idle  chan *rod.Page

	mu            sync.Mutex
	cleanFailures map[*rod.Page]int
	closed        bool
}

// NewPagePool 创建标签页池, monitor可以为nil
func NewPagePool(browser *rod.Browser, maxSize int, monitor *ResourceMonitor) *PagePool {
	if maxSize < 1 {
		maxSize = 1
	}
	return &PagePool{
		browser:       browser,
		monitor:       monitor,
		slots:         make(chan struct{}, maxSize),
		idle:          make(chan *rod.Page, maxSize),
		cleanFailures: make(map[*rod.Page]int),
	}
}

// Acquire 借出一个标签页, 池满时阻塞直到有归还或ctx结束
func (pp *PagePool) Acquire(ctx context.Context) (*rod.Page, error) {
	select {
	case pp.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	pp.mu.Lock()
	closed := pp.closed
	existing := len(pp.cleanFailures)
	pp.mu.Unlock()
	if closed {
		<-pp.slots
		return nil, ErrPoolClosed
	}

	select {
	case page := <-pp.idle:
		return page, nil
	default:
	}

	// 资源紧张且已有标签页时, 先等一会儿复用
	if pp.monitor != nil && existing > 0 {
		if ok, reason := pp.monitor.CheckResourceAvailability(); !ok {
			log.Warn().Msgf("资源不足, 暂缓创建新标签页: %s", reason)
			timer := time.NewTimer(2 * time.Second)
			select {
			case page := <-pp.idle:
				timer.Stop()
				return page, nil
			case <-ctx.Done():
				timer.Stop()
				<-pp.slots
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	page, err := pp.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		<-pp.slots
		log.Error().Err(err).Msg("创建标签页失败, 浏览器可能已崩溃")
		return nil, fmt.Errorf("创建标签页失败(浏览器可能已崩溃): %w", err)
	}

	pp.mu.Lock()
	pp.cleanFailures[page] = 0
	size := len(pp.cleanFailures)
	pp.mu.Unlock()

	log.Debug().Msgf("创建新标签页, 当前标签页数: %d, 最大限制: %d", size, cap(pp.slots))
	return page, nil
}

// Release 归还标签页
// healthy为false(渲染中出现panic等)时直接销毁
func (pp *PagePool) Release(page *rod.Page, healthy bool) {
	if page == nil {
		return
	}
	defer func() { <-pp.slots }()

	pp.mu.Lock()
	closed := pp.closed
	pp.mu.Unlock()

	if closed || !healthy {
		pp.destroyPage(page)
		return
	}

	if err := cleanPage(page); err != nil {
		pp.mu.Lock()
		pp.cleanFailures[page]++
		failures := pp.cleanFailures[page]
		pp.mu.Unlock()

		log.Warn().Err(err).Msgf("清理标签页状态失败 (连续第%d次)", failures)
		if failures >= maxCleanFailures {
			pp.destroyPage(page)
			return
		}
	} else {
		pp.mu.Lock()
		pp.cleanFailures[page] = 0
		pp.mu.Unlock()
	}

	select {
	case pp.idle <- page:
	default:
		pp.destroyPage(page)
	}
}

// cleanPage 清理存储和cookie
func cleanPage(page *rod.Page) error {
	p := page.Timeout(5 * time.Second)
	defer p.CancelTimeout()

	_, err := p.Evaluate(&rod.EvalOptions{
		JS: `() => {
			try { if (window.localStorage) localStorage.clear(); } catch (e) {}
			try { if (window.sessionStorage) sessionStorage.clear(); } catch (e) {}
			try {
				document.cookie.split(";").forEach(function (c) {
					var name = c.split("=")[0].trim();
					if (name) document.cookie = name + "=;expires=Thu, 01 Jan 1970 00:00:00 UTC;path=/";
				});
			} catch (e) {}
			return true;
		}`,
	})
	if err != nil {
		return fmt.Errorf("清理标签页状态失败: %w", err)
	}
	return nil
}

func (pp *PagePool) destroyPage(page *rod.Page) {
	pp.mu.Lock()
	delete(pp.cleanFailures, page)
	size := len(pp.cleanFailures)
	pp.mu.Unlock()

	if err := page.Close(); err != nil {
		log.Warn().Err(err).Msg("关闭标签页失败")
	}
	log.Debug().Msgf("销毁标签页, 当前标签页数: %d", size)
}

// Size 当前存在的标签页数量
func (pp *PagePool) Size() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.cleanFailures)
}

// MaxSize 最大同时借出数量
func (pp *PagePool) MaxSize() int {
	return cap(pp.slots)
}

// Close 关闭所有空闲标签页, 借出中的标签页在归还时销毁
func (pp *PagePool) Close() error {
	pp.mu.Lock()
	if pp.closed {
		pp.mu.Unlock()
		return nil
	}
	pp.closed = true
	pp.mu.Unlock()

	for {
		select {
		case page := <-pp.idle:
			pp.destroyPage(page)
		default:
			log.Debug().Msg("标签页池已关闭")
			return nil
		}
	}
}
