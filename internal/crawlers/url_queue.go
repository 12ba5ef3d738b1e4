package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/bits-and-blooms/bloom/v3"
)

var (
	// ErrQueueClosed 队列已关闭
	ErrQueueClosed = errors.New("队列已关闭")
	// ErrAlreadyVisited URL已在本次运行中入队过
	ErrAlreadyVisited = errors.New("URL已访问")
	// ErrDepthExceeded 深度超过限制
	ErrDepthExceeded = errors.New("深度超过限制")
	// ErrCrossOrigin 与种子不同源
	ErrCrossOrigin = errors.New("跨域链接已过滤")
	// ErrUnsupportedURL 无法归一化的URL(非http协议等)
	ErrUnsupportedURL = errors.New("不支持的URL")
)

// URLQueue 本次运行的frontier和已访问集合
//
// 入队即视为已访问: Push 在同一把锁内完成"检查-插入-入队",
// 因此同一个归一化URL在一次运行中最多被Pop一次.
// 队列无容量上限, Push 从不阻塞.
//
// 每个入队目标在处理结束后必须调用一次 Done; 未完成数量归零时队列自动关闭,
// 所有阻塞在 Pop 上的worker随之返回 ErrQueueClosed.
type URLQueue struct {
	mu sync.Mutex

	pending []models.CrawlTarget

	// visited 精确集合, seen 为其前置的布隆过滤器
	visited map[string]struct{}
	seen    *bloom.BloomFilter

	origin   *url.URL
	maxDepth int

	// inFlight 已入队但尚未Done的目标数
	inFlight int
	closed   bool

	ready chan struct{}
	done  chan struct{}
}

// NewURLQueue 创建队列, 只接受与origin同源的URL
func NewURLQueue(origin *url.URL, maxDepth int) *URLQueue {
	return &URLQueue{
		pending:  make([]models.CrawlTarget, 0, 64),
		visited:  make(map[string]struct{}),
		seen:     bloom.NewWithEstimates(100_000, 0.001),
		origin:   origin,
		maxDepth: maxDepth,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push 归一化URL后检查深度、同源和已访问, 全部通过则入队
func (q *URLQueue) Push(rawURL string, depth int, source string) error {
	normalized, err := models.NormalizeURL(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if depth > q.maxDepth {
		return fmt.Errorf("%w: %d > %d", ErrDepthExceeded, depth, q.maxDepth)
	}
	if q.origin != nil && !models.SameOrigin(q.origin, parsed) {
		return fmt.Errorf("%w: %s", ErrCrossOrigin, parsed.Host)
	}
	if !q.tryVisitLocked(normalized) {
		return ErrAlreadyVisited
	}

	q.pending = append(q.pending, models.CrawlTarget{URL: normalized, Depth: depth, SourceURL: source})
	q.inFlight++
	q.signal()
	return nil
}

// tryVisitLocked 未访问时插入并返回true
func (q *URLQueue) tryVisitLocked(key string) bool {
	if q.seen.TestString(key) {
		if _, ok := q.visited[key]; ok {
			return false
		}
	}
	q.seen.AddString(key)
	q.visited[key] = struct{}{}
	return true
}

func (q *URLQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop 取出下一个目标, 队列为空时阻塞
// 队列关闭返回 ErrQueueClosed, ctx结束返回ctx错误
func (q *URLQueue) Pop(ctx context.Context) (models.CrawlTarget, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			target := q.pending[0]
			q.pending[0] = models.CrawlTarget{}
			q.pending = q.pending[1:]
			if len(q.pending) > 0 {
				// 唤醒下一个等待者
				q.signal()
			}
			q.mu.Unlock()
			return target, nil
		}
		if q.closed {
			q.mu.Unlock()
			return models.CrawlTarget{}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.CrawlTarget{}, ctx.Err()
		case <-q.done:
		case <-q.ready:
		}
	}
}

// Done 标记一个已入队目标处理结束
// 必须在该目标的子链接全部Push之后调用
func (q *URLQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight > 0 {
		q.inFlight--
	}
	if q.inFlight == 0 {
		q.closeLocked()
	}
}

// Close 关闭队列, 之后的Push返回 ErrQueueClosed, 剩余目标仍可通过 Drain 取出
func (q *URLQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closeLocked()
}

func (q *URLQueue) closeLocked() {
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

// Drain 取出并清空所有未调度的目标
func (q *URLQueue) Drain() []models.CrawlTarget {
	q.mu.Lock()
	defer q.mu.Unlock()

	rest := q.pending
	q.pending = nil
	return rest
}

// PendingCount 待处理目标数量
func (q *URLQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsVisited URL是否已入队过
func (q *URLQueue) IsVisited(rawURL string) bool {
	normalized, err := models.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.visited[normalized]
	return ok
}
