package crawlers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/models"
	"golang.org/x/time/rate"
)

// DomainLimiter 同源请求节流: 最小间隔 + 可选的令牌桶限速
// 两者都未配置时 Wait 立即返回
type DomainLimiter struct {
	delay    time.Duration
	limit    models.RateLimitConfig
	limitOn  bool
	mu       sync.Mutex
	last     map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewDomainLimiter 创建节流器
func NewDomainLimiter(minDelay time.Duration, limit models.RateLimitConfig) *DomainLimiter {
	return &DomainLimiter{
		delay:    minDelay,
		limit:    limit,
		limitOn:  limit.Requests > 0 && limit.Window > 0,
		last:     make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Enabled 是否配置了任何节流规则
func (d *DomainLimiter) Enabled() bool {
	return d != nil && (d.delay > 0 || d.limitOn)
}

// Wait 阻塞直到host允许发出下一个请求
func (d *DomainLimiter) Wait(ctx context.Context, host string) error {
	if !d.Enabled() || host == "" {
		return nil
	}
	host = strings.ToLower(host)

	var sleep time.Duration
	var limiter *rate.Limiter

	d.mu.Lock()
	if d.delay > 0 {
		if last, ok := d.last[host]; ok {
			if rest := time.Until(last.Add(d.delay)); rest > 0 {
				sleep = rest
			}
		}
		// 先占位, 并发的等待者按顺序排开
		d.last[host] = time.Now().Add(sleep)
	}
	if d.limitOn {
		limiter = d.limiterLocked(host)
	}
	d.mu.Unlock()

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if limiter != nil {
		return limiter.Wait(ctx)
	}
	return nil
}

func (d *DomainLimiter) limiterLocked(host string) *rate.Limiter {
	if limiter, ok := d.limiters[host]; ok {
		return limiter
	}
	interval := d.limit.Window / time.Duration(d.limit.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Every(interval), d.limit.Requests)
	d.limiters[host] = limiter
	return limiter
}
