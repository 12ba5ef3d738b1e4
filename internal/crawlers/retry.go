package crawlers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/metrics"
	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrRetriesExhausted 所有尝试都失败
var ErrRetriesExhausted = errors.New("重试次数已用尽")

// Governor 重试策略: 最多 Attempts 次尝试, 两次尝试之间指数退避
type Governor struct {
	Attempts   int
	Backoff    time.Duration // 首次重试前等待, 0表示不等待
	MaxBackoff time.Duration // 等待上限, 0表示不限

	Metrics *metrics.Metrics

	retries atomic.Int64
}

// NewGovernor 根据遍历配置创建重试策略
func NewGovernor(config models.CrawlConfig, m *metrics.Metrics) *Governor {
	return &Governor{
		Attempts:   config.Retries,
		Backoff:    config.RetryBackoff,
		MaxBackoff: config.RetryBackoffMax,
		Metrics:    m,
	}
}

// Retries 累计重试次数(不含首次尝试)
func (g *Governor) Retries() int {
	return int(g.retries.Load())
}

func (g *Governor) attempts() int {
	if g.Attempts < 1 {
		return 1
	}
	return g.Attempts
}

// delay 第attempt次失败后的等待时间
func (g *Governor) delay(attempt int) time.Duration {
	if g.Backoff <= 0 {
		return 0
	}
	d := g.Backoff << (attempt - 1)
	if d <= 0 || (g.MaxBackoff > 0 && d > g.MaxBackoff) {
		d = g.MaxBackoff
	}
	return d
}

// Retry 执行op直到成功或尝试次数用尽
//   - 成功: 返回第一次成功的结果
//   - 用尽: 返回匹配 ErrRetriesExhausted 的错误, 同时包装最后一次失败
//   - ctx取消: 立即返回ctx错误, 不视为用尽
func Retry[T any](ctx context.Context, g *Governor, label string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := g.attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		lastErr = err
		g.Metrics.IncRenderFailure(ClassifyError(err))
		log.Warn().Err(err).
			Str("target", label).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("尝试失败")

		if attempt == attempts {
			break
		}

		g.retries.Add(1)
		g.Metrics.IncRetries()

		if d := g.delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return zero, fmt.Errorf("%w [%s] 共尝试%d次: %w", ErrRetriesExhausted, label, attempts, lastErr)
}
