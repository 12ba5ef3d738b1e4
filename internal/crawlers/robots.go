package crawlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/models"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"
)

// RobotsChecker 按源缓存robots.txt规则
// 获取或解析失败时放行
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	cache     *lru.Cache[string, *robotstxt.RobotsData]
}

// NewRobotsChecker 创建检查器, client为nil时使用10秒超时的默认客户端
func NewRobotsChecker(client *http.Client, userAgent string) *RobotsChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cache, _ := lru.New[string, *robotstxt.RobotsData](256)
	return &RobotsChecker{client: client, userAgent: userAgent, cache: cache}
}

// Allowed target是否被robots.txt允许
func (r *RobotsChecker) Allowed(ctx context.Context, target string) bool {
	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() {
		return false
	}

	data, err := r.rules(ctx, u)
	if err != nil {
		log.Debug().Err(err).Str("url", target).Msg("读取robots.txt失败, 默认放行")
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, r.userAgent)
}

func (r *RobotsChecker) rules(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	origin := models.Origin(u)
	if data, ok := r.cache.Get(origin); ok {
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("构建robots请求失败: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("获取robots.txt失败: %w", err)
	}
	defer resp.Body.Close()

	// 4xx 视为全部允许, 5xx 视为全部禁止
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("解析robots.txt失败: %w", err)
	}

	r.cache.Add(origin, data)
	return data, nil
}
