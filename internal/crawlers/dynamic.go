package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/RecoveryAshes/productcrawl/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// DefaultPopupLabels 渲染后自动点击的弹窗按钮文本(年龄确认、位置授权等)
var DefaultPopupLabels = []string{"YES", "Allow while visiting the site"}

// 由浏览器自行管理, 不通过 extra headers 发送
var browserManagedHeaders = map[string]bool{
	"User-Agent":      true,
	"Accept-Encoding": true,
}

const autoScrollJS = `(step, interval, maxSteps) => new Promise((resolve) => {
	let distance = 0;
	let steps = 0;
	const timer = setInterval(() => {
		const height = document.body ? document.body.scrollHeight : 0;
		window.scrollBy(0, step);
		distance += step;
		steps++;
		if (distance >= height || steps >= maxSteps) {
			clearInterval(timer);
			resolve(steps);
		}
	}, interval);
})`

const popupBypassJS = `(labels) => {
	let clicked = 0;
	document.querySelectorAll('button, [role="button"]').forEach((el) => {
		const text = (el.innerText || el.textContent || '').trim();
		if (text && labels.some((label) => text.includes(label))) {
			el.click();
			clicked++;
		}
	});
	return clicked;
}`

// RodRenderer 动态渲染器: 无头浏览器加载页面, 等待网络静默, 滚动触发懒加载
type RodRenderer struct {
	config  models.RenderConfig
	headers models.HeaderProvider

	browser *rod.Browser
	pool    *PagePool
}

// NewRodRenderer 启动浏览器并创建最多 maxSessions 个标签页的池
func NewRodRenderer(config models.RenderConfig, headers models.HeaderProvider, maxSessions int, monitor *ResourceMonitor) (*RodRenderer, error) {
	browser, err := launchBrowser(config.Headless)
	if err != nil {
		return nil, err
	}

	utils.Debugf("动态渲染器: 最大标签页数 %d, 导航超时 %s", maxSessions, config.NavigationTimeout)

	return &RodRenderer{
		config:  config,
		headers: headers,
		browser: browser,
		pool:    NewPagePool(browser, maxSessions, monitor),
	}, nil
}

// launchBrowser 启动浏览器
func launchBrowser(headless bool) (*rod.Browser, error) {
	l := launcher.New().Headless(headless)

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}

	utils.Debugf("浏览器已启动: %s", controlURL)
	return browser, nil
}

// Name 实现 Renderer
func (r *RodRenderer) Name() string {
	return "dynamic"
}

// Render 实现 Renderer
// 导航 -> 等待网络静默和load -> 弹窗处理 -> 自动滚动 -> 稳定等待 -> 读取DOM
func (r *RodRenderer) Render(ctx context.Context, pageURL string) (content string, err error) {
	page, err := r.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &RenderError{URL: pageURL, Renderer: r.Name(), Err: err}
	}

	healthy := false
	defer func() {
		if rec := recover(); rec != nil {
			utils.Errorf("浏览器操作panic: URL=%s, 错误=%v", pageURL, rec)
			healthy = false
			content = ""
			err = &RenderError{URL: pageURL, Renderer: r.Name(), Err: fmt.Errorf("浏览器操作panic: %v", rec)}
		}
		r.pool.Release(page, healthy)
	}()

	content, err = r.render(ctx, page, pageURL)
	if err != nil {
		// 导航被中断的标签页状态不可预期, 不再复用
		healthy = false
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &RenderError{URL: pageURL, Renderer: r.Name(), Err: err}
	}

	healthy = true
	return content, nil
}

func (r *RodRenderer) render(ctx context.Context, page *rod.Page, pageURL string) (string, error) {
	restore, err := r.applyHeaders(page)
	if err != nil {
		return "", err
	}
	defer restore()

	p := page.Context(ctx).Timeout(r.config.NavigationTimeout)
	defer p.CancelTimeout()

	waitIdle := p.WaitRequestIdle(r.config.IdleWindow, nil, nil, nil)
	if err := p.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("导航失败: %w", err)
	}
	waitIdle()

	if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("等待页面加载失败: %w", err)
	}

	r.bypassPopups(p, pageURL)

	if err := r.autoScroll(p); err != nil {
		return "", err
	}

	if r.config.SettleDelay > 0 {
		timer := time.NewTimer(r.config.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("读取DOM失败: %w", err)
	}
	return html, nil
}

// applyHeaders 设置UA和额外头部, 返回的函数撤销额外头部
func (r *RodRenderer) applyHeaders(page *rod.Page) (func(), error) {
	noop := func() {}
	if r.headers == nil {
		return noop, nil
	}

	headers, err := r.headers.GetHeaders()
	if err != nil {
		return noop, fmt.Errorf("获取HTTP头部失败: %w", err)
	}

	if ua := headers.Get("User-Agent"); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      ua,
			AcceptLanguage: headers.Get("Accept-Language"),
		}); err != nil {
			return noop, fmt.Errorf("设置User-Agent失败: %w", err)
		}
	}

	dict := extraHeaderDict(headers)
	if len(dict) == 0 {
		return noop, nil
	}
	cleanup, err := page.SetExtraHeaders(dict)
	if err != nil {
		return noop, fmt.Errorf("设置请求头部失败: %w", err)
	}
	return cleanup, nil
}

// extraHeaderDict 转换为 SetExtraHeaders 需要的 [name, value, ...] 形式
func extraHeaderDict(headers http.Header) []string {
	dict := make([]string, 0, len(headers)*2)
	for name, values := range headers {
		if browserManagedHeaders[http.CanonicalHeaderKey(name)] || len(values) == 0 {
			continue
		}
		dict = append(dict, name, values[0])
	}
	return dict
}

// bypassPopups 点击包含指定文本的按钮, 失败不影响渲染
func (r *RodRenderer) bypassPopups(p *rod.Page, pageURL string) {
	if len(r.config.PopupLabels) == 0 {
		return
	}
	res, err := p.Evaluate(rod.Eval(popupBypassJS, r.config.PopupLabels))
	if err != nil {
		utils.Debugf("弹窗处理失败 [%s]: %v", pageURL, err)
		return
	}
	if n := res.Value.Int(); n > 0 {
		utils.Debugf("点击了%d个弹窗按钮 [%s]", n, pageURL)
	}
}

// autoScroll 逐步滚动到页面底部, 触发懒加载内容
func (r *RodRenderer) autoScroll(p *rod.Page) error {
	step := r.config.ScrollStep
	if step < 1 {
		step = 100
	}
	maxSteps := r.config.MaxScrollSteps
	if maxSteps < 1 {
		maxSteps = 500
	}
	interval := r.config.ScrollInterval.Milliseconds()
	if interval < 1 {
		interval = 100
	}

	if _, err := p.Evaluate(rod.Eval(autoScrollJS, step, interval, maxSteps).ByPromise()); err != nil {
		return fmt.Errorf("自动滚动失败: %w", err)
	}
	return nil
}

// Close 关闭标签页池和浏览器
func (r *RodRenderer) Close() error {
	poolErr := r.pool.Close()
	var browserErr error
	if r.browser != nil {
		browserErr = r.browser.Close()
	}
	if err := errors.Join(poolErr, browserErr); err != nil {
		return fmt.Errorf("关闭浏览器失败: %w", err)
	}
	utils.Debugf("浏览器已关闭")
	return nil
}
