package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
)

// ErrRenderFailed 单次渲染失败
// 导航超时、网络错误、HTTP错误状态和浏览器内部异常都会匹配此错误
var ErrRenderFailed = errors.New("页面渲染失败")

// Renderer 将URL渲染为完整的DOM内容
// 失败时返回匹配 ErrRenderFailed 的错误, 不返回部分内容
type Renderer interface {
	// Name 渲染器名称, 用于日志和指标标签
	Name() string
	Render(ctx context.Context, pageURL string) (string, error)
	Close() error
}

// RenderError 渲染失败的详细信息
type RenderError struct {
	URL      string
	Renderer string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("%s渲染失败 [%s]: %v", e.Renderer, e.URL, e.Err)
}

// Is 使 errors.Is(err, ErrRenderFailed) 为真
func (e *RenderError) Is(target error) bool {
	return target == ErrRenderFailed
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// ClassifyError 将错误归类为指标和失败记录使用的类型
// 返回值: timeout, canceled, render, other
func ClassifyError(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, ErrRenderFailed):
		return "render"
	}
	return "other"
}

// FallbackRenderer 先使用 Primary, 失败或内容不可用时使用 Secondary
// 用于 all 模式: 静态抓取优先, 浏览器兜底
type FallbackRenderer struct {
	Primary   Renderer
	Secondary Renderer

	// Accept 判断 Primary 的内容是否可用, 返回false时交给 Secondary 重新渲染
	// (例如只有JS骨架、没有任何商品容器的页面). nil表示总是可用
	Accept func(content string) bool
}

// NewFallbackRenderer 创建回退渲染器
func NewFallbackRenderer(primary, secondary Renderer) *FallbackRenderer {
	return &FallbackRenderer{Primary: primary, Secondary: secondary}
}

// WithAccept 设置内容可用性判断
func (f *FallbackRenderer) WithAccept(accept func(content string) bool) *FallbackRenderer {
	f.Accept = accept
	return f
}

// Name 实现 Renderer
func (f *FallbackRenderer) Name() string {
	return f.Primary.Name() + "+" + f.Secondary.Name()
}

// Render 实现 Renderer
// Primary 内容不被接受而 Secondary 失败时, 退回 Primary 的内容, 页面中的链接仍可继续遍历
func (f *FallbackRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	content, err := f.Primary.Render(ctx, pageURL)
	if err == nil {
		if f.Accept == nil || f.Accept(content) {
			return content, nil
		}
		log.Debug().Str("url", pageURL).Msgf("%s内容中没有商品容器, 使用%s重新渲染", f.Primary.Name(), f.Secondary.Name())

		rendered, secondErr := f.Secondary.Render(ctx, pageURL)
		if secondErr == nil {
			return rendered, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Debug().Err(secondErr).Str("url", pageURL).Msgf("%s渲染失败, 使用%s的内容", f.Secondary.Name(), f.Primary.Name())
		return content, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	log.Debug().Err(err).Str("url", pageURL).Msgf("%s渲染失败, 回退到%s", f.Primary.Name(), f.Secondary.Name())

	content, secondErr := f.Secondary.Render(ctx, pageURL)
	if secondErr == nil {
		return content, nil
	}
	return "", &RenderError{URL: pageURL, Renderer: f.Name(), Err: errors.Join(err, secondErr)}
}

// Close 关闭两个渲染器
func (f *FallbackRenderer) Close() error {
	return errors.Join(f.Primary.Close(), f.Secondary.Close())
}
