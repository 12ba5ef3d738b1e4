package crawlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// fakeRenderer 内存中的渲染器, 按URL返回固定内容
type fakeRenderer struct {
	name  string
	pages map[string]string

	// failures[url] 该URL前几次调用失败, <0 表示总是失败
	failures map[string]int
	// block 在返回前等待, 用于测试截止和取消
	block func(ctx context.Context, url string) error

	mu    sync.Mutex
	calls map[string]int

	closed bool
}

func newFakeRenderer(pages map[string]string) *fakeRenderer {
	return &fakeRenderer{
		name:     "fake",
		pages:    pages,
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (f *fakeRenderer) Name() string { return f.name }

func (f *fakeRenderer) Render(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.calls[url]++
	n := f.calls[url]
	fail := f.failures[url]
	f.mu.Unlock()

	if f.block != nil {
		if err := f.block(ctx, url); err != nil {
			return "", err
		}
	}

	if fail < 0 || n <= fail {
		return "", &RenderError{URL: url, Renderer: f.name, Err: fmt.Errorf("模拟失败 #%d", n)}
	}
	content, ok := f.pages[url]
	if !ok {
		return "", &RenderError{URL: url, Renderer: f.name, Err: fmt.Errorf("HTTP 404")}
	}
	return content, nil
}

func (f *fakeRenderer) Close() error {
	f.closed = true
	return nil
}

func (f *fakeRenderer) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeRenderer) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func TestFallbackRenderer(t *testing.T) {
	const u = "https://shop.example.com/"
	ctx := context.Background()

	t.Run("主渲染器成功", func(t *testing.T) {
		primary := newFakeRenderer(map[string]string{u: "static"})
		secondary := newFakeRenderer(map[string]string{u: "dynamic"})
		f := NewFallbackRenderer(primary, secondary)

		got, err := f.Render(ctx, u)
		if err != nil || got != "static" {
			t.Errorf("Render() = (%q, %v), 期望 static", got, err)
		}
		if secondary.callCount(u) != 0 {
			t.Error("主渲染器成功时不应调用备用渲染器")
		}
	})

	t.Run("回退到备用渲染器", func(t *testing.T) {
		primary := newFakeRenderer(nil)
		secondary := newFakeRenderer(map[string]string{u: "dynamic"})
		f := NewFallbackRenderer(primary, secondary)

		got, err := f.Render(ctx, u)
		if err != nil || got != "dynamic" {
			t.Errorf("Render() = (%q, %v), 期望 dynamic", got, err)
		}
	})

	t.Run("两者都失败", func(t *testing.T) {
		f := NewFallbackRenderer(newFakeRenderer(nil), newFakeRenderer(nil))
		_, err := f.Render(ctx, u)
		if !errors.Is(err, ErrRenderFailed) {
			t.Errorf("err = %v, 期望匹配 ErrRenderFailed", err)
		}
	})

	t.Run("静态内容没有商品容器时使用浏览器", func(t *testing.T) {
		primary := newFakeRenderer(map[string]string{u: "<html><body>loading...</body></html>"})
		secondary := newFakeRenderer(map[string]string{u: `<div class="product-card">Lamp</div>`})
		f := NewFallbackRenderer(primary, secondary).WithAccept(func(content string) bool {
			return strings.Contains(content, "product-card")
		})

		got, err := f.Render(ctx, u)
		if err != nil || !strings.Contains(got, "product-card") {
			t.Errorf("Render() = (%q, %v), 期望浏览器渲染的内容", got, err)
		}
		if secondary.callCount(u) != 1 {
			t.Errorf("备用渲染器调用次数 = %d, 期望 1", secondary.callCount(u))
		}
	})

	t.Run("内容可用时不调用浏览器", func(t *testing.T) {
		primary := newFakeRenderer(map[string]string{u: `<div class="product-card">Lamp</div>`})
		secondary := newFakeRenderer(map[string]string{u: "dynamic"})
		f := NewFallbackRenderer(primary, secondary).WithAccept(func(content string) bool {
			return strings.Contains(content, "product-card")
		})

		if _, err := f.Render(ctx, u); err != nil {
			t.Fatalf("Render失败: %v", err)
		}
		if secondary.callCount(u) != 0 {
			t.Error("内容可用时不应调用备用渲染器")
		}
	})

	t.Run("浏览器失败时退回静态内容", func(t *testing.T) {
		const shell = "<html><body>loading...</body></html>"
		primary := newFakeRenderer(map[string]string{u: shell})
		f := NewFallbackRenderer(primary, newFakeRenderer(nil)).WithAccept(func(string) bool { return false })

		got, err := f.Render(ctx, u)
		if err != nil || got != shell {
			t.Errorf("Render() = (%q, %v), 期望静态内容", got, err)
		}
	})

	t.Run("Close关闭两者", func(t *testing.T) {
		primary, secondary := newFakeRenderer(nil), newFakeRenderer(nil)
		if err := NewFallbackRenderer(primary, secondary).Close(); err != nil {
			t.Fatalf("Close失败: %v", err)
		}
		if !primary.closed || !secondary.closed {
			t.Error("两个渲染器都应被关闭")
		}
	})
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"取消", fmt.Errorf("x: %w", context.Canceled), "canceled"},
		{"超时", context.DeadlineExceeded, "timeout"},
		{"渲染错误", &RenderError{URL: "u", Renderer: "r", Err: errors.New("x")}, "render"},
		{"渲染超时优先", &RenderError{URL: "u", Renderer: "r", Err: context.DeadlineExceeded}, "timeout"},
		{"其他", errors.New("x"), "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, 期望 %q", got, tt.want)
			}
		})
	}
}
