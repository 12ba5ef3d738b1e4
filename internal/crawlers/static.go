package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/RecoveryAshes/productcrawl/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
)

// CollyRenderer 静态渲染器: 单次HTTP GET, 不执行JavaScript
// 适用于服务端渲染的商品目录
type CollyRenderer struct {
	collector *colly.Collector
	headers   models.HeaderProvider
}

// NewCollyRenderer 创建静态渲染器
// headers为nil时不附加自定义头部
func NewCollyRenderer(config models.RenderConfig, headers models.HeaderProvider) *CollyRenderer {
	// 页面去重和深度由frontier负责, collector必须允许重复访问(重试)
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)

	timeout := config.StaticTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 8
	c.WithTransport(transport)

	utils.Debugf("静态渲染器: 请求超时 %s", timeout)

	return &CollyRenderer{collector: c, headers: headers}
}

// WithTransport 替换底层传输层, 测试中注入httpmock
func (r *CollyRenderer) WithTransport(rt http.RoundTripper) {
	r.collector.WithTransport(rt)
}

// Name 实现 Renderer
func (r *CollyRenderer) Name() string {
	return "static"
}

// Render 实现 Renderer
// HTTP状态码>=400、传输错误和解压失败都返回 *RenderError
func (r *CollyRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	var headers http.Header
	if r.headers != nil {
		h, err := r.headers.GetHeaders()
		if err != nil {
			return "", &RenderError{URL: pageURL, Renderer: r.Name(), Err: fmt.Errorf("获取HTTP头部失败: %w", err)}
		}
		headers = h
	}

	// Clone 共享传输层, 回调相互独立, 可并发使用
	c := r.collector.Clone()
	c.Context = ctx

	var body []byte
	var renderErr error

	c.OnRequest(func(req *colly.Request) {
		for name, values := range headers {
			if len(values) > 0 {
				req.Headers.Set(name, values[0])
			}
		}
	})

	c.OnResponse(func(resp *colly.Response) {
		decoded, err := decompressResponse(resp.Headers.Get("Content-Encoding"), resp.Body)
		if err != nil {
			renderErr = err
			return
		}
		body = decoded
	})

	c.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode > 0 {
			renderErr = fmt.Errorf("HTTP %d: %w", resp.StatusCode, err)
			return
		}
		renderErr = err
	})

	if err := c.Visit(pageURL); err != nil && renderErr == nil {
		renderErr = err
	}

	if renderErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &RenderError{URL: pageURL, Renderer: r.Name(), Err: renderErr}
	}
	if body == nil {
		return "", &RenderError{URL: pageURL, Renderer: r.Name(), Err: fmt.Errorf("没有收到响应内容")}
	}

	return string(body), nil
}

// Close 实现 Renderer
func (r *CollyRenderer) Close() error {
	return nil
}

// decompressResponse 根据Content-Encoding头部解压响应体
// 支持 gzip, deflate, br (Brotli) 三种压缩格式
// colly 已自行解压的gzip内容(不再以gzip魔数开头)原样返回
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "gzip":
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body, nil
		}
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip读取失败: %w", err)
		}
		return decompressed, nil

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate读取失败: %w", err)
		}
		return decompressed, nil

	case "br":
		reader := brotli.NewReader(bytes.NewReader(body))
		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "", "identity":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}
