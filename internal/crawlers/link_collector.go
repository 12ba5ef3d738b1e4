package crawlers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/RecoveryAshes/productcrawl/internal/models"
	"golang.org/x/net/html"
)

// DefaultSkipPathKeywords 路径中包含这些关键字的链接不会被跟随
var DefaultSkipPathKeywords = []string{
	"login", "signup", "logout", "terms", "privacy", "faq", "contact",
	"gift-card", "careers", "warranty", "returns", "about", "policy", "work-with-us",
}

// LinkCollector 从渲染后的DOM中收集可跟随的同源链接
type LinkCollector struct {
	origin       *url.URL
	skipKeywords []string
}

// NewLinkCollector 创建链接收集器
// skipKeywords 为nil时使用 DefaultSkipPathKeywords, 传空切片表示不过滤
func NewLinkCollector(origin *url.URL, skipKeywords []string) *LinkCollector {
	if skipKeywords == nil {
		skipKeywords = DefaultSkipPathKeywords
	}
	lowered := make([]string, 0, len(skipKeywords))
	for _, k := range skipKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &LinkCollector{origin: origin, skipKeywords: lowered}
}

// Collect 返回页面中的绝对链接, 按文档顺序, 每个链接只出现一次
// 相对链接以 <base href> (存在时) 或 pageURL 为基准解析
func (c *LinkCollector) Collect(content string, pageURL string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("解析页面URL失败: %w", err)
	}
	if href, ok := findBaseHref(doc); ok {
		if b, err := base.Parse(href); err == nil {
			base = b
		}
	}

	var links []string
	seen := make(map[string]bool)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "a" || n.Data == "area") {
			if href, ok := attr(n, "href"); ok {
				if link, ok := c.accept(base, href); ok && !seen[link] {
					seen[link] = true
					links = append(links, link)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return links, nil
}

// accept 解析并过滤单个href
func (c *LinkCollector) accept(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if c.origin != nil && !models.SameOrigin(c.origin, abs) {
		return "", false
	}
	if c.skipPath(abs.Path) {
		return "", false
	}

	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

func (c *LinkCollector) skipPath(path string) bool {
	lower := strings.ToLower(path)
	for _, keyword := range c.skipKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func findBaseHref(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "base" {
		if href, ok := attr(n, "href"); ok && href != "" {
			return href, true
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if href, ok := findBaseHref(child); ok {
			return href, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
