package extractor

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/andybalholm/cascadia"
	"github.com/rs/zerolog/log"
)

// Extractor 从渲染后的DOM中提取商品记录
// 创建后只读, 可被多个worker并发使用
type Extractor struct {
	containers []containerMatcher
	name       []Strategy
	price      []Strategy
	image      []Strategy
	exclude    []string
}

type containerMatcher struct {
	selector string
	matcher  goquery.Matcher
}

// New 按策略表创建提取器
func New(policy Policy) (*Extractor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	e := &Extractor{}
	for _, sel := range policy.Containers {
		m, err := cascadia.Compile(sel)
		if err != nil {
			return nil, fmt.Errorf("无效的容器选择器 %q: %w", sel, err)
		}
		e.containers = append(e.containers, containerMatcher{selector: sel, matcher: m})
	}

	var err error
	if e.name, err = ParseChain(policy.Name); err != nil {
		return nil, err
	}
	if e.price, err = ParseChain(policy.Price); err != nil {
		return nil, err
	}
	if e.image, err = ParseChain(policy.Image); err != nil {
		return nil, err
	}

	for _, keyword := range policy.Exclude {
		e.exclude = append(e.exclude, strings.ToLower(strings.TrimSpace(keyword)))
	}
	return e, nil
}

// Extract 返回页面中去重后的完整商品记录
// 没有找到商品不是错误, 返回空切片
func (e *Extractor) Extract(content string, pageURL string) ([]models.ProductRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}

	base := imageBase(doc, pageURL)

	containers, selector := e.probeContainers(doc)
	if containers == nil {
		log.Debug().Str("url", pageURL).Msg("未找到商品容器")
		return []models.ProductRecord{}, nil
	}

	now := time.Now()
	records := make([]models.ProductRecord, 0, containers.Length())
	seen := make(map[string]bool)
	incomplete, excluded := 0, 0

	containers.Each(func(_ int, container *goquery.Selection) {
		record := models.ProductRecord{
			Name:      firstValue(container, e.name, nil),
			Price:     firstValue(container, e.price, nil),
			ImageURL:  firstValue(container, e.image, isRealImage),
			PageURL:   pageURL,
			ScrapedAt: now,
		}
		if !record.IsComplete() {
			incomplete++
			return
		}
		if e.isExcluded(record.Name) {
			excluded++
			return
		}
		record.ImageURL = resolveImage(base, record.ImageURL)

		key := record.Key()
		if seen[key] {
			return
		}
		seen[key] = true
		records = append(records, record)
	})

	log.Debug().
		Str("url", pageURL).
		Str("container", selector).
		Int("containers", containers.Length()).
		Int("records", len(records)).
		Int("incomplete", incomplete).
		Int("excluded", excluded).
		Msg("商品提取完成")

	return records, nil
}

// HasContainers 页面中是否存在任一商品容器
// 解析失败视为没有容器
func (e *Extractor) HasContainers(content string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return false
	}
	sel, _ := e.probeContainers(doc)
	return sel != nil
}

// probeContainers 第一个匹配到元素的容器选择器胜出
func (e *Extractor) probeContainers(doc *goquery.Document) (*goquery.Selection, string) {
	for _, c := range e.containers {
		if sel := doc.FindMatcher(c.matcher); sel.Length() > 0 {
			return sel, c.selector
		}
	}
	return nil, ""
}

func (e *Extractor) isExcluded(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range e.exclude {
		if keyword != "" && strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// isRealImage 内联的 data: 占位图视为空值, 继续尝试下一个策略
func isRealImage(src string) bool {
	return !strings.HasPrefix(strings.ToLower(src), "data:")
}

// imageBase 图片相对地址的解析基准: <base href> 优先, 其次页面URL
func imageBase(doc *goquery.Document, pageURL string) *url.URL {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			return b
		}
	}
	return base
}

func resolveImage(base *url.URL, src string) string {
	if base == nil {
		return src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	return base.ResolveReference(ref).String()
}
