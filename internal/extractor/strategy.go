package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Strategy 在单个商品容器内取一个字段值, 取不到时返回空字符串
type Strategy interface {
	Apply(container *goquery.Selection) string
	String() string
}

// TextStrategy 取第一个匹配元素的清洗后文本
type TextStrategy struct {
	Selector string
	matcher  goquery.Matcher
}

// Apply 实现 Strategy
func (s TextStrategy) Apply(container *goquery.Selection) string {
	return CleanText(container.FindMatcher(s.matcher).First().Text())
}

func (s TextStrategy) String() string {
	return s.Selector
}

// AttrStrategy 取第一个匹配元素的属性值
type AttrStrategy struct {
	Selector string
	Attr     string
	matcher  goquery.Matcher
}

// Apply 实现 Strategy
func (s AttrStrategy) Apply(container *goquery.Selection) string {
	value, _ := container.FindMatcher(s.matcher).First().Attr(s.Attr)
	return strings.TrimSpace(value)
}

func (s AttrStrategy) String() string {
	return s.Selector + "@" + s.Attr
}

var attrNamePattern = regexp.MustCompile(`^[A-Za-z_:][-A-Za-z0-9_:.]*$`)

// ParseStrategy 解析 "selector" 或 "selector@attr"
// 只有最后一个@之后是合法属性名时才按属性策略处理, 避免误伤选择器中的@
func ParseStrategy(expr string) (Strategy, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("选择器不能为空")
	}

	selector, attr := expr, ""
	if i := strings.LastIndex(expr, "@"); i > 0 && attrNamePattern.MatchString(expr[i+1:]) {
		selector, attr = strings.TrimSpace(expr[:i]), expr[i+1:]
	}

	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("无效的选择器 %q: %w", selector, err)
	}

	if attr != "" {
		return AttrStrategy{Selector: selector, Attr: attr, matcher: matcher}, nil
	}
	return TextStrategy{Selector: selector, matcher: matcher}, nil
}

// ParseChain 按顺序解析一组策略
func ParseChain(exprs []string) ([]Strategy, error) {
	chain := make([]Strategy, 0, len(exprs))
	for _, expr := range exprs {
		s, err := ParseStrategy(expr)
		if err != nil {
			return nil, err
		}
		chain = append(chain, s)
	}
	return chain, nil
}

// firstValue 依次尝试策略, 返回第一个被accept接受的非空值
func firstValue(container *goquery.Selection, chain []Strategy, accept func(string) bool) string {
	for _, s := range chain {
		value := s.Apply(container)
		if value == "" {
			continue
		}
		if accept != nil && !accept(value) {
			continue
		}
		return value
	}
	return ""
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// CleanText 去掉标记中残留的字面量 \n, 合并连续空白并去除首尾空白
func CleanText(s string) string {
	s = strings.ReplaceAll(s, `\n`, "")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
