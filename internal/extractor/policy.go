package extractor

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
)

// Policy 提取策略表
// 每个列表按优先级排列, 选择器写法为 "selector" (取文本) 或 "selector@attr" (取属性)
type Policy struct {
	Containers []string `json:"containers" mapstructure:"containers" yaml:"containers"`
	Name       []string `json:"name" mapstructure:"name" yaml:"name"`
	Price      []string `json:"price" mapstructure:"price" yaml:"price"`
	Image      []string `json:"image" mapstructure:"image" yaml:"image"`
	Exclude    []string `json:"exclude" mapstructure:"exclude" yaml:"exclude"`
}

// DefaultPolicy 内置默认策略
func DefaultPolicy() Policy {
	return Policy{
		Containers: []string{
			".product-card",
			".product",
			".item",
			".product-container",
			`[class*="product"]`,
			`[class*="item"]`,
		},
		Name: []string{
			".product-card__title",
			`[class*="name"]`,
			`[class*="title"]`,
			"h2",
			"h3",
		},
		Price: []string{
			".product-card__price",
			`[class*="price"]`,
			".amount",
			"[data-price]",
			"[data-price]@data-price",
		},
		Image: []string{
			"img@src",
			"img@data-src",
			"img@data-lazy-src",
		},
		Exclude: []string{
			"login", "sign up", "logout", "terms", "privacy",
			"careers", "contact", "gift card", "faq", "warranty",
		},
	}
}

// Validate 检查每个列表非空且选择器可以编译
func (p *Policy) Validate() error {
	if len(p.Containers) == 0 {
		return fmt.Errorf("提取策略: 容器选择器列表不能为空")
	}
	for _, sel := range p.Containers {
		if _, err := cascadia.Compile(sel); err != nil {
			return fmt.Errorf("提取策略: 无效的容器选择器 %q: %w", sel, err)
		}
	}

	chains := []struct {
		field string
		exprs []string
	}{
		{"name", p.Name},
		{"price", p.Price},
		{"image", p.Image},
	}
	for _, chain := range chains {
		if len(chain.exprs) == 0 {
			return fmt.Errorf("提取策略: %s 选择器列表不能为空", chain.field)
		}
		if _, err := ParseChain(chain.exprs); err != nil {
			return fmt.Errorf("提取策略: %s: %w", chain.field, err)
		}
	}

	for _, keyword := range p.Exclude {
		if strings.TrimSpace(keyword) == "" {
			return fmt.Errorf("提取策略: 排除关键字不能为空字符串")
		}
	}
	return nil
}
