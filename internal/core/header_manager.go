package core

import (
	"net/http"
	"sync"

	"github.com/RecoveryAshes/productcrawl/internal/config"
	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/RecoveryAshes/productcrawl/internal/utils"
)

const (
	// DefaultUserAgent 默认User-Agent
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"
)

// HeaderManager 合并渲染请求使用的HTTP头部
// 优先级: 默认 < 配置文件 < 命令行. 实现 models.HeaderProvider
type HeaderManager struct {
	defaults http.Header
	config   http.Header
	cli      http.Header

	loader *config.HeaderConfigLoader

	once    sync.Once
	loadErr error
}

// NewHeaderManager 创建头部管理器
// configFile为空时使用默认路径(文件缺失不视为错误), cliHeaders格式为 "Name: Value"
func NewHeaderManager(configFile string, cliHeaders []string) (*HeaderManager, error) {
	cli, err := models.CliHeaders(cliHeaders).Parse()
	if err != nil {
		return nil, err
	}

	return &HeaderManager{
		defaults: defaultHeaders(),
		config:   make(http.Header),
		cli:      cli,
		loader:   config.NewHeaderConfigLoader(configFile),
	}, nil
}

func defaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      []string{DefaultUserAgent},
		"Accept":          []string{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": []string{"en-US,en;q=0.9"},
		"Accept-Encoding": []string{"gzip, deflate, br"},
	}
}

// load 只读取一次配置文件
func (hm *HeaderManager) load() error {
	hm.once.Do(func() {
		headerConfig, err := hm.loader.LoadConfig()
		if err != nil {
			hm.loadErr = err
			return
		}

		for name, value := range headerConfig.Headers {
			hm.config.Set(name, value)
		}
		if headerConfig.UserAgent != "" {
			hm.config.Set("User-Agent", headerConfig.UserAgent)
		}

		if len(hm.config) > 0 {
			utils.Debugf("加载了%d个HTTP头部配置: %s", len(hm.config), utils.RedactHeaders(hm.config))
		}
	})
	return hm.loadErr
}

// Validate 依次验证配置文件和命令行头部
func (hm *HeaderManager) Validate() error {
	if err := hm.load(); err != nil {
		return err
	}
	if err := utils.ValidateHeaders(hm.config); err != nil {
		utils.Errorf("配置文件头部验证失败: %v", err)
		return err
	}
	if err := utils.ValidateHeaders(hm.cli); err != nil {
		utils.Errorf("命令行头部验证失败: %v", err)
		return err
	}
	return nil
}

// merged 按优先级合并
func (hm *HeaderManager) merged() http.Header {
	result := make(http.Header)
	for _, layer := range []http.Header{hm.defaults, hm.config, hm.cli} {
		for name, values := range layer {
			result[name] = append([]string(nil), values...)
		}
	}
	return result
}

// SafeHeaders 返回脱敏后的合并头部描述, 用于日志
func (hm *HeaderManager) SafeHeaders() string {
	return utils.RedactHeaders(hm.merged())
}

// GetHeaders 实现 models.HeaderProvider
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	if err := hm.Validate(); err != nil {
		return nil, err
	}
	return hm.merged(), nil
}
