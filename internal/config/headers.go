package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/RecoveryAshes/productcrawl/internal/utils"
	"github.com/spf13/viper"
)

const (
	// DefaultHeaderFile 默认头部配置文件路径
	DefaultHeaderFile = "configs/headers.yaml"

	// MaxConfigFileSize 配置文件最大大小 (1MB)
	MaxConfigFileSize = 1 * 1024 * 1024
)

//go:embed headers_template.yaml
var headerTemplate string

// HeaderTemplate 返回内置的头部配置模板
func HeaderTemplate() string {
	return headerTemplate
}

// HeaderConfigLoader 头部配置文件加载器
type HeaderConfigLoader struct {
	configPath string
	// explicit 路径由用户显式指定,此时文件缺失视为错误
	explicit bool
}

// NewHeaderConfigLoader 创建加载器, configPath为空时使用默认路径
func NewHeaderConfigLoader(configPath string) *HeaderConfigLoader {
	if configPath == "" {
		return &HeaderConfigLoader{configPath: DefaultHeaderFile}
	}
	return &HeaderConfigLoader{configPath: configPath, explicit: true}
}

// Path 配置文件路径
func (hcl *HeaderConfigLoader) Path() string {
	return hcl.configPath
}

// WriteTemplate 写入头部配置模板
// 文件已存在且 overwrite 为 false 时返回 os.ErrExist
func (hcl *HeaderConfigLoader) WriteTemplate(overwrite bool) error {
	if _, err := os.Stat(hcl.configPath); err == nil && !overwrite {
		return fmt.Errorf("配置文件已存在 [%s]: %w", hcl.configPath, os.ErrExist)
	}

	dir := filepath.Dir(hcl.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建配置目录 [%s]: %w", dir, err)
	}
	if err := os.WriteFile(hcl.configPath, []byte(headerTemplate), 0644); err != nil {
		return fmt.Errorf("无法生成配置文件 [%s]: %w", hcl.configPath, err)
	}
	return nil
}

// LoadConfig 加载并解析头部配置
//   - 默认路径下文件不存在: 返回空配置
//   - 显式路径下文件不存在、过大或无法解析: 返回 *models.ConfigError
func (hcl *HeaderConfigLoader) LoadConfig() (*models.HeaderConfig, error) {
	info, err := os.Stat(hcl.configPath)
	if errors.Is(err, os.ErrNotExist) && !hcl.explicit {
		utils.Debugf("未找到头部配置文件 [%s], 使用默认头部", hcl.configPath)
		return &models.HeaderConfig{Headers: make(map[string]string)}, nil
	}
	if err != nil {
		return nil, &models.ConfigError{FilePath: hcl.configPath, Cause: err}
	}

	if info.Size() > MaxConfigFileSize {
		return nil, &models.ConfigError{
			FilePath: hcl.configPath,
			Cause:    fmt.Errorf("配置文件过大: %d 字节 (最大 %d 字节)", info.Size(), MaxConfigFileSize),
		}
	}

	v := viper.New()
	v.SetConfigFile(hcl.configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, &models.ConfigError{FilePath: hcl.configPath, Cause: err}
	}

	var config models.HeaderConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{
			FilePath: hcl.configPath,
			Cause:    fmt.Errorf("配置绑定失败: %w", err),
		}
	}

	// viper 会把键名转为小写, 由调用方通过 http.Header.Set 规范化
	if config.Headers == nil {
		config.Headers = make(map[string]string)
	}

	return &config, nil
}
