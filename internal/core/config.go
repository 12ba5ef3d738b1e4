package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/crawlers"
	"github.com/RecoveryAshes/productcrawl/internal/extractor"
	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/RecoveryAshes/productcrawl/internal/utils"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 应用程序配置
type Config struct {
	Crawl       models.CrawlConfig  `mapstructure:"crawl" yaml:"crawl"`
	Render      models.RenderConfig `mapstructure:"render" yaml:"render"`
	Extract     extractor.Policy    `mapstructure:"extract" yaml:"extract"`
	Output      OutputConfig        `mapstructure:"output" yaml:"output"`
	Logging     LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	Resource    ResourceConfig      `mapstructure:"resource" yaml:"resource"`
	Metrics     MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
	HeadersFile string              `mapstructure:"headers_file" yaml:"headers_file"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level" yaml:"level"`
	LogDir   string         `mapstructure:"log_dir" yaml:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int  `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// Formats 输出格式: json, csv, sqlite
	Formats []string `mapstructure:"formats" yaml:"formats"`
}

// ResourceConfig 浏览器会话资源限制
type ResourceConfig struct {
	// AutoScale 根据可用内存和CPU自动限制并发会话数
	AutoScale       bool  `mapstructure:"auto_scale" yaml:"auto_scale"`
	MaxSessions     int   `mapstructure:"max_sessions" yaml:"max_sessions"`
	SessionMemoryMB int64 `mapstructure:"session_memory_mb" yaml:"session_memory_mb"`
	SafetyReserveMB int64 `mapstructure:"safety_reserve_mb" yaml:"safety_reserve_mb"`
	// CPUThreshold CPU使用率(%)超过该值时暂缓创建新标签页, 0表示不检查
	CPUThreshold float64 `mapstructure:"cpu_threshold" yaml:"cpu_threshold"`
}

// MetricsConfig 指标服务配置, Addr为空时不启动
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

var validFormats = map[string]bool{"json": true, "csv": true, "sqlite": true}

// LoadConfig 加载配置文件
// configPath为空时依次搜索 ./configs, . 和 ~/.productcrawl, 找不到文件时使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".productcrawl"))
		}
	}

	// PRODUCTCRAWL_CRAWL_MAX_DEPTH=2 覆盖 crawl.max_depth
	v.SetEnvPrefix("PRODUCTCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &models.ConfigError{FilePath: configPath, Cause: err}
		}
		utils.Debugf("未找到配置文件, 使用默认配置")
	} else {
		utils.Debugf("使用配置文件: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &config, nil
}

// DefaultConfig 返回内置默认配置
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		// 默认值由代码给出, 解析失败属于编程错误
		panic(fmt.Sprintf("默认配置无效: %v", err))
	}
	return &config
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 遍历
	v.SetDefault("crawl.max_depth", 3)
	v.SetDefault("crawl.retries", 3)
	v.SetDefault("crawl.retry_backoff", 500*time.Millisecond)
	v.SetDefault("crawl.retry_backoff_max", 5*time.Second)
	v.SetDefault("crawl.workers", 4)
	v.SetDefault("crawl.mode", string(models.ModeDynamic))
	v.SetDefault("crawl.run_timeout", time.Duration(0))
	v.SetDefault("crawl.skip_path_keywords", crawlers.DefaultSkipPathKeywords)
	v.SetDefault("crawl.respect_robots", false)
	v.SetDefault("crawl.min_delay", time.Duration(0))
	v.SetDefault("crawl.rate_limit.requests", 0)
	v.SetDefault("crawl.rate_limit.window", time.Second)

	// 渲染
	v.SetDefault("render.navigation_timeout", 120*time.Second)
	v.SetDefault("render.idle_window", 2*time.Second)
	v.SetDefault("render.settle_delay", 3*time.Second)
	v.SetDefault("render.scroll_step", 100)
	v.SetDefault("render.scroll_interval", 100*time.Millisecond)
	v.SetDefault("render.max_scroll_steps", 500)
	v.SetDefault("render.headless", true)
	v.SetDefault("render.popup_labels", crawlers.DefaultPopupLabels)
	v.SetDefault("render.static_timeout", 30*time.Second)

	// 提取策略
	policy := extractor.DefaultPolicy()
	v.SetDefault("extract.containers", policy.Containers)
	v.SetDefault("extract.name", policy.Name)
	v.SetDefault("extract.price", policy.Price)
	v.SetDefault("extract.image", policy.Image)
	v.SetDefault("extract.exclude", policy.Exclude)

	// 输出
	v.SetDefault("output.base_dir", "output")
	v.SetDefault("output.formats", []string{"json"})

	// 日志
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	// 资源
	v.SetDefault("resource.auto_scale", true)
	v.SetDefault("resource.max_sessions", 8)
	v.SetDefault("resource.session_memory_mb", 150)
	v.SetDefault("resource.safety_reserve_mb", 512)
	v.SetDefault("resource.cpu_threshold", 90.0)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("headers_file", "")
}

// Validate 验证完整配置
func (c *Config) Validate() error {
	if err := c.Crawl.Validate(); err != nil {
		return fmt.Errorf("crawl配置无效: %w", err)
	}
	if err := c.Render.Validate(); err != nil {
		return fmt.Errorf("render配置无效: %w", err)
	}
	if err := c.Extract.Validate(); err != nil {
		return fmt.Errorf("extract配置无效: %w", err)
	}
	if len(c.Output.Formats) == 0 {
		return fmt.Errorf("至少需要一种输出格式")
	}
	for _, f := range c.Output.Formats {
		if !validFormats[strings.ToLower(f)] {
			return fmt.Errorf("不支持的输出格式: %s (有效值: json, csv, sqlite)", f)
		}
	}
	if c.Resource.MaxSessions < 1 {
		return fmt.Errorf("resource.max_sessions 必须为正数")
	}
	if c.Resource.CPUThreshold < 0 || c.Resource.CPUThreshold > 100 {
		return fmt.Errorf("resource.cpu_threshold 必须在0-100之间")
	}
	return nil
}

// LogConfig 转换为日志系统配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// WriteConfigFile 将配置以YAML格式写入文件
// 文件已存在且 overwrite 为 false 时返回 os.ErrExist
func WriteConfigFile(config *Config, path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("配置文件已存在 [%s]: %w", path, os.ErrExist)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	header := []byte("# productcrawl 配置文件, 由 `productcrawl config init` 生成\n")
	if err := os.WriteFile(path, append(header, data...), 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}
