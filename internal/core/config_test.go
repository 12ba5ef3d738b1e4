package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/models"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("默认配置应有效: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"最大深度", config.Crawl.MaxDepth, 3},
		{"重试次数", config.Crawl.Retries, 3},
		{"渲染模式", config.Crawl.Mode, models.ModeDynamic},
		{"导航超时", config.Render.NavigationTimeout, 120 * time.Second},
		{"稳定等待", config.Render.SettleDelay, 3 * time.Second},
		{"默认不遵守robots", config.Crawl.RespectRobots, false},
		{"输出目录", config.Output.BaseDir, "output"},
		{"日志级别", config.Logging.Level, "info"},
		{"CPU阈值", config.Resource.CPUThreshold, 90.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, 期望 %v", tt.got, tt.want)
			}
		})
	}

	if len(config.Extract.Containers) == 0 || len(config.Extract.Image) == 0 {
		t.Error("默认提取策略不应为空")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("读取YAML文件", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `crawl:
  max_depth: 1
  workers: 8
  mode: static
  run_timeout: 90s
render:
  settle_delay: 500ms
output:
  formats: [json, sqlite]
extract:
  exclude: ["gift card"]
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		config, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig失败: %v", err)
		}
		if config.Crawl.MaxDepth != 1 || config.Crawl.Workers != 8 {
			t.Errorf("crawl = %+v", config.Crawl)
		}
		if config.Crawl.Mode != models.ModeStatic {
			t.Errorf("Mode = %s, 期望 static", config.Crawl.Mode)
		}
		if config.Crawl.RunTimeout != 90*time.Second {
			t.Errorf("RunTimeout = %s, 期望 90s", config.Crawl.RunTimeout)
		}
		if config.Render.SettleDelay != 500*time.Millisecond {
			t.Errorf("SettleDelay = %s, 期望 500ms", config.Render.SettleDelay)
		}
		if len(config.Output.Formats) != 2 || config.Output.Formats[1] != "sqlite" {
			t.Errorf("Formats = %v", config.Output.Formats)
		}
		if len(config.Extract.Exclude) != 1 || config.Extract.Exclude[0] != "gift card" {
			t.Errorf("Exclude = %v", config.Extract.Exclude)
		}
		// 文件未设置的值保持默认
		if config.Crawl.Retries != 3 {
			t.Errorf("Retries = %d, 期望默认值 3", config.Crawl.Retries)
		}
		if err := config.Validate(); err != nil {
			t.Errorf("配置应有效: %v", err)
		}
	})

	t.Run("环境变量覆盖", func(t *testing.T) {
		t.Setenv("PRODUCTCRAWL_CRAWL_MAX_DEPTH", "5")
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("crawl:\n  max_depth: 1\n"), 0644); err != nil {
			t.Fatal(err)
		}

		config, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig失败: %v", err)
		}
		if config.Crawl.MaxDepth != 5 {
			t.Errorf("MaxDepth = %d, 期望环境变量的 5", config.Crawl.MaxDepth)
		}
	})

	t.Run("显式路径不存在", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		var ce *models.ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("err = %v, 期望 *models.ConfigError", err)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"深度越界", func(c *Config) { c.Crawl.MaxDepth = 11 }},
		{"无效模式", func(c *Config) { c.Crawl.Mode = "headful" }},
		{"导航超时为0", func(c *Config) { c.Render.NavigationTimeout = 0 }},
		{"空容器选择器", func(c *Config) { c.Extract.Containers = nil }},
		{"没有输出格式", func(c *Config) { c.Output.Formats = nil }},
		{"未知输出格式", func(c *Config) { c.Output.Formats = []string{"parquet"} }},
		{"会话上限为0", func(c *Config) { c.Resource.MaxSessions = 0 }},
		{"CPU阈值越界", func(c *Config) { c.Resource.CPUThreshold = 150 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			if err := config.Validate(); err == nil {
				t.Error("期望验证错误")
			}
		})
	}
}

// TestWriteConfigFile 写出的配置可以被重新加载
func TestWriteConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "config.yaml")

	original := DefaultConfig()
	original.Crawl.MaxDepth = 2
	original.Crawl.RunTimeout = 10 * time.Minute
	original.Output.Formats = []string{"csv"}

	if err := WriteConfigFile(original, path, false); err != nil {
		t.Fatalf("WriteConfigFile失败: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("重新加载失败: %v", err)
	}
	if loaded.Crawl.MaxDepth != 2 || loaded.Crawl.RunTimeout != 10*time.Minute {
		t.Errorf("crawl = %+v", loaded.Crawl)
	}
	if len(loaded.Output.Formats) != 1 || loaded.Output.Formats[0] != "csv" {
		t.Errorf("Formats = %v, 期望 [csv]", loaded.Output.Formats)
	}
	if len(loaded.Extract.Containers) != len(original.Extract.Containers) {
		t.Errorf("Containers = %v", loaded.Extract.Containers)
	}

	if err := WriteConfigFile(original, path, false); !errors.Is(err, os.ErrExist) {
		t.Errorf("err = %v, 期望 os.ErrExist", err)
	}
	if err := WriteConfigFile(original, path, true); err != nil {
		t.Errorf("overwrite时应成功: %v", err)
	}
}

func TestConfig_LogConfig(t *testing.T) {
	config := DefaultConfig()
	config.Logging.Level = "debug"

	lc := config.LogConfig()
	if lc.Level != "debug" || lc.LogDir != "logs" || lc.MaxSize != 10 {
		t.Errorf("LogConfig() = %+v", lc)
	}
}
