package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/RecoveryAshes/productcrawl/internal/models"
)

func TestHeaderConfigLoader_LoadConfig(t *testing.T) {
	t.Run("读取已存在的配置", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "headers.yaml")
		content := `user_agent: "ShopBot/2.0"
headers:
  Accept-Language: "de-DE"
  X-Custom: "test value"
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := NewHeaderConfigLoader(path).LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.UserAgent != "ShopBot/2.0" {
			t.Errorf("UserAgent = %q, 期望 ShopBot/2.0", cfg.UserAgent)
		}
		if cfg.Headers["accept-language"] != "de-DE" {
			t.Errorf("accept-language = %q, 期望 de-DE", cfg.Headers["accept-language"])
		}
		if cfg.Headers["x-custom"] != "test value" {
			t.Errorf("x-custom = %q, 期望 'test value'", cfg.Headers["x-custom"])
		}
	})

	t.Run("空headers初始化为空map", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "headers.yaml")
		_ = os.WriteFile(path, []byte("headers:\n"), 0644)

		cfg, err := NewHeaderConfigLoader(path).LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Headers == nil {
			t.Error("Headers 应初始化为空map")
		}
	})

	t.Run("YAML格式错误", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "headers.yaml")
		_ = os.WriteFile(path, []byte("headers:\n  User-Agent: \"broken\n"), 0644)

		_, err := NewHeaderConfigLoader(path).LoadConfig()
		var ce *models.ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("期望 *models.ConfigError, 得到 %v", err)
		}
	})

	t.Run("文件过大", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "headers.yaml")
		_ = os.WriteFile(path, make([]byte, MaxConfigFileSize+1), 0644)

		if _, err := NewHeaderConfigLoader(path).LoadConfig(); err == nil {
			t.Error("超大配置文件应被拒绝")
		}
	})

	t.Run("显式路径不存在", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing.yaml")
		if _, err := NewHeaderConfigLoader(path).LoadConfig(); err == nil {
			t.Error("显式指定的文件不存在时应返回错误")
		}
	})
}

func TestHeaderConfigLoader_DefaultPathMissing(t *testing.T) {
	// 默认路径是相对路径, 切换到空目录中执行
	t.Chdir(t.TempDir())

	cfg, err := NewHeaderConfigLoader("").LoadConfig()
	if err != nil {
		t.Fatalf("默认路径缺失时不应报错: %v", err)
	}
	if len(cfg.Headers) != 0 {
		t.Errorf("期望空头部, 得到 %v", cfg.Headers)
	}
}

func TestHeaderConfigLoader_WriteTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "headers.yaml")
	loader := NewHeaderConfigLoader(path)

	if err := loader.WriteTemplate(false); err != nil {
		t.Fatalf("WriteTemplate() error = %v", err)
	}
	if err := loader.WriteTemplate(false); !errors.Is(err, os.ErrExist) {
		t.Errorf("重复写入应返回 os.ErrExist, 得到 %v", err)
	}
	if err := loader.WriteTemplate(true); err != nil {
		t.Errorf("overwrite 时不应报错: %v", err)
	}

	cfg, err := loader.LoadConfig()
	if err != nil {
		t.Fatalf("模板应可直接加载: %v", err)
	}
	if cfg.Headers["accept-language"] == "" {
		t.Error("模板应包含 Accept-Language")
	}
}
