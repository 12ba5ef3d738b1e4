package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/config"
	"github.com/RecoveryAshes/productcrawl/internal/core"
	"github.com/RecoveryAshes/productcrawl/internal/metrics"
	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/RecoveryAshes/productcrawl/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// HTTP头部参数
	headers        []string // 自定义HTTP请求头
	headersFile    string
	validateConfig bool // 验证配置文件

	// 爬取参数
	targetURL     string
	urlFile       string
	depth         int
	retries       int
	mode          string
	workers       int
	navTimeout    time.Duration
	settleDelay   time.Duration
	runTimeout    time.Duration
	headless      bool
	respectRobots bool
	outputDir     string
	formats       []string
	metricsAddr   string

	// 批量处理参数
	concurrency     int
	continueOnError bool

	// config init 参数
	forceInit bool
)

// appConfig 由 PersistentPreRunE 加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "productcrawl",
	Short: "商品目录爬取工具",
	Long: `productcrawl - 从站内链接图中爬取商品信息 (名称、价格、图片)

支持:
  • 浏览器渲染 (懒加载滚动、弹窗自动确认) 和静态HTTP抓取
  • 同源链接的并发广度遍历, 深度限制与URL去重
  • 按选择器链提取商品, 跨页面去重
  • 输出 JSON / CSV / SQLite
  • 批量URL处理
  • 自定义HTTP请求头

示例:
  productcrawl -u https://shop.example.com -d 2
  productcrawl -u https://shop.example.com -m static --format json,csv
  productcrawl -f urls.txt --concurrency 2 -o output
  productcrawl -u https://shop.example.com -H "User-Agent: ShopBot/1.0"
  productcrawl config init

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 加载配置
		cfg, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		appConfig = cfg

		logConfig := cfg.LogConfig()
		// 命令行参数覆盖配置文件
		if logLevel != "" {
			logConfig.Level = logLevel
		} else if verbose {
			logConfig.Level = "debug"
		}

		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		if verbose {
			utils.Info("详细模式已启用")
		}
		return nil
	},
	RunE: runCrawl,
}

func runCrawl(cmd *cobra.Command, args []string) error {
	// Ctrl+C 取消运行, 已收集的部分结果仍会写出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := applyFlags(cmd, appConfig); err != nil {
		return err
	}

	headerManager, err := core.NewHeaderManager(appConfig.HeadersFile, headers)
	if err != nil {
		return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}

	// 如果用户请求验证配置
	if validateConfig {
		return runValidateConfig(headerManager)
	}

	// 如果没有提供任何参数,显示帮助信息
	if targetURL == "" && urlFile == "" {
		return cmd.Help()
	}

	if err := ValidateFlags(targetURL, urlFile); err != nil {
		return err
	}
	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}

	m := metrics.New()
	if appConfig.Metrics.Addr != "" {
		server, err := metrics.Start(appConfig.Metrics.Addr, m)
		if err != nil {
			return fmt.Errorf("启动指标服务失败: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	utils.Debugf("HTTP头部: %s", headerManager.SafeHeaders())

	crawler, err := core.NewCrawler(appConfig, headerManager, m)
	if err != nil {
		return fmt.Errorf("创建爬取器失败: %w", err)
	}

	// 检查是否为批量处理模式
	if urlFile != "" {
		urls, err := utils.ReadURLsFromFile(urlFile)
		if err != nil {
			return fmt.Errorf("读取URL文件失败: %w", err)
		}

		batchCrawler := core.NewBatchCrawler(crawler, concurrency, continueOnError)
		if _, err := batchCrawler.CrawlBatch(ctx, urls); err != nil {
			return fmt.Errorf("批量爬取失败: %w", err)
		}

		utils.Info("✨ 批量爬取任务完成!")
		return nil
	}

	seed, err := NormalizeSeedURL(targetURL)
	if err != nil {
		return err
	}

	report, err := crawler.WithProgress(os.Stderr).Crawl(ctx, seed)
	if report != nil {
		printStats(report)
	}
	if err != nil {
		if models.IsCancellation(err) {
			utils.Warn("任务被中断, 已写出部分结果")
		}
		return fmt.Errorf("爬取失败: %w", err)
	}

	utils.Info("✨ 爬取任务完成!")
	return nil
}

// applyFlags 命令行显式指定的参数覆盖配置文件
func applyFlags(cmd *cobra.Command, cfg *core.Config) error {
	flags := cmd.Flags()

	if flags.Changed("depth") {
		cfg.Crawl.MaxDepth = depth
	}
	if flags.Changed("retries") {
		cfg.Crawl.Retries = retries
	}
	if flags.Changed("mode") {
		m, err := models.ParseCrawlMode(mode)
		if err != nil {
			return err
		}
		cfg.Crawl.Mode = m
	}
	if flags.Changed("workers") {
		cfg.Crawl.Workers = workers
	}
	if flags.Changed("timeout") {
		cfg.Render.NavigationTimeout = navTimeout
	}
	if flags.Changed("settle") {
		cfg.Render.SettleDelay = settleDelay
	}
	if flags.Changed("run-timeout") {
		cfg.Crawl.RunTimeout = runTimeout
	}
	if flags.Changed("headless") {
		cfg.Render.Headless = headless
	}
	if flags.Changed("respect-robots") {
		cfg.Crawl.RespectRobots = respectRobots
	}
	if flags.Changed("output") {
		cfg.Output.BaseDir = outputDir
	}
	if flags.Changed("format") {
		cfg.Output.Formats = formats
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	if flags.Changed("headers-file") {
		cfg.HeadersFile = headersFile
	}
	return nil
}

// runValidateConfig 验证配置和HTTP头部, 显示脱敏后的结果
func runValidateConfig(headerManager *core.HeaderManager) error {
	utils.Info("🔍 验证配置...")
	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}
	if err := headerManager.Validate(); err != nil {
		return fmt.Errorf("HTTP头部验证失败: %w", err)
	}

	utils.Info("✅ 配置验证通过!")
	utils.Infof("渲染模式: %s, 最大深度: %d, 并发: %d",
		appConfig.Crawl.Mode, appConfig.Crawl.MaxDepth, appConfig.Crawl.Workers)
	utils.Infof("当前有效的HTTP头部: %s", headerManager.SafeHeaders())
	return nil
}

func printStats(report *models.CrawlReport) {
	stats := report.Stats
	fmt.Println("\n==================================================")
	fmt.Println("📊 爬取统计")
	fmt.Println("==================================================")
	fmt.Printf("✅ 访问页面: %d\n", stats.VisitedPages)
	fmt.Printf("✅ 渲染成功: %d\n", stats.RenderedPages)
	fmt.Printf("❌ 渲染失败: %d\n", stats.FailedPages)
	fmt.Printf("🔁 重试次数: %d\n", stats.Retries)
	fmt.Printf("📦 商品数(去重): %d / 提取 %d (重复 %d)\n", stats.UniqueRecords, stats.RecordsExtracted, stats.DuplicateRecords)
	if report.Truncated {
		fmt.Printf("⏰ 运行截止, 未调度目标: %d\n", stats.AbandonedTargets)
	}
	for _, file := range report.OutputFiles {
		fmt.Printf("💾 %s\n", file)
	}
	fmt.Printf("⏱️  总耗时: %.2f秒\n", stats.Duration)
	fmt.Println("==================================================")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("productcrawl %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "配置文件管理",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "生成默认配置文件和HTTP头部模板",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join("configs", "config.yaml")
		if len(args) == 1 {
			path = args[0]
		}

		if err := core.WriteConfigFile(core.DefaultConfig(), path, forceInit); err != nil {
			if errors.Is(err, os.ErrExist) {
				return fmt.Errorf("%w (使用 --force 覆盖)", err)
			}
			return err
		}
		utils.Infof("✅ 已生成配置文件: %s", path)

		headersPath := filepath.Join(filepath.Dir(path), "headers.yaml")
		if err := config.NewHeaderConfigLoader(headersPath).WriteTemplate(forceInit); err != nil {
			if !errors.Is(err, os.ErrExist) {
				return err
			}
			utils.Warnf("HTTP头部配置已存在, 跳过: %s", headersPath)
			return nil
		}
		utils.Infof("✅ 已生成HTTP头部模板: %s", headersPath)
		return nil
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.Flags().StringVar(&headersFile, "headers-file", "", "HTTP头部配置文件 (默认 configs/headers.yaml)")
	rootCmd.Flags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件正确性")

	// 爬取参数
	rootCmd.Flags().StringVarP(&targetURL, "url", "u", "", "种子URL (必需,除非使用 --url-file)")
	rootCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含URL列表的文件路径")
	rootCmd.Flags().IntVarP(&depth, "depth", "d", 3, "最大爬取深度 (0-10)")
	rootCmd.Flags().IntVarP(&retries, "retries", "r", 3, "每个页面的最大尝试次数 (1-10)")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "dynamic", "渲染模式 (dynamic|static|all)")
	rootCmd.Flags().IntVar(&workers, "workers", 4, "并发worker数")
	rootCmd.Flags().DurationVar(&navTimeout, "timeout", 120*time.Second, "单次页面导航超时")
	rootCmd.Flags().DurationVar(&settleDelay, "settle", 3*time.Second, "滚动后稳定等待时间")
	rootCmd.Flags().DurationVar(&runTimeout, "run-timeout", 0, "整体运行截止时间, 0表示不限")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.Flags().BoolVar(&respectRobots, "respect-robots", false, "遵守robots.txt")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "output", "输出目录")
	rootCmd.Flags().StringSliceVar(&formats, "format", []string{"json"}, "输出格式 (json,csv,sqlite)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus指标监听地址, 如 :9090")

	// 批量处理参数
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 1, "批量模式下同时爬取的种子数")
	rootCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "遇到错误继续处理")

	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "覆盖已存在的文件")
	configCmd.AddCommand(configInitCmd)

	// 添加子命令
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
