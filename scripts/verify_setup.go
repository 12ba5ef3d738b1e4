package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/shirou/gopsutil/v3/mem"
)

// 单个浏览器标签页的估算内存, 与 resource.session_memory_mb 默认值一致
const sessionMemoryMB = 150

func main() {
	fmt.Println("==============================================")
	fmt.Println("  productcrawl 环境验证")
	fmt.Println("==============================================")
	fmt.Println()

	allOK := true

	fmt.Printf("✅ Go版本: %s\n", runtime.Version())
	fmt.Printf("✅ 操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	// 动态模式需要本地Chrome/Chromium; 找不到时rod会在首次运行时下载
	if path, ok := launcher.LookPath(); ok {
		fmt.Printf("✅ 浏览器: %s\n", path)
	} else {
		fmt.Println("⚠️  未找到Chrome/Chromium - 首次动态爬取时将自动下载")
		fmt.Println("   也可以使用 -m static 只进行HTTP抓取")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		availableMB := vm.Available / 1024 / 1024
		fmt.Printf("✅ 可用内存: %d MB (约可同时打开 %d 个标签页)\n", availableMB, availableMB/sessionMemoryMB)
		if availableMB < 2*sessionMemoryMB {
			fmt.Println("⚠️  可用内存不足, 建议减少 --workers 或使用静态模式")
		}
	} else {
		fmt.Printf("⚠️  无法读取系统内存: %v\n", err)
	}

	fmt.Println()
	fmt.Println("检查Go模块依赖...")
	if _, err := os.Stat("go.mod"); err == nil {
		fmt.Println("✅ go.mod文件存在")

		fmt.Println("正在下载依赖...")
		if err := exec.Command("go", "mod", "download").Run(); err != nil {
			fmt.Printf("❌ go mod download失败: %v\n", err)
			allOK = false
		} else {
			fmt.Println("✅ 依赖下载完成")
		}
	} else {
		fmt.Println("❌ go.mod文件不存在")
		allOK = false
	}

	fmt.Println()
	fmt.Println("检查项目结构...")
	requiredDirs := []string{
		"cmd/productcrawl",
		"internal/core",
		"internal/crawlers",
		"internal/extractor",
		"internal/pipeline",
		"internal/models",
	}
	for _, dir := range requiredDirs {
		if _, err := os.Stat(dir); err == nil {
			fmt.Printf("✅ %s/\n", dir)
		} else {
			fmt.Printf("❌ %s/ 不存在\n", dir)
			allOK = false
		}
	}

	if _, err := os.Stat("configs/config.yaml"); err != nil {
		fmt.Println("⚠️  configs/config.yaml 不存在 - 将使用默认配置 (可运行 'productcrawl config init' 生成)")
	}

	fmt.Println()
	fmt.Println("==============================================")
	if !allOK {
		fmt.Println("❌ 环境验证失败,请解决上述问题。")
		os.Exit(1)
	}

	fmt.Println("✅ 环境验证通过!")
	fmt.Println()
	fmt.Println("下一步:")
	fmt.Println("  1. 运行 'go build -o productcrawl ./cmd/productcrawl' 构建项目")
	fmt.Println("  2. 运行 './productcrawl config init' 生成配置文件")
	fmt.Println("  3. 运行 './productcrawl --help' 查看帮助")
	if out := commandOutput("git", "rev-parse", "--short", "HEAD"); out != "" {
		fmt.Printf("\n当前版本: %s\n", out)
	}
}

// commandOutput 获取命令输出, 失败时返回空字符串
func commandOutput(name string, args ...string) string {
	output, err := exec.Command(name, args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}
