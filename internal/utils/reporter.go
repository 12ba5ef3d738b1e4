package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter 报告生成器
type Reporter struct {
	outputDir string
	domain    string
}

// NewReporter 创建报告生成器
func NewReporter(outputDir string, domain string) *Reporter {
	return &Reporter{
		outputDir: outputDir,
		domain:    domain,
	}
}

// ReportsDir 报告目录: <output>/<domain>/reports
func (r *Reporter) ReportsDir() string {
	return filepath.Join(r.outputDir, r.domain, "reports")
}

// GenerateReport 生成爬取报告
// 写入 crawl_report.json 与 failed_pages.json
func (r *Reporter) GenerateReport(report *models.CrawlReport) error {
	reportsDir := r.ReportsDir()
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return fmt.Errorf("创建报告目录失败: %w", err)
	}

	if report.FailedPages == nil {
		report.FailedPages = []models.PageFailure{}
	}

	reportData, err := report.ToJSON()
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}
	if err := r.writeReportFile(reportsDir, "crawl_report.json", reportData); err != nil {
		return err
	}
	if err := r.saveJSONReport(reportsDir, "failed_pages.json", report.FailedPages); err != nil {
		return err
	}

	Infof("✅ 报告已生成: %s", reportsDir)
	return nil
}

// saveJSONReport 保存JSON报告
func (r *Reporter) saveJSONReport(dir string, filename string, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	return r.writeReportFile(dir, filename, jsonData)
}

func (r *Reporter) writeReportFile(dir string, filename string, jsonData []byte) error {
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return nil
}

// NewProgressBar 创建进度条, out为nil时输出到标准输出
func NewProgressBar(max int, description string, out io.Writer) *progressbar.ProgressBar {
	options := []progressbar.Option{
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	}
	if out != nil {
		options = append(options, progressbar.OptionSetWriter(out))
	}
	return progressbar.NewOptions(max, options...)
}

// NewPageSpinner 页面总数未知时使用的计数器
func NewPageSpinner(description string, out io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
}
