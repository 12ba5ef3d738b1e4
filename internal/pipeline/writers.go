package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/RecoveryAshes/productcrawl/internal/utils"
)

// 输出格式
const (
	FormatJSON   = "json"
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"
)

// Writer 把一次运行的全部商品记录写入目标
type Writer interface {
	Write(ctx context.Context, records []models.ProductRecord) error
	Path() string
	Close() error
}

// NewWriters 在outputDir下为每种格式创建写入器
//
//	json   -> products.json
//	csv    -> products.csv
//	sqlite -> products.db
func NewWriters(outputDir string, formats []string) (*MultiWriter, error) {
	if len(formats) == 0 {
		formats = []string{FormatJSON}
	}

	mw := &MultiWriter{}
	seen := make(map[string]bool)
	for _, format := range formats {
		format = strings.ToLower(strings.TrimSpace(format))
		if seen[format] {
			continue
		}
		seen[format] = true

		var w Writer
		var err error
		switch format {
		case FormatJSON:
			w = NewJSONWriter(filepath.Join(outputDir, "products.json"))
		case FormatCSV:
			w = NewCSVWriter(filepath.Join(outputDir, "products.csv"))
		case FormatSQLite:
			w, err = NewSQLiteWriter(filepath.Join(outputDir, "products.db"))
		default:
			err = fmt.Errorf("不支持的输出格式: %s", format)
		}
		if err != nil {
			_ = mw.Close()
			return nil, err
		}
		mw.writers = append(mw.writers, w)
	}
	return mw, nil
}

// JSONWriter 以缩进的JSON数组写出, 没有记录时写出 []
type JSONWriter struct {
	path string
}

// NewJSONWriter 创建JSON写入器, 文件在Write时创建
func NewJSONWriter(path string) *JSONWriter {
	return &JSONWriter{path: path}
}

// Write 实现 Writer
func (jw *JSONWriter) Write(_ context.Context, records []models.ProductRecord) error {
	if records == nil {
		records = []models.ProductRecord{}
	}
	if err := ensureDir(jw.path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化商品数据失败: %w", err)
	}
	if err := os.WriteFile(jw.path, data, 0644); err != nil {
		return fmt.Errorf("写入JSON文件失败: %w", err)
	}

	utils.Debugf("已写入 %d 条商品记录: %s", len(records), jw.path)
	return nil
}

// Path 实现 Writer
func (jw *JSONWriter) Path() string { return jw.path }

// Close 实现 Writer
func (jw *JSONWriter) Close() error { return nil }

// CSVWriter 写出带表头的CSV
type CSVWriter struct {
	path string
}

// NewCSVWriter 创建CSV写入器
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{path: path}
}

var csvHeader = []string{"name", "price", "image_url", "page_url", "scraped_at"}

// Write 实现 Writer
func (cw *CSVWriter) Write(_ context.Context, records []models.ProductRecord) error {
	if err := ensureDir(cw.path); err != nil {
		return err
	}

	f, err := os.Create(cw.path)
	if err != nil {
		return fmt.Errorf("创建CSV文件失败: %w", err)
	}
	defer f.Close()

	buffer := bufio.NewWriter(f)
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("写入CSV表头失败: %w", err)
	}
	for _, r := range records {
		row := []string{r.Name, r.Price, r.ImageURL, r.PageURL, formatTime(r.ScrapedAt)}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("写入CSV记录失败: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("刷新CSV写入器失败: %w", err)
	}
	if err := buffer.Flush(); err != nil {
		return fmt.Errorf("刷新CSV文件失败: %w", err)
	}

	utils.Debugf("已写入 %d 条商品记录: %s", len(records), cw.path)
	return nil
}

// Path 实现 Writer
func (cw *CSVWriter) Path() string { return cw.path }

// Close 实现 Writer
func (cw *CSVWriter) Close() error { return nil }

// MultiWriter 依次写入多个目标
type MultiWriter struct {
	writers []Writer
}

// Write 写入所有目标, 单个目标失败不影响其他目标
func (mw *MultiWriter) Write(ctx context.Context, records []models.ProductRecord) error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Write(ctx, records); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", w.Path(), err))
		}
	}
	return errors.Join(errs...)
}

// Paths 所有输出文件路径
func (mw *MultiWriter) Paths() []string {
	paths := make([]string, 0, len(mw.writers))
	for _, w := range mw.writers {
		paths = append(paths, w.Path())
	}
	return paths
}

// Close 关闭所有目标
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败 %q: %w", dir, err)
	}
	return nil
}
