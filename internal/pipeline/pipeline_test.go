package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/models"
)

func record(name, price, image string) models.ProductRecord {
	return models.ProductRecord{
		Name:      name,
		Price:     price,
		ImageURL:  image,
		PageURL:   "https://shop.example.com/",
		ScrapedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestAggregator_Add(t *testing.T) {
	agg := NewAggregator()

	added := agg.Add([]models.ProductRecord{
		record("Lamp", "$10", "https://cdn/a.jpg"),
		record("Chair", "$25", "https://cdn/c.jpg"),
	})
	if added != 2 {
		t.Errorf("第一批新增 = %d, 期望 2", added)
	}

	dup := record("  lamp ", "$10", "https://cdn/a.jpg")
	dup.PageURL = "https://shop.example.com/other"
	added = agg.Add([]models.ProductRecord{
		dup,
		record("Desk", "", "https://cdn/d.jpg"),
		record("Sofa", "$500", "https://cdn/s.jpg"),
	})
	if added != 1 {
		t.Errorf("第二批新增 = %d, 期望 1", added)
	}

	records := agg.Records()
	if len(records) != 3 {
		t.Fatalf("记录数 = %d, 期望 3", len(records))
	}
	if records[0].Name != "Lamp" || records[0].PageURL != "https://shop.example.com/" {
		t.Errorf("先到的记录应保留: %+v", records[0])
	}
	if agg.Duplicates() != 1 {
		t.Errorf("重复数 = %d, 期望 1", agg.Duplicates())
	}
	if agg.Len() != 3 {
		t.Errorf("Len() = %d, 期望 3", agg.Len())
	}
}

func TestAggregator_Concurrent(t *testing.T) {
	agg := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Add([]models.ProductRecord{
				record("Lamp", "$10", "https://cdn/a.jpg"),
				record("Chair", "$25", "https://cdn/c.jpg"),
			})
		}()
	}
	wg.Wait()

	if agg.Len() != 2 {
		t.Errorf("Len() = %d, 期望 2", agg.Len())
	}
	if agg.Duplicates() != 38 {
		t.Errorf("重复数 = %d, 期望 38", agg.Duplicates())
	}
}

func TestJSONWriter(t *testing.T) {
	ctx := context.Background()

	t.Run("写入记录", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "shop", "products.json")
		w := NewJSONWriter(path)
		if err := w.Write(ctx, []models.ProductRecord{record("Lamp", "$10", "https://cdn/a.jpg")}); err != nil {
			t.Fatalf("写入失败: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("读取失败: %v", err)
		}
		var loaded []models.ProductRecord
		if err := json.Unmarshal(data, &loaded); err != nil {
			t.Fatalf("解析失败: %v", err)
		}
		if len(loaded) != 1 || loaded[0].ImageURL != "https://cdn/a.jpg" {
			t.Errorf("loaded = %+v", loaded)
		}
	})

	t.Run("空结果写出空数组", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "products.json")
		if err := NewJSONWriter(path).Write(ctx, nil); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "[]" {
			t.Errorf("内容 = %q, 期望 []", string(data))
		}
	})
}

func TestCSVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.csv")
	w := NewCSVWriter(path)
	records := []models.ProductRecord{
		record("Lamp, large", "$10", "https://cdn/a.jpg"),
		record("Chair", "$25", "https://cdn/c.jpg"),
	}
	if err := w.Write(context.Background(), records); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("打开失败: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("解析CSV失败: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("行数 = %d, 期望 3 (含表头)", len(rows))
	}
	if rows[0][0] != "name" || rows[1][0] != "Lamp, large" {
		t.Errorf("rows = %v", rows)
	}
	if rows[1][4] != "2024-01-02T03:04:05Z" {
		t.Errorf("scraped_at = %q", rows[1][4])
	}
}

func TestSQLiteWriter(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "products.db")

	w, err := NewSQLiteWriter(path)
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	defer w.Close()

	first := []models.ProductRecord{
		record("Lamp", "$10", "https://cdn/a.jpg"),
		record("Chair", "$25", "https://cdn/c.jpg"),
	}
	if err := w.Write(ctx, first); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	second := []models.ProductRecord{
		record("Lamp", "$10", "https://cdn/a.jpg"),
		record("Sofa", "$500", "https://cdn/s.jpg"),
	}
	if err := w.Write(ctx, second); err != nil {
		t.Fatalf("第二次写入失败: %v", err)
	}

	n, err := w.Count(ctx)
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if n != 3 {
		t.Errorf("记录数 = %d, 期望 3", n)
	}
}

func TestNewWriters(t *testing.T) {
	t.Run("多种格式", func(t *testing.T) {
		dir := t.TempDir()
		mw, err := NewWriters(dir, []string{"json", "CSV", "json"})
		if err != nil {
			t.Fatalf("创建失败: %v", err)
		}
		defer mw.Close()

		paths := mw.Paths()
		if len(paths) != 2 {
			t.Fatalf("paths = %v, 期望 2 个", paths)
		}
		if err := mw.Write(context.Background(), []models.ProductRecord{record("Lamp", "$10", "https://cdn/a.jpg")}); err != nil {
			t.Fatalf("写入失败: %v", err)
		}
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				t.Errorf("输出文件不存在: %s", p)
			}
		}
	})

	t.Run("默认JSON", func(t *testing.T) {
		mw, err := NewWriters(t.TempDir(), nil)
		if err != nil {
			t.Fatalf("创建失败: %v", err)
		}
		if paths := mw.Paths(); len(paths) != 1 || filepath.Base(paths[0]) != "products.json" {
			t.Errorf("paths = %v", paths)
		}
	})

	t.Run("不支持的格式", func(t *testing.T) {
		if _, err := NewWriters(t.TempDir(), []string{"xml"}); err == nil {
			t.Error("期望返回错误")
		}
	})
}
