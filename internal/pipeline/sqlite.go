package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RecoveryAshes/productcrawl/internal/models"
	"github.com/RecoveryAshes/productcrawl/internal/utils"

	_ "modernc.org/sqlite"
)

const productSchema = `
CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	price TEXT NOT NULL,
	image_url TEXT NOT NULL,
	page_url TEXT,
	scraped_at TEXT,
	UNIQUE(name, price, image_url)
);
CREATE INDEX IF NOT EXISTS idx_products_page ON products(page_url);
`

// SQLiteWriter 写入本地SQLite文件, 重复记录由唯一约束忽略
// 多次运行写入同一文件时会累积不同的商品
type SQLiteWriter struct {
	path string
	db   *sql.DB
}

// NewSQLiteWriter 打开(必要时创建)数据库并建表
func NewSQLiteWriter(path string) (*SQLiteWriter, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(context.Background(), productSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("创建数据表失败: %w", err)
	}

	return &SQLiteWriter{path: path, db: db}, nil
}

// Write 实现 Writer, 所有记录在一个事务中插入
func (sw *SQLiteWriter) Write(ctx context.Context, records []models.ProductRecord) error {
	tx, err := sw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT OR IGNORE INTO products (name, price, image_url, page_url, scraped_at)
	VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("准备插入语句失败: %w", err)
	}
	defer stmt.Close()

	inserted := int64(0)
	for _, r := range records {
		res, err := stmt.ExecContext(ctx, r.Name, r.Price, r.ImageURL, r.PageURL, formatTime(r.ScrapedAt))
		if err != nil {
			return fmt.Errorf("插入商品记录失败: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	utils.Debugf("SQLite写入 %d 条新记录 (共 %d 条): %s", inserted, len(records), sw.path)
	return nil
}

// Count 表中的记录数
func (sw *SQLiteWriter) Count(ctx context.Context) (int, error) {
	var n int
	if err := sw.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&n); err != nil {
		return 0, fmt.Errorf("统计记录失败: %w", err)
	}
	return n, nil
}

// Path 实现 Writer
func (sw *SQLiteWriter) Path() string { return sw.path }

// Close 实现 Writer
func (sw *SQLiteWriter) Close() error {
	return sw.db.Close()
}
