package pipeline

import (
	"sync"

	"github.com/RecoveryAshes/productcrawl/internal/models"
)

// Aggregator 跨页面汇总商品记录, 按 (name, price, imageUrl) 去重, 先到先得
// 可被多个worker并发调用
type Aggregator struct {
	mu         sync.Mutex
	index      map[string]struct{}
	records    []models.ProductRecord
	duplicates int
}

// NewAggregator 创建汇总器
func NewAggregator() *Aggregator {
	return &Aggregator{index: make(map[string]struct{})}
}

// Add 合并一批记录, 返回新增的数量
// 不完整的记录直接丢弃
func (a *Aggregator) Add(records []models.ProductRecord) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	added := 0
	for _, r := range records {
		if !r.IsComplete() {
			continue
		}
		key := r.Key()
		if _, ok := a.index[key]; ok {
			a.duplicates++
			continue
		}
		a.index[key] = struct{}{}
		a.records = append(a.records, r)
		added++
	}
	return added
}

// Records 按首次出现顺序返回快照
func (a *Aggregator) Records() []models.ProductRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.ProductRecord, len(a.records))
	copy(out, a.records)
	return out
}

// Len 去重后的记录数
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Duplicates 被去重丢弃的记录数
func (a *Aggregator) Duplicates() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.duplicates
}
