package models

// CrawlTarget 表示frontier中的一个待爬取目标
// 用途:
//   - 在队列中传递URL和深度信息
//   - 出队并处理完成后即被丢弃,只由frontier持有
type CrawlTarget struct {
	// URL 归一化后的绝对URL
	URL string

	// Depth 目标的深度层级
	//   - 0: 种子URL
	//   - 1: 从种子页面发现的链接
	//   - 以此类推...
	Depth int

	// SourceURL 发现此URL的源页面(可选,用于调试)
	SourceURL string
}
