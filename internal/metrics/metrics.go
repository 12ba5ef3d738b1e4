// Package metrics 爬取过程的Prometheus指标
//
// 所有方法对nil接收者安全, 未启用指标时可直接传nil
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 爬取指标集合, 注册在独立的Registry上
type Metrics struct {
	Registry *prometheus.Registry

	PagesTotal       *prometheus.CounterVec
	RenderDuration   *prometheus.HistogramVec
	RenderFailures   *prometheus.CounterVec
	RetriesTotal     prometheus.Counter
	RecordsExtracted prometheus.Counter
	RecordsUnique    prometheus.Counter
	LinksTotal       *prometheus.CounterVec
	InFlight         prometheus.Gauge
	QueueDepth       prometheus.Gauge
}

// New 创建并注册全部指标
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		PagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "productcrawl_pages_total",
			Help: "Pages processed, by outcome (rendered, failed, empty).",
		}, []string{"outcome"}),
		RenderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "productcrawl_render_duration_seconds",
			Help:    "Time spent rendering a single page attempt.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"renderer"}),
		RenderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "productcrawl_render_failures_total",
			Help: "Failed render attempts by error type.",
		}, []string{"error_type"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "productcrawl_retries_total",
			Help: "Render attempts beyond the first.",
		}),
		RecordsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "productcrawl_records_extracted_total",
			Help: "Product records extracted before cross-page de-duplication.",
		}),
		RecordsUnique: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "productcrawl_records_unique_total",
			Help: "Product records accepted by the aggregator.",
		}),
		LinksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "productcrawl_links_total",
			Help: "Discovered links by decision (enqueued, visited, depth, robots, other).",
		}, []string{"decision"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "productcrawl_pages_in_flight",
			Help: "Pages currently being rendered.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "productcrawl_frontier_pending",
			Help: "Targets waiting in the frontier.",
		}),
	}

	registry.MustRegister(
		m.PagesTotal,
		m.RenderDuration,
		m.RenderFailures,
		m.RetriesTotal,
		m.RecordsExtracted,
		m.RecordsUnique,
		m.LinksTotal,
		m.InFlight,
		m.QueueDepth,
	)

	return m
}

// IncPage 页面处理结果计数
func (m *Metrics) IncPage(outcome string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRender 记录一次渲染耗时
func (m *Metrics) ObserveRender(renderer string, d time.Duration) {
	if m == nil {
		return
	}
	m.RenderDuration.WithLabelValues(renderer).Observe(d.Seconds())
}

// IncRenderFailure 渲染失败计数
func (m *Metrics) IncRenderFailure(errorType string) {
	if m == nil {
		return
	}
	m.RenderFailures.WithLabelValues(errorType).Inc()
}

// IncRetries 重试计数
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// AddRecords 记录提取数和去重后新增数
func (m *Metrics) AddRecords(extracted, unique int) {
	if m == nil {
		return
	}
	m.RecordsExtracted.Add(float64(extracted))
	m.RecordsUnique.Add(float64(unique))
}

// IncLink 链接处理决策计数
func (m *Metrics) IncLink(decision string) {
	if m == nil {
		return
	}
	m.LinksTotal.WithLabelValues(decision).Inc()
}

// PageStarted 进入渲染
func (m *Metrics) PageStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// PageFinished 离开渲染
func (m *Metrics) PageFinished() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

// SetQueueDepth 更新frontier待处理数量
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
