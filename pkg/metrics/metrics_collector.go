package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector 指标收集器
type MetricsCollector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 缓存指标
	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	// 编排层指标
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	fheCallsTotal     *prometheus.CounterVec
	chainTxTotal      *prometheus.CounterVec
	refreshTotal      *prometheus.CounterVec
	postsGauge        prometheus.Gauge

	// devnet 账本连接池
	dbConnections *prometheus.GaugeVec
	dbWaitCount   prometheus.Gauge
}

// NewMetricsCollector 创建指标收集器，reg 为 nil 时注册到默认 Registry
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &MetricsCollector{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		cacheHitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),

		cacheMissesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		operationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "social_operations_total",
				Help: "Orchestrated user intents by outcome",
			},
			[]string{"operation", "outcome"},
		),

		operationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "social_operation_duration_seconds",
				Help:    "Orchestrated user intent duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),

		fheCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fhe_network_calls_total",
				Help: "FHE client network round trips",
			},
			[]string{"call", "status"},
		),

		chainTxTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chain_transactions_total",
				Help: "Contract transactions by method and status",
			},
			[]string{"method", "status"},
		),

		refreshTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "social_refresh_total",
				Help: "Chain state re-reads by result",
			},
			[]string{"result"},
		),

		postsGauge: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "social_posts",
				Help: "Posts in the current view model",
			},
		),

		dbConnections: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "db_connections",
				Help: "Ledger database connections by state",
			},
			[]string{"state"},
		),

		dbWaitCount: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, code string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, code).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCacheOperation 记录缓存命中情况
func (m *MetricsCollector) RecordCacheOperation(cache string, hit bool) {
	if hit {
		m.cacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.cacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordOperation 记录一次用户操作，outcome 为错误类别或 success
func (m *MetricsCollector) RecordOperation(operation, outcome string, duration time.Duration) {
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFHECall 记录 FHE 网络调用
func (m *MetricsCollector) RecordFHECall(call string, ok bool) {
	m.fheCallsTotal.WithLabelValues(call, status(ok)).Inc()
}

// RecordTransaction 记录合约交易
func (m *MetricsCollector) RecordTransaction(method string, ok bool) {
	m.chainTxTotal.WithLabelValues(method, status(ok)).Inc()
}

// RecordRefresh 记录链上状态重读
func (m *MetricsCollector) RecordRefresh(result string, posts int) {
	m.refreshTotal.WithLabelValues(result).Inc()
	if result == "applied" {
		m.postsGauge.Set(float64(posts))
	}
}

// UpdateDBPool 更新连接池状态
func (m *MetricsCollector) UpdateDBPool(open, inUse, idle int, waitCount int64) {
	m.dbConnections.WithLabelValues("open").Set(float64(open))
	m.dbConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.dbConnections.WithLabelValues("idle").Set(float64(idle))
	m.dbWaitCount.Set(float64(waitCount))
}

// PerformanceTracker 性能跟踪器
type PerformanceTracker struct {
	startTime time.Time
	operation string
	collector *MetricsCollector
}

// NewPerformanceTracker 创建性能跟踪器
func NewPerformanceTracker(collector *MetricsCollector, operation string) *PerformanceTracker {
	return &PerformanceTracker{
		startTime: time.Now(),
		operation: operation,
		collector: collector,
	}
}

// Finish 完成跟踪
func (pt *PerformanceTracker) Finish(outcome string) {
	if pt.collector == nil {
		return
	}
	pt.collector.RecordOperation(pt.operation, outcome, time.Since(pt.startTime))
}
