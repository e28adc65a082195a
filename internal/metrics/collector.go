// Package metrics 暴露引擎任务的 Prometheus 指标。每个 Collector 使用独立的
// Registry，避免测试之间或多实例之间重复注册。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pad_engine"

// 任务结果标签值。
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeCacheHit = "cache_hit"
)

// Collector 汇总任务计数、耗时与实际解压次数。方法对 nil 接收者安全。
type Collector struct {
	registry *prometheus.Registry

	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	queueWait   *prometheus.HistogramVec
	extractions *prometheus.CounterVec
}

// New 创建指标收集器并注册 Go 运行时指标。
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of engine jobs by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	c.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Engine job execution time in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	c.queueWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_queue_wait_seconds",
			Help:      "Time a job waited for a worker slot",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"kind"},
	)

	c.extractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Archive extractions performed, by mode (entry or full)",
		},
		[]string{"mode"},
	)

	c.registry.MustRegister(
		c.jobsTotal,
		c.jobDuration,
		c.queueWait,
		c.extractions,
		collectors.NewGoCollector(),
	)
	return c
}

// ObserveJob 记录一次任务完成。
func (c *Collector) ObserveJob(kind, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.jobsTotal.WithLabelValues(kind, outcome).Inc()
	c.jobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveQueueWait 记录任务等待执行槽位的时长。
func (c *Collector) ObserveQueueWait(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.queueWait.WithLabelValues(kind).Observe(d.Seconds())
}

// IncExtraction 记录一次真实解压，mode 为 entry 或 full。
func (c *Collector) IncExtraction(mode string) {
	if c == nil {
		return
	}
	c.extractions.WithLabelValues(mode).Inc()
}

// Handler 返回 /metrics 的 HTTP 处理器。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
