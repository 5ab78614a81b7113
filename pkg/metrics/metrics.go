package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "attendance"

// 扫码结果标签
const (
	ScanAccepted     = "accepted"
	ScanForged       = "forged"
	ScanExpired      = "expired"
	ScanClosed       = "session_closed"
	ScanStaleRound   = "stale_round"
	ScanOutOfRange   = "out_of_range"
	ScanInvalidRound = "invalid_round"
	ScanError        = "error"
)

// Metrics 签到核心的 Prometheus 指标
// 所有方法对 nil 接收者安全，未启用指标时可直接传 nil
type Metrics struct {
	registry       *prometheus.Registry
	scans          *prometheus.CounterVec
	upsertRetries  prometheus.Counter
	upsertDuration prometheus.Histogram
	rotations      prometheus.Counter
	violations     prometheus.Counter
	repaired       prometheus.Counter
}

// New 创建独立 Registry 并注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "扫码请求数，按结果分类",
		}, []string{"result"}),
		upsertRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upsert_retries_total",
			Help:      "存储冲突导致的 upsert 重试次数",
		}),
		upsertDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upsert_duration_seconds",
			Help:      "签到记录 upsert 耗时",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 3},
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secret_rotations_total",
			Help:      "会话密钥轮换次数",
		}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_violations_total",
			Help:      "审计发现的重复键组数",
		}),
		repaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_repaired_rows_total",
			Help:      "审计修复删除的重复行数",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scans, m.upsertRetries, m.upsertDuration, m.rotations, m.violations, m.repaired,
	)
	return m
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveScan(result string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(result).Inc()
}

func (m *Metrics) IncUpsertRetry() {
	if m == nil {
		return
	}
	m.upsertRetries.Inc()
}

func (m *Metrics) ObserveUpsert(d time.Duration) {
	if m == nil {
		return
	}
	m.upsertDuration.Observe(d.Seconds())
}

func (m *Metrics) IncRotation() {
	if m == nil {
		return
	}
	m.rotations.Inc()
}

func (m *Metrics) AddViolations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.violations.Add(float64(n))
}

func (m *Metrics) AddRepaired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.repaired.Add(float64(n))
}
