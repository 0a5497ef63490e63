package diag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 使用独立 Registry 的运行指标：
// - dumptree_op_total{comp,stage,result}
// - dumptree_error_total{comp,code}
// - dumptree_op_duration_seconds{comp,stage}
// - dumptree_files_written_total{origin}
// - dumptree_failures_total{kind}
//
// nil *Metrics 上的所有方法为 no-op。
type Metrics struct {
	reg      *prometheus.Registry
	ops      *prometheus.CounterVec
	errs     *prometheus.CounterVec
	dur      *prometheus.HistogramVec
	files    *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewMetrics 在新的 Registry 上注册全部指标。
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		ops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dumptree_op_total",
			Help: "Stage operations by component and result.",
		}, []string{"comp", "stage", "result"}),
		errs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dumptree_error_total",
			Help: "Errors by component and classification code.",
		}, []string{"comp", "code"}),
		dur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dumptree_op_duration_seconds",
			Help:    "Stage duration.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"comp", "stage"}),
		files: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dumptree_files_written_total",
			Help: "Files committed to the output root by origin.",
		}, []string{"origin"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dumptree_failures_total",
			Help: "Per-file failures by kind.",
		}, []string{"kind"}),
	}
}

// Registry 返回底层 Registry（供导出与测试）。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// IncOp 累加操作计数（result=success|error）。
func (m *Metrics) IncOp(comp, stage, result string) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数；CodeUnknown 不计入。
func (m *Metrics) IncError(comp string, code Code) {
	if m == nil || code == CodeUnknown {
		return
	}
	m.errs.WithLabelValues(comp, string(code)).Inc()
}

// ObserveDuration 记录阶段耗时。
func (m *Metrics) ObserveDuration(comp, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.dur.WithLabelValues(comp, stage).Observe(d.Seconds())
}

// FileWritten 记录一次成功落盘。
func (m *Metrics) FileWritten(origin string) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(origin).Inc()
}

// Failure 记录一次单文件失败。
func (m *Metrics) Failure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

// WriteTextfile 以 node_exporter textfile 格式导出全部指标。
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.reg)
}
