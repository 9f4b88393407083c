package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 运行与设备维度的 Prometheus 指标
type Metrics struct {
	registry *prometheus.Registry

	Runs           *prometheus.CounterVec
	Devices        *prometheus.CounterVec
	Workflows      *prometheus.CounterVec
	DeviceDuration prometheus.Histogram
	ArtifactBytes  *prometheus.CounterVec
}

// New 在独立 registry 上注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ciscofetch",
			Name:      "runs_total",
			Help:      "Completed runs by status.",
		}, []string{"status"}),
		Devices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ciscofetch",
			Name:      "devices_total",
			Help:      "Processed devices by status.",
		}, []string{"status"}),
		Workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ciscofetch",
			Name:      "workflows_total",
			Help:      "Workflow invocations by workflow and result.",
		}, []string{"workflow", "result"}),
		DeviceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ciscofetch",
			Name:      "device_duration_seconds",
			Help:      "Wall time spent per device.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		ArtifactBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ciscofetch",
			Name:      "artifact_bytes_total",
			Help:      "Bytes written to the local artifact store.",
		}, []string{"artifact"}),
	}
	reg.MustRegister(m.Runs, m.Devices, m.Workflows, m.DeviceDuration, m.ArtifactBytes)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// ObserveWorkflow 记录一次工作流结果
func (m *Metrics) ObserveWorkflow(workflow string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Workflows.WithLabelValues(workflow, result).Inc()
}

// ObserveDevice 记录一台设备的最终状态与耗时
func (m *Metrics) ObserveDevice(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Devices.WithLabelValues(status).Inc()
	m.DeviceDuration.Observe(d.Seconds())
}

// ObserveRun 记录一次运行
func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
}

// ObserveArtifact 记录写入的制品大小
func (m *Metrics) ObserveArtifact(name string, size int64) {
	if m == nil {
		return
	}
	m.ArtifactBytes.WithLabelValues(name).Add(float64(size))
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
