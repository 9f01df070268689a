// Package metrics 后台流水线的 Prometheus 指标。
// 所有记录方法对 nil *Metrics 安全，组件可以不接指标直接运行。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meetflow"

// Metrics 流水线指标
type Metrics struct {
	// 上传
	UploadsStarted        prometheus.Counter
	UploadsFinished       *prometheus.CounterVec // status
	UploadProgressUpdates prometheus.Counter

	// 转录
	StrategySelections *prometheus.CounterVec // strategy
	ChunkResults       *prometheus.CounterVec // result

	// 处理流水线
	ProcessingStages *prometheus.CounterVec // stage, result

	// 持久化
	PersistAttempts *prometheus.CounterVec // operation, result

	// worker 池
	TasksInFlight prometheus.Gauge
	TaskDuration  *prometheus.HistogramVec // kind
}

// NewMetrics 创建并注册到 reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		UploadsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_started_total",
			Help:      "Total number of uploads accepted",
		}),
		UploadsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_finished_total",
			Help:      "Total number of uploads that reached a terminal status",
		}, []string{"status"}),
		UploadProgressUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_progress_updates_total",
			Help:      "Total number of recorded upload percent increases",
		}),
		StrategySelections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_strategy_total",
			Help:      "Transcription strategy chosen per file",
		}, []string{"strategy"}),
		ChunkResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_chunks_total",
			Help:      "Per-chunk transcription outcomes",
		}, []string{"result"}),
		ProcessingStages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_stage_total",
			Help:      "Processing run stage outcomes",
		}, []string{"stage", "result"}),
		PersistAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_attempts_total",
			Help:      "External store write attempts",
		}, []string{"operation", "result"}),
		TasksInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_tasks_in_flight",
			Help:      "Tasks currently executing in the worker pool",
		}),
		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_task_duration_seconds",
			Help:      "Task execution time",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"kind"}),
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// UploadStarted 记录一次上传被接受
func (m *Metrics) UploadStarted() {
	if m == nil {
		return
	}
	m.UploadsStarted.Inc()
}

// UploadFinished 记录上传终态
func (m *Metrics) UploadFinished(status string) {
	if m == nil {
		return
	}
	m.UploadsFinished.WithLabelValues(status).Inc()
}

// ProgressUpdated 记录一次进度前进
func (m *Metrics) ProgressUpdated() {
	if m == nil {
		return
	}
	m.UploadProgressUpdates.Inc()
}

// StrategySelected 记录转录策略
func (m *Metrics) StrategySelected(strategy string) {
	if m == nil {
		return
	}
	m.StrategySelections.WithLabelValues(strategy).Inc()
}

// ChunkTranscribed 记录单个切片的转录结果
func (m *Metrics) ChunkTranscribed(ok bool) {
	if m == nil {
		return
	}
	m.ChunkResults.WithLabelValues(result(ok)).Inc()
}

// StageFinished 记录处理阶段结果
func (m *Metrics) StageFinished(stage string, ok bool) {
	if m == nil {
		return
	}
	m.ProcessingStages.WithLabelValues(stage, result(ok)).Inc()
}

// PersistAttempted 记录一次持久化尝试
func (m *Metrics) PersistAttempted(operation string, ok bool) {
	if m == nil {
		return
	}
	m.PersistAttempts.WithLabelValues(operation, result(ok)).Inc()
}

// TaskStarted 返回任务结束时调用的函数
func (m *Metrics) TaskStarted(kind string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.TasksInFlight.Inc()
	return func() {
		m.TasksInFlight.Dec()
		m.TaskDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}
