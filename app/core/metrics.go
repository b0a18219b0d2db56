package core

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docgraph-ai/docgraph/pkg/metrics"
)

type Metrics struct {
	apiResponseTime  *prometheus.HistogramVec
	apiErrorCounter  *prometheus.CounterVec
	taskStageTime    *prometheus.HistogramVec
	taskResult       *prometheus.CounterVec
	turnStepTime     *prometheus.HistogramVec
	lockContention   *prometheus.CounterVec
	modelRequestTime *prometheus.HistogramVec
	modelError       *prometheus.CounterVec
}

func NewMetrics(ns, system string) *Metrics {
	metrics.SetupMetricsManager(ns, system, prometheus.DefaultRegisterer.(*prometheus.Registry))

	m := &Metrics{
		apiResponseTime:  metrics.NewHistogramVec("api_response_time", []string{"api"}),
		apiErrorCounter:  metrics.NewCounterVec("api_error", []string{"method", "api", "status"}),
		taskStageTime:    metrics.NewHistogramVec("task_stage_time", []string{"stage"}),
		taskResult:       metrics.NewCounterVec("task_result", []string{"status"}),
		turnStepTime:     metrics.NewHistogramVec("turn_step_time", []string{"step"}),
		lockContention:   metrics.NewCounterVec("conversation_lock_contention", nil),
		modelRequestTime: metrics.NewHistogramVec("model_request_time", []string{"target"}),
		modelError:       metrics.NewCounterVec("model_error", []string{"type"}),
	}

	return m
}

func (m *Metrics) ApiResponseTimer(api string) *prometheus.Timer {
	return prometheus.NewTimer(m.apiResponseTime.WithLabelValues(api))
}

func (m *Metrics) ApiErrorInc(method, api string, status int) {
	m.apiErrorCounter.WithLabelValues(method, api, strconv.Itoa(status)).Inc()
}

func (m *Metrics) TaskStageTimer(stage string) *prometheus.Timer {
	return prometheus.NewTimer(m.taskStageTime.WithLabelValues(stage))
}

func (m *Metrics) TaskResultInc(status string) {
	m.taskResult.WithLabelValues(status).Inc()
}

func (m *Metrics) TurnStepTimer(step string) *prometheus.Timer {
	return prometheus.NewTimer(m.turnStepTime.WithLabelValues(step))
}

func (m *Metrics) LockContentionInc() {
	m.lockContention.WithLabelValues().Inc()
}

func (m *Metrics) ModelRequestTimer(target string) *prometheus.Timer {
	return prometheus.NewTimer(m.modelRequestTime.WithLabelValues(target))
}

func (m *Metrics) ModelErrorInc(types string) {
	m.modelError.WithLabelValues(types).Inc()
}
