package metrics

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type manager struct {
	namespace string
	system    string
	registry  *prometheus.Registry
}

var defaultManager = &manager{
	namespace: "default",
	system:    "default",
	registry:  prometheus.NewRegistry(),
}

func SetupMetricsManager(ns, system string, registry *prometheus.Registry) {
	defaultManager = &manager{
		namespace: ns,
		system:    system,
		registry:  registry,
	}
	registry.Register(collectors.NewGoCollector())
}

func NewCounterVec(name string, labels []string) *prometheus.CounterVec {
	m := defaultManager
	vec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: sanitize(m.namespace),
			Subsystem: sanitize(m.system),
			Name:      sanitize(name),
			Help:      fmt.Sprintf("%s count of /%s/%s", name, m.namespace, m.system),
		},
		labels,
	)
	vec.WithLabelValues(zeroLabels(labels)...).Add(0)
	m.registry.Register(vec)
	return vec
}

func NewHistogramVec(name string, labels []string) *prometheus.HistogramVec {
	m := defaultManager
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: sanitize(m.namespace),
			Subsystem: sanitize(m.system),
			Name:      sanitize(name),
			Help:      fmt.Sprintf("%s duration of /%s/%s", name, m.namespace, m.system),
		},
		labels,
	)
	vec.WithLabelValues(zeroLabels(labels)...).Observe(0)
	m.registry.Register(vec)
	return vec
}

func DefaultExportHandler() gin.HandlerFunc {
	registry := defaultManager.registry
	h := promhttp.InstrumentMetricHandler(
		registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	)
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// zeroLabels 先用空标签把序列注册出来,抓取端从启动起就能看到指标
func zeroLabels(labels []string) []string {
	return make([]string, len(labels))
}

func sanitize(in string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(in)
}
