package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct {
	logger *logrus.Logger

	// HTTP 请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 渲染指标
	containersTotal   *prometheus.CounterVec
	dexEntriesTotal   prometheus.Counter
	rendersInProgress prometheus.Gauge
	renderDuration    *prometheus.HistogramVec

	// 队列指标
	queueMessagesTotal *prometheus.CounterVec
}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
func NewPrometheusMetrics(logger *logrus.Logger, namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "dex_render"
	}

	pm := &PrometheusMetrics{
		logger: logger,

		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method", "path"},
		),

		containersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "containers_total",
				Help:      "Total number of APK containers processed",
			},
			[]string{"status"}, // rendered, skipped, failed, cancelled
		),
		dexEntriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dex_entries_total",
				Help:      "Total number of DEX entries rendered",
			},
		),
		rendersInProgress: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "renders_in_progress",
				Help:      "Number of containers currently being rendered",
			},
		),
		renderDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_seconds",
				Help:      "Container render duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		),

		queueMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_messages_total",
				Help:      "Total number of render requests consumed from the queue",
			},
			[]string{"result"}, // ack, nack, invalid
		),
	}

	logger.Info("Prometheus metrics initialized")
	return pm
}

// HTTPMiddleware HTTP 请求监控中间件
func (pm *PrometheusMetrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		pm.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		pm.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler 返回 Prometheus HTTP Handler
func (pm *PrometheusMetrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordContainerStarted 记录容器开始渲染
func (pm *PrometheusMetrics) RecordContainerStarted() {
	pm.rendersInProgress.Inc()
}

// RecordContainerFinished 记录容器渲染结束
func (pm *PrometheusMetrics) RecordContainerFinished(status string, dexCount int, duration time.Duration) {
	pm.rendersInProgress.Dec()
	pm.containersTotal.WithLabelValues(status).Inc()
	pm.renderDuration.WithLabelValues(status).Observe(duration.Seconds())
	if status == "rendered" {
		pm.dexEntriesTotal.Add(float64(dexCount))
	}
}

// RecordQueueMessage 记录队列消息处理结果
func (pm *PrometheusMetrics) RecordQueueMessage(result string) {
	pm.queueMessagesTotal.WithLabelValues(result).Inc()
}
