package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// setupTestMetrics 创建测试用的 Prometheus 指标收集器
func setupTestMetrics(t *testing.T) *PrometheusMetrics {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	// 使用唯一的 namespace 避免指标冲突
	namespace := "test_" + t.Name() + "_" + time.Now().Format("20060102150405999999999")
	return NewPrometheusMetrics(logger, namespace)
}

// TestPrometheusMetrics_Initialization 测试指标初始化
func TestPrometheusMetrics_Initialization(t *testing.T) {
	pm := setupTestMetrics(t)

	assert.NotNil(t, pm)
	assert.NotNil(t, pm.httpRequestsTotal)
	assert.NotNil(t, pm.containersTotal)
	assert.NotNil(t, pm.renderDuration)
	assert.NotNil(t, pm.queueMessagesTotal)
}

// TestHTTPMiddleware 测试 HTTP 中间件
func TestHTTPMiddleware(t *testing.T) {
	pm := setupTestMetrics(t)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(pm.HTTPMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.httpRequestsTotal.WithLabelValues("GET", "/test", "200")))
}

// TestRecordContainerMetrics 测试容器渲染指标
func TestRecordContainerMetrics(t *testing.T) {
	pm := setupTestMetrics(t)

	pm.RecordContainerStarted()
	pm.RecordContainerStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(pm.rendersInProgress))

	pm.RecordContainerFinished("rendered", 3, 200*time.Millisecond)
	pm.RecordContainerFinished("skipped", 0, time.Millisecond)

	assert.Equal(t, float64(0), testutil.ToFloat64(pm.rendersInProgress))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.containersTotal.WithLabelValues("rendered")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.containersTotal.WithLabelValues("skipped")))
	assert.Equal(t, float64(3), testutil.ToFloat64(pm.dexEntriesTotal))
	assert.Greater(t, testutil.CollectAndCount(pm.renderDuration), 0)
}

// TestRecordQueueMessage 测试队列消息指标
func TestRecordQueueMessage(t *testing.T) {
	pm := setupTestMetrics(t)

	pm.RecordQueueMessage("ack")
	pm.RecordQueueMessage("ack")
	pm.RecordQueueMessage("invalid")

	assert.Equal(t, float64(2), testutil.ToFloat64(pm.queueMessagesTotal.WithLabelValues("ack")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.queueMessagesTotal.WithLabelValues("invalid")))
}

// TestHandler 测试 /metrics 输出
func TestHandler(t *testing.T) {
	pm := setupTestMetrics(t)
	pm.RecordContainerStarted()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/metrics", pm.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "renders_in_progress"))
}
