package api

import (
	"time"

	"github.com/apk-analysis/dex-image-go/internal/api/handlers"
	"github.com/apk-analysis/dex-image-go/internal/config"
	"github.com/apk-analysis/dex-image-go/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRouter 注册所有路由
func SetupRouter(cfg *config.Config, logger *logrus.Logger, renderHandler *handlers.RenderHandler, hub *handlers.ProgressHub, promMetrics *middleware.PrometheusMetrics) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	if promMetrics != nil {
		r.Use(promMetrics.HTTPMiddleware())
		r.GET("/metrics", promMetrics.Handler())
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	if hub != nil {
		r.GET("/ws/renders", hub.HandleWebSocket)
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/batches", renderHandler.RunBatch)

		v1.POST("/renders", renderHandler.SubmitRender)
		v1.GET("/renders", renderHandler.ListRenders)
		v1.GET("/renders/:id", renderHandler.GetRender)
		v1.GET("/renders/:id/image", renderHandler.GetImage)

		v1.GET("/stats", renderHandler.GetStats)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(startTime).Milliseconds(),
		}).Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
