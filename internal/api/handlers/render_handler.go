package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/apk-analysis/dex-image-go/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RenderHandler 渲染任务处理器
type RenderHandler struct {
	renderService service.RenderService
	logger        *logrus.Logger
}

// NewRenderHandler 创建渲染任务处理器
func NewRenderHandler(renderService service.RenderService, logger *logrus.Logger) *RenderHandler {
	return &RenderHandler{
		renderService: renderService,
		logger:        logger,
	}
}

type batchRequest struct {
	Dir string `json:"dir" binding:"required"`
}

type renderRequest struct {
	APKPath string `json:"apk_path" binding:"required"`
}

// RunBatch 同步处理整个目录
// POST /api/v1/batches {"dir": "/data/apks"}
func (h *RenderHandler) RunBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.renderService.RunBatch(c.Request.Context(), req.Dir)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).WithField("dir", req.Dir).Error("Batch render failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

// SubmitRender 提交单个 APK
// POST /api/v1/renders {"apk_path": "/data/apks/app.apk"}
func (h *RenderHandler) SubmitRender(c *gin.Context) {
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.renderService.SubmitRender(c.Request.Context(), req.APKPath)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).WithField("apk_path", req.APKPath).Error("Failed to submit render")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// ListRenders 最近的渲染记录
// GET /api/v1/renders?limit=50
func (h *RenderHandler) ListRenders(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	jobs, err := h.renderService.ListJobs(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list render jobs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, jobs)
}

// GetRender 单个渲染记录
// GET /api/v1/renders/:id
func (h *RenderHandler) GetRender(c *gin.Context) {
	id := c.Param("id")

	job, err := h.renderService.GetJob(c.Request.Context(), id)
	if err != nil {
		h.writeLookupError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// GetImage 返回渲染好的图片文件
// GET /api/v1/renders/:id/image
func (h *RenderHandler) GetImage(c *gin.Context) {
	id := c.Param("id")

	path, err := h.renderService.ImagePath(c.Request.Context(), id)
	if err != nil {
		h.writeLookupError(c, id, err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image file missing"})
		return
	}

	c.File(path)
}

// GetStats 各状态数量
// GET /api/v1/stats
func (h *RenderHandler) GetStats(c *gin.Context) {
	counts, err := h.renderService.StatusCounts(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to count render jobs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, counts)
}

func (h *RenderHandler) writeLookupError(c *gin.Context, id string, err error) {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "render job not found"})
	case errors.Is(err, service.ErrImageNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.WithError(err).WithField("job_id", id).Error("Failed to get render job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
