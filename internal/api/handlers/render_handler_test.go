package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apk-analysis/dex-image-go/internal/domain"
	"github.com/apk-analysis/dex-image-go/internal/queue"
	"github.com/apk-analysis/dex-image-go/internal/render"
	"github.com/apk-analysis/dex-image-go/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRenderService Mock Service
type MockRenderService struct {
	mock.Mock
}

func (m *MockRenderService) RunBatch(ctx context.Context, dir string) (*render.BatchReport, error) {
	args := m.Called(dir)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*render.BatchReport), args.Error(1)
}

func (m *MockRenderService) SubmitRender(ctx context.Context, apkPath string) (*domain.RenderJob, error) {
	args := m.Called(apkPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RenderJob), args.Error(1)
}

func (m *MockRenderService) ResumeQueued(ctx context.Context) (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockRenderService) HandleMessage(ctx context.Context, msg *queue.RenderMessage) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockRenderService) GetJob(ctx context.Context, id string) (*domain.RenderJob, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RenderJob), args.Error(1)
}

func (m *MockRenderService) ListJobs(ctx context.Context, limit int) ([]*domain.RenderJob, error) {
	args := m.Called(limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.RenderJob), args.Error(1)
}

func (m *MockRenderService) ImagePath(ctx context.Context, id string) (string, error) {
	args := m.Called(id)
	return args.String(0), args.Error(1)
}

func (m *MockRenderService) StatusCounts(ctx context.Context) (map[domain.RenderStatus]int64, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.RenderStatus]int64), args.Error(1)
}

func (m *MockRenderService) Wait() {}

// setupTestRouter 设置测试路由
func setupTestRouter(svc service.RenderService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	h := NewRenderHandler(svc, logger)
	r := gin.New()
	r.POST("/api/v1/batches", h.RunBatch)
	r.POST("/api/v1/renders", h.SubmitRender)
	r.GET("/api/v1/renders", h.ListRenders)
	r.GET("/api/v1/renders/:id", h.GetRender)
	r.GET("/api/v1/renders/:id/image", h.GetImage)
	r.GET("/api/v1/stats", h.GetStats)
	return r
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// TestRenderHandler_RunBatch 测试批处理接口
func TestRenderHandler_RunBatch(t *testing.T) {
	svc := new(MockRenderService)
	report := &render.BatchReport{BatchID: "b1", Dir: "/in", Summary: render.BatchSummary{Containers: 2, Rendered: 2}}
	svc.On("RunBatch", "/in").Return(report, nil)
	svc.On("RunBatch", "/missing").Return(nil, fmt.Errorf("%w: /missing is not a directory", service.ErrInvalidInput))

	r := setupTestRouter(svc)

	w := doRequest(r, "POST", "/api/v1/batches", `{"dir":"/in"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	var got render.BatchReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "b1", got.BatchID)
	assert.Equal(t, 2, got.Summary.Rendered)

	w = doRequest(r, "POST", "/api/v1/batches", `{"dir":"/missing"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, "POST", "/api/v1/batches", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertExpectations(t)
}

// TestRenderHandler_SubmitRender 测试提交接口
func TestRenderHandler_SubmitRender(t *testing.T) {
	svc := new(MockRenderService)
	svc.On("SubmitRender", "/in/app.apk").Return(&domain.RenderJob{ID: "j1", APKName: "app.apk", Status: domain.RenderStatusQueued}, nil)
	svc.On("SubmitRender", "/in/broken.apk").Return(nil, errors.New("db down"))

	r := setupTestRouter(svc)

	w := doRequest(r, "POST", "/api/v1/renders", `{"apk_path":"/in/app.apk"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	var job domain.RenderJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, domain.RenderStatusQueued, job.Status)

	w = doRequest(r, "POST", "/api/v1/renders", `{"apk_path":"/in/broken.apk"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// TestRenderHandler_ListRenders 测试列表与 limit 参数
func TestRenderHandler_ListRenders(t *testing.T) {
	svc := new(MockRenderService)
	jobs := []*domain.RenderJob{{ID: "j1"}, {ID: "j2"}}
	svc.On("ListJobs", 50).Return(jobs, nil)
	svc.On("ListJobs", 10).Return(jobs[:1], nil)
	svc.On("ListJobs", 500).Return(jobs, nil)

	r := setupTestRouter(svc)

	w := doRequest(r, "GET", "/api/v1/renders", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var got []*domain.RenderJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	w = doRequest(r, "GET", "/api/v1/renders?limit=10", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 1)

	doRequest(r, "GET", "/api/v1/renders?limit=9999", "")
	doRequest(r, "GET", "/api/v1/renders?limit=abc", "")

	svc.AssertExpectations(t)
	svc.AssertNumberOfCalls(t, "ListJobs", 4)
}

// TestRenderHandler_GetRender 测试查询单个记录
func TestRenderHandler_GetRender(t *testing.T) {
	svc := new(MockRenderService)
	svc.On("GetJob", "j1").Return(&domain.RenderJob{ID: "j1", APKName: "app.apk", CreatedAt: time.Now()}, nil)
	svc.On("GetJob", "missing").Return(nil, service.ErrJobNotFound)

	r := setupTestRouter(svc)

	w := doRequest(r, "GET", "/api/v1/renders/j1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, "GET", "/api/v1/renders/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestRenderHandler_GetImage 测试图片下载
func TestRenderHandler_GetImage(t *testing.T) {
	img := filepath.Join(t.TempDir(), "app.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG"), 0644))

	svc := new(MockRenderService)
	svc.On("ImagePath", "done").Return(img, nil)
	svc.On("ImagePath", "gone").Return(filepath.Join(t.TempDir(), "gone.png"), nil)
	svc.On("ImagePath", "pending").Return("", fmt.Errorf("%w: job is queued", service.ErrImageNotReady))

	r := setupTestRouter(svc)

	w := doRequest(r, "GET", "/api/v1/renders/done/image", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "\x89PNG", w.Body.String())

	w = doRequest(r, "GET", "/api/v1/renders/gone/image", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, "GET", "/api/v1/renders/pending/image", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

// TestRenderHandler_GetStats 测试状态统计
func TestRenderHandler_GetStats(t *testing.T) {
	svc := new(MockRenderService)
	svc.On("StatusCounts").Return(map[domain.RenderStatus]int64{domain.RenderStatusRendered: 3}, nil)

	r := setupTestRouter(svc)
	w := doRequest(r, "GET", "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var got map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, int64(3), got["rendered"])
}

// TestProgressHub_Broadcast 测试 WebSocket 推送
func TestProgressHub_Broadcast(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	hub := NewProgressHub(logger)
	hub.Start()
	defer hub.Stop()

	r := gin.New()
	r.GET("/ws/renders", hub.HandleWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):] + "/ws/renders"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(render.Event{JobID: "j1", APKName: "app.apk", Status: domain.RenderStatusRendered})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event render.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "j1", event.JobID)
	assert.Equal(t, domain.RenderStatusRendered, event.Status)
}

// TestProgressHub_PublishWithoutClients 测试无客户端时不阻塞
func TestProgressHub_PublishWithoutClients(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	hub := NewProgressHub(logger)

	for i := 0; i < 500; i++ {
		hub.Publish(render.Event{JobID: fmt.Sprint(i)})
	}
	assert.Equal(t, 0, hub.ClientCount())
	hub.Stop()
	hub.Stop()
}
