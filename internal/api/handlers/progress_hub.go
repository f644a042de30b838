package handlers

import (
	"net/http"
	"sync"

	"github.com/apk-analysis/dex-image-go/internal/render"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ProgressHub 通过 WebSocket 推送渲染事件
type ProgressHub struct {
	logger    *logrus.Logger
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	mu        sync.RWMutex
	broadcast chan render.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewProgressHub 创建事件推送器
func NewProgressHub(logger *logrus.Logger) *ProgressHub {
	return &ProgressHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan render.Event, 100),
		done:      make(chan struct{}),
	}
}

// Start 启动广播协程
func (h *ProgressHub) Start() {
	go h.run()
}

// Stop 停止广播并断开所有客户端
func (h *ProgressHub) Stop() {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for conn := range h.clients {
			conn.Close()
			delete(h.clients, conn)
		}
		h.mu.Unlock()
	})
}

func (h *ProgressHub) run() {
	for {
		select {
		case <-h.done:
			return
		case event := <-h.broadcast:
			h.send(event)
		}
	}
}

func (h *ProgressHub) send(event render.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(event); err != nil {
			h.logger.WithError(err).Warn("Failed to write to WebSocket client")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Publish 实现 render.EventSink，缓冲区满时丢弃
func (h *ProgressHub) Publish(event render.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.WithField("job_id", event.JobID).Debug("Progress buffer full, event dropped")
	}
}

// ClientCount 当前连接数
func (h *ProgressHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket GET /ws/renders
func (h *ProgressHub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	h.logger.Info("WebSocket client connected")

	// 客户端不发送数据，读循环只用于感知断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Warn("WebSocket error")
			}
			break
		}
	}

	h.mu.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
	h.logger.Info("WebSocket client disconnected")
}
