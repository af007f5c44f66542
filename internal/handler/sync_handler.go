package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"rag-sync-go/internal/service"
	"rag-sync-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

const wsWriteTimeout = 10 * time.Second

// SyncHandler 暴露同步引擎的状态与实时事件流。
type SyncHandler struct {
	syncService service.SyncService
}

// NewSyncHandler 创建一个新的 SyncHandler 实例。
func NewSyncHandler(syncService service.SyncService) *SyncHandler {
	return &SyncHandler{syncService: syncService}
}

// Status 处理 GET /sync/status。
func (h *SyncHandler) Status(c *gin.Context) {
	respondOK(c, h.syncService.Status())
}

// Events 把每个处理完成的文件事件以 JSON 推送给 websocket 客户端。
func (h *SyncHandler) Events(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[SyncHandler] WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	events, cancel := h.syncService.Subscribe(64)
	defer cancel()
	log.Infof("[SyncHandler] 事件订阅已建立, 来源: %s", c.ClientIP())

	// 读循环只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			log.Infof("[SyncHandler] 客户端断开, 来源: %s", c.ClientIP())
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Warnf("[SyncHandler] 推送事件失败: %v", err)
				return
			}
		}
	}
}
