package handler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"rag-sync-go/internal/model"
	"rag-sync-go/internal/service"
	"rag-sync-go/pkg/log"
)

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// chatFrame 是客户端发来的消息。纯文本消息视为问题。
type chatFrame struct {
	Type       string `json:"type"`
	Question   string `json:"question"`
	Collection string `json:"collection"`
	Limit      int    `json:"limit"`
}

// lockedConn 串行化对同一连接的并发写。
type lockedConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (l *lockedConn) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return l.conn.WriteMessage(messageType, data)
}

func (l *lockedConn) writeJSON(v any) {
	b, _ := json.Marshal(v)
	_ = l.WriteMessage(websocket.TextMessage, b)
}

// Handle 处理一个传入的 WebSocket 连接。
// 同一连接共享一个会话 ID（?session_id= 指定，缺省随机生成），同一时刻只处理一个问题。
// 客户端发送 {"type":"stop"} 可中断正在进行的回答。
func (h *ChatHandler) Handle(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[ChatHandler] WebSocket 升级失败", err)
		return
	}
	defer ws.Close()
	conn := &lockedConn{conn: ws}

	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	defaultCollection := c.Query("collection")
	log.Infof("[ChatHandler] WebSocket 连接已建立, session: %s", sessionID)
	conn.writeJSON(gin.H{"type": "session", "session_id": sessionID})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		busy atomic.Bool
		stop atomic.Bool
		wg   sync.WaitGroup
	)
	defer wg.Wait()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			log.Infof("[ChatHandler] 连接关闭, session: %s, reason: %v", sessionID, err)
			cancel()
			return
		}

		var frame chatFrame
		if len(message) > 0 && message[0] == '{' {
			if err := json.Unmarshal(message, &frame); err != nil {
				conn.writeJSON(gin.H{"type": "error", "kind": model.KindValidation, "error": "无法解析消息"})
				continue
			}
		} else {
			frame.Question = string(message)
		}

		if frame.Type == "stop" {
			stop.Store(true)
			conn.writeJSON(gin.H{
				"type":      "stop",
				"message":   "响应已停止",
				"timestamp": time.Now().UnixMilli(),
			})
			continue
		}
		if !busy.CompareAndSwap(false, true) {
			conn.writeJSON(gin.H{"type": "error", "kind": model.KindValidation, "error": "上一个问题仍在回答中"})
			continue
		}
		stop.Store(false)
		if frame.Collection == "" {
			frame.Collection = defaultCollection
		}

		req := service.ChatRequest{SessionID: sessionID, Collection: frame.Collection, Question: frame.Question, Limit: frame.Limit}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer busy.Store(false)
			err := h.chatService.StreamResponse(ctx, req, conn, stop.Load)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("[ChatHandler] 处理流式响应失败, session: %s, Error: %v", sessionID, err)
				conn.writeJSON(gin.H{"type": "error", "kind": model.ErrorKind(err), "error": err.Error()})
			}
		}()
	}
}
