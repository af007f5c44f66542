package handler

import (
	"github.com/gin-gonic/gin"

	"rag-sync-go/internal/service"
)

// ConversationHandler 处理与会话历史相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetConversation 处理 GET /chat/sessions/:id。
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	history, err := h.service.GetConversationHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"session_id": c.Param("id"), "messages": history})
}
