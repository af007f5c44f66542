package service

import (
	"context"
	"fmt"
	"strings"

	"rag-sync-go/internal/model"
	"rag-sync-go/internal/repository"
)

// ConversationService 定义了会话历史的查询接口。
type ConversationService interface {
	GetConversationHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
}

type conversationService struct {
	repo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository) ConversationService {
	return &conversationService{repo: repo}
}

// GetConversationHistory 获取会话的消息历史，会话不存在时返回空列表。
func (s *conversationService) GetConversationHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id 不能为空", model.ErrValidation)
	}
	return s.repo.GetHistory(ctx, sessionID)
}
