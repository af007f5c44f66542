// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"rag-sync-go/internal/model"
)

const (
	// 每个会话保留的最大消息数
	maxHistoryMessages = 20
	historyTTL         = 7 * 24 * time.Hour
)

// ConversationRepository 定义了按会话存取问答历史的操作接口。
type ConversationRepository interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	// Append 追加消息，只保留最近 20 条。
	Append(ctx context.Context, sessionID string, messages ...model.ChatMessage) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个基于 Redis 的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func conversationKey(sessionID string) string {
	return fmt.Sprintf("conversation:%s", sessionID)
}

// GetHistory 从 Redis 获取对话历史记录。
func (r *redisConversationRepository) GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, conversationKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return messages, nil
}

// Append 在 Redis 中更新对话历史记录。
func (r *redisConversationRepository) Append(ctx context.Context, sessionID string, messages ...model.ChatMessage) error {
	history, err := r.GetHistory(ctx, sessionID)
	if err != nil {
		return err
	}
	history = trimHistory(append(history, messages...))
	jsonData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	if err := r.redisClient.Set(ctx, conversationKey(sessionID), jsonData, historyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}

func trimHistory(messages []model.ChatMessage) []model.ChatMessage {
	if len(messages) > maxHistoryMessages {
		return messages[len(messages)-maxHistoryMessages:]
	}
	return messages
}

type memoryConversationRepository struct {
	mu       sync.Mutex
	sessions map[string][]model.ChatMessage
}

// NewMemoryConversationRepository 在未配置 Redis 时使用，历史只在进程内保留。
func NewMemoryConversationRepository() ConversationRepository {
	return &memoryConversationRepository{sessions: make(map[string][]model.ChatMessage)}
}

func (r *memoryConversationRepository) GetHistory(_ context.Context, sessionID string) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ChatMessage, len(r.sessions[sessionID]))
	copy(out, r.sessions[sessionID])
	return out, nil
}

func (r *memoryConversationRepository) Append(_ context.Context, sessionID string, messages ...model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = trimHistory(append(r.sessions[sessionID], messages...))
	return nil
}
