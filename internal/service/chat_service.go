package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"rag-sync-go/internal/config"
	"rag-sync-go/internal/model"
	"rag-sync-go/internal/repository"
	"rag-sync-go/pkg/llm"
	"rag-sync-go/pkg/log"
)

// ChatRequest 是一次知识库问答的参数。SessionID 为空时不读写历史。
type ChatRequest struct {
	SessionID  string `json:"session_id"`
	Collection string `json:"collection"`
	Question   string `json:"question"`
	Limit      int    `json:"limit"`
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	StreamResponse(ctx context.Context, req ChatRequest, writer llm.MessageWriter, shouldStop func() bool) error
}

type chatService struct {
	searchService    SearchService
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
	prompt           config.LLMPromptConfig
	generation       config.LLMGenerationConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(searchService SearchService, llmClient llm.Client, conversationRepo repository.ConversationRepository, cfg config.LLMConfig) ChatService {
	return &chatService{
		searchService:    searchService,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
		prompt:           cfg.Prompt,
		generation:       cfg.Generation,
	}
}

// StreamResponse 检索上下文并把 LLM 的流式回答转发给 writer。
func (s *chatService) StreamResponse(ctx context.Context, req ChatRequest, writer llm.MessageWriter, shouldStop func() bool) error {
	if req.Limit == 0 {
		req.Limit = DefaultSearchLimit
	}
	// 1. 检索上下文
	retrieved, err := s.searchService.GetContext(ctx, ContextRequest{
		Collection: req.Collection,
		Query:      req.Question,
		Limit:      req.Limit,
	})
	if err != nil {
		return fmt.Errorf("failed to retrieve context: %w", err)
	}

	// 2. 构建 system 消息与历史
	systemMsg := s.buildSystemMessage(retrieved.Text)
	history := []model.ChatMessage{}
	if req.SessionID != "" {
		if h, err := s.conversationRepo.GetHistory(ctx, req.SessionID); err != nil {
			log.Errorf("[ChatService] 读取会话历史失败, session: %s, Error: %v", req.SessionID, err)
		} else {
			history = h
		}
	}
	messages := composeMessages(systemMsg, history, req.Question)

	// 拦截 writer 以捕获完整答案，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: writer, writer: answerBuilder, shouldStop: shouldStop}

	// 3. 流式调用 LLM
	llmMsgs := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		llmMsgs = append(llmMsgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	if err := s.llmClient.StreamChatMessages(ctx, llmMsgs, llm.ParamsFromConfig(s.generation), interceptor); err != nil {
		return err
	}

	// 4. 发送完成通知并保存历史
	sendCompletion(writer, retrieved.Sources)
	fullAnswer := answerBuilder.String()
	if req.SessionID != "" && fullAnswer != "" {
		now := time.Now()
		// 请求被取消时也保存已生成的答案
		err := s.conversationRepo.Append(context.Background(), req.SessionID,
			model.ChatMessage{Role: "user", Content: req.Question, Timestamp: now},
			model.ChatMessage{Role: "assistant", Content: fullAnswer, Timestamp: now},
		)
		if err != nil {
			log.Errorf("[ChatService] 保存会话历史失败, session: %s, Error: %v", req.SessionID, err)
		}
	}
	return nil
}

func (s *chatService) buildSystemMessage(contextText string) string {
	refStart := s.prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}
	var sys strings.Builder
	if s.prompt.Rules != "" {
		sys.WriteString(s.prompt.Rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
		sys.WriteString("\n")
	} else {
		noRes := s.prompt.NoResultText
		if noRes == "" {
			noRes = "（本轮无检索结果）"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func composeMessages(systemMsg string, history []model.ChatMessage, userInput string) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, model.ChatMessage{Role: "system", Content: systemMsg})
	msgs = append(msgs, history...)
	msgs = append(msgs, model.ChatMessage{Role: "user", Content: userInput})
	return msgs
}

// wsWriterInterceptor 包装下游 writer，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	b, _ := json.Marshal(map[string]string{"chunk": string(data)})
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(w llm.MessageWriter, sources []string) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"sources":   sources,
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	b, _ := json.Marshal(notif)
	_ = w.WriteMessage(websocket.TextMessage, b)
}
