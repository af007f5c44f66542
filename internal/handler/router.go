package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rag-sync-go/internal/middleware"
	"rag-sync-go/pkg/token"
)

// Handlers 汇总路由需要的全部处理器。Chat、Conversation 与 MCP 可以为 nil。
type Handlers struct {
	Health       *HealthHandler
	Document     *DocumentHandler
	Search       *SearchHandler
	Collection   *CollectionHandler
	Sync         *SyncHandler
	Chat         *ChatHandler
	Conversation *ConversationHandler
	MCP          http.Handler
}

// NewRouter 注册全部路由。jwtManager 为 nil 时变更类接口不做鉴权。
func NewRouter(h Handlers, jwtManager *token.JWTManager) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	adminOnly := []gin.HandlerFunc{
		middleware.AuthMiddleware(jwtManager),
		middleware.AdminAuthMiddleware(jwtManager != nil),
	}

	apiV1 := r.Group("/api/v1")
	{
		apiV1.GET("/health", h.Health.Health)

		documents := apiV1.Group("/documents")
		{
			documents.GET("", h.Document.List)
			documents.GET("/:id/preview", h.Document.Preview)

			mutating := documents.Group("")
			mutating.Use(adminOnly...)
			{
				mutating.POST("/index", h.Document.Index)
				mutating.POST("/index-directory", h.Document.IndexDirectory)
				mutating.DELETE("", h.Document.Delete)
			}
		}

		apiV1.POST("/search", h.Search.Search)
		apiV1.POST("/context", h.Search.Context)

		collections := apiV1.Group("/collections")
		{
			collections.GET("", h.Collection.List)
			collections.GET("/:name", h.Collection.Stats)

			mutating := collections.Group("")
			mutating.Use(adminOnly...)
			{
				mutating.POST("", h.Collection.Create)
				mutating.DELETE("/:name", h.Collection.Delete)
			}
		}

		syncGroup := apiV1.Group("/sync")
		{
			syncGroup.GET("/status", h.Sync.Status)
			syncGroup.GET("/events", h.Sync.Events)
		}

		if h.Chat != nil {
			apiV1.GET("/chat", h.Chat.Handle)
		}
		if h.Conversation != nil {
			apiV1.GET("/chat/sessions/:id", h.Conversation.GetConversation)
		}
	}

	if h.MCP != nil {
		r.Any("/mcp", append(adminOnly, gin.WrapH(h.MCP))...)
	}
	return r
}
