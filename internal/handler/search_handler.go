package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"rag-sync-go/internal/service"
	"rag-sync-go/pkg/log"
)

// SearchHandler 结构体定义了检索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 处理 POST /search。
func (h *SearchHandler) Search(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	log.Infof("[SearchHandler] 收到检索请求, query: %s, collection: %s", req.Query, req.Collection)

	results, err := h.searchService.Search(c.Request.Context(), req)
	if err != nil {
		log.Errorf("[SearchHandler] 检索失败, error: %v", err)
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"results": results, "count": len(results)})
}

// Context 处理 POST /context，返回可直接放入提示词的上下文。
func (h *SearchHandler) Context(c *gin.Context) {
	var req service.ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	out, err := h.searchService.GetContext(c.Request.Context(), req)
	if err != nil {
		log.Errorf("[SearchHandler] 拼装上下文失败, error: %v", err)
		respondError(c, err)
		return
	}
	respondOK(c, out)
}
