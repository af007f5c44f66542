package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"rag-sync-go/internal/service"
	"rag-sync-go/pkg/log"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

type indexRequest struct {
	Path       string `json:"path" binding:"required"`
	Collection string `json:"collection"`
}

// Index 处理 POST /documents/index。
func (h *DocumentHandler) Index(c *gin.Context) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	log.Infof("[DocumentHandler] 收到索引请求, path: %s, collection: %s", req.Path, req.Collection)
	res, err := h.docService.Index(c.Request.Context(), req.Path, req.Collection)
	if err != nil {
		log.Errorf("[DocumentHandler] 索引失败, path: %s, error: %v", req.Path, err)
		respondError(c, err)
		return
	}
	respondOK(c, res)
}

// IndexDirectory 处理 POST /documents/index-directory。单个文件失败不影响整体结果。
func (h *DocumentHandler) IndexDirectory(c *gin.Context) {
	var req service.IndexDirectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	res, err := h.docService.IndexDirectory(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, res)
}

// Delete 处理 DELETE /documents?path=...&collection=...。
func (h *DocumentHandler) Delete(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		respondError(c, fmt.Errorf("%w: 缺少 path 参数", errBadRequest))
		return
	}
	collection := c.Query("collection")
	if err := h.docService.Delete(c.Request.Context(), path, collection); err != nil {
		log.Errorf("[DocumentHandler] 删除文档失败, path: %s, error: %v", path, err)
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"path": path, "deleted": true})
}

// List 处理 GET /documents。
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.docService.List(c.Request.Context(), c.Query("collection"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"documents": docs, "count": len(docs)})
}

// Preview 处理 GET /documents/:id/preview。
func (h *DocumentHandler) Preview(c *gin.Context) {
	preview, err := h.docService.Preview(c.Request.Context(), c.Param("id"), c.Query("collection"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, preview)
}
