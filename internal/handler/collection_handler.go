package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"rag-sync-go/internal/model"
	"rag-sync-go/internal/service"
)

// CollectionHandler 处理集合管理接口。
type CollectionHandler struct {
	collectionService service.CollectionService
}

// NewCollectionHandler 创建一个新的 CollectionHandler 实例。
func NewCollectionHandler(collectionService service.CollectionService) *CollectionHandler {
	return &CollectionHandler{collectionService: collectionService}
}

type createCollectionRequest struct {
	Name      string `json:"name" binding:"required"`
	Dimension int    `json:"dimension"`
}

func (h *CollectionHandler) List(c *gin.Context) {
	list, err := h.collectionService.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"collections": list, "count": len(list)})
}

func (h *CollectionHandler) Create(c *gin.Context) {
	var req createCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	info, err := h.collectionService.Create(c.Request.Context(), req.Name, req.Dimension)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, info)
}

func (h *CollectionHandler) Stats(c *gin.Context) {
	stats, err := h.collectionService.Stats(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, stats)
}

// Delete 删除集合，必须显式带上 confirm=true。
func (h *CollectionHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	if c.Query("confirm") != "true" {
		respondError(c, fmt.Errorf("%w: 删除集合 '%s' 需要 confirm=true", model.ErrValidation, name))
		return
	}
	if err := h.collectionService.Delete(c.Request.Context(), name); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"name": name, "deleted": true})
}
