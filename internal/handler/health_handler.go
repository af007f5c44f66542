package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rag-sync-go/internal/service"
)

// HealthHandler 处理 GET /health。依赖不可用时仍返回 200，由 status 字段区分 ok 与 degraded。
type HealthHandler struct {
	healthService service.HealthService
}

func NewHealthHandler(healthService service.HealthService) *HealthHandler {
	return &HealthHandler{healthService: healthService}
}

func (h *HealthHandler) Health(c *gin.Context) {
	report := h.healthService.Check(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "success": true, "data": report})
}
