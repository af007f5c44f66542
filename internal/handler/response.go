// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rag-sync-go/internal/model"
)

var kindStatus = map[string]int{
	model.KindValidation:        http.StatusBadRequest,
	model.KindNotFound:          http.StatusNotFound,
	model.KindUnsupportedFormat: http.StatusUnsupportedMediaType,
	model.KindDimensionMismatch: http.StatusConflict,
	model.KindModelUnavailable:  http.StatusServiceUnavailable,
	model.KindStoreUnavailable:  http.StatusServiceUnavailable,
}

// StatusForError 把错误类型映射为 HTTP 状态码，未知类型一律 500。
func StatusForError(err error) int {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	if status, ok := kindStatus[model.ErrorKind(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// 请求体无法解析
var errBadRequest = errors.New("bad request")

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "success": true, "data": data})
}

func respondError(c *gin.Context, err error) {
	status := StatusForError(err)
	kind := model.ErrorKind(err)
	if errors.Is(err, errBadRequest) {
		kind = model.KindValidation
	}
	c.JSON(status, gin.H{
		"code":    status,
		"success": false,
		"error":   gin.H{"kind": kind, "message": err.Error()},
	})
}
