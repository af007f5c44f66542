package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rag-sync-go/pkg/token"
)

// AdminAuthMiddleware 检查 token 是否具有管理员角色。
// 此中间件必须在 AuthMiddleware 之后使用；enabled 为 false 时直接放行。
func AdminAuthMiddleware(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}
		value, exists := c.Get(ClaimsKey)
		if !exists {
			abortAuth(c, http.StatusUnauthorized, "无法获取鉴权信息")
			return
		}
		claims, ok := value.(*token.CustomClaims)
		if !ok {
			abortAuth(c, http.StatusInternalServerError, "鉴权数据类型错误")
			return
		}
		if claims.Role != token.RoleAdmin {
			abortAuth(c, http.StatusForbidden, "权限不足，需要管理员权限")
			return
		}
		c.Next()
	}
}
