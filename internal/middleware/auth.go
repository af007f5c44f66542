// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rag-sync-go/pkg/log"
	"rag-sync-go/pkg/token"
)

// ClaimsKey 是 AuthMiddleware 在 gin 上下文中存放 claims 的键。
const ClaimsKey = "claims"

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// jwtManager 为 nil 表示未配置密钥，此时不做鉴权。
// websocket 握手无法携带请求头，因此也接受 ?token= 查询参数。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtManager == nil {
			c.Next()
			return
		}

		tokenString := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			// Token 通常以 "Bearer <token>" 的形式提供
			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				abortAuth(c, http.StatusUnauthorized, "无效的授权头格式")
				return
			}
			tokenString = strings.TrimPrefix(authHeader, bearerPrefix)
		}
		if tokenString == "" {
			abortAuth(c, http.StatusUnauthorized, "请求未包含授权头")
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Warnf("[Auth] token 校验失败, path: %s, Error: %v", c.Request.URL.Path, err)
			abortAuth(c, http.StatusUnauthorized, "无效或已过期的 token")
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func abortAuth(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":    status,
		"success": false,
		"error":   gin.H{"kind": "unauthorized", "message": message},
	})
}
