package middleware

import (
	"net/http"
	"strings"

	"Community_Access/internal/pkg"

	"github.com/gin-gonic/gin"
)

const ContextUserIDKey = "user_id"

// Auth 校验 Bearer access 令牌并注入 user_id
func Auth(tokens *pkg.JWT) gin.HandlerFunc {
	return auth(tokens, false)
}

// StreamAuth 只用于 websocket 握手：浏览器无法带自定义头，允许用 access_token 查询参数代替
func StreamAuth(tokens *pkg.JWT) gin.HandlerFunc {
	return auth(tokens, true)
}

func auth(tokens *pkg.JWT, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearer(c, allowQuery)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "missing or invalid authorization header"})
			return
		}

		claims, err := tokens.ParseAccess(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid or expired token"})
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Next()
	}
}

func bearer(c *gin.Context, allowQuery bool) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query("access_token"); allowQuery && q != "" {
			return q, true
		}
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// UserID 取出 Auth 注入的用户 id
func UserID(c *gin.Context) uint64 {
	return c.GetUint64(ContextUserIDKey)
}
