package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gerges15/minia-it-department-sub001/pkg/jwt"
	"github.com/gerges15/minia-it-department-sub001/pkg/response"
)

const (
	usernameKey = "username"
	roleKey     = "role"
)

// JWTAuth Bearer 令牌认证中间件
// 从 Authorization: Bearer <token> 中提取并验证令牌，jwtMgr 为 nil 时放行
func JWTAuth(jwtMgr *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtMgr == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, 10002, "缺少认证头")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, 10002, "认证头格式无效")
			c.Abort()
			return
		}

		claims, err := jwtMgr.ParseToken(parts[1])
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.Unauthorized(c, 10002, "Token 已过期")
			} else {
				response.Unauthorized(c, 10002, "Token 无效")
			}
			c.Abort()
			return
		}

		c.Set(usernameKey, claims.Username)
		c.Set(roleKey, claims.Role)

		c.Next()
	}
}

// Username 读取认证中间件注入的用户名
func Username(c *gin.Context) string {
	return c.GetString(usernameKey)
}
