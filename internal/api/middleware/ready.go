package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/gerges15/minia-it-department-sub001/pkg/response"
)

// RequireReady 会话未连接时拒绝命令请求（503）
// 只读接口不挂载此中间件，断线期间仍可查看缓存视图
func RequireReady(ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ready() {
			response.ServiceUnavailable(c, 17003, "实时连接不可用，请稍后重试或手动重连")
			c.Abort()
			return
		}
		c.Next()
	}
}
