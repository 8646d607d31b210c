package middleware

import (
	"github.com/gin-gonic/gin"
	"islapay.com/pkg/common"
	"islapay.com/pkg/logger"
)

// RequestID 没带就生成一个，写回响应头，并塞进 context 供日志取用
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(common.HeaderRequestID)
		if rid == "" {
			rid = common.New()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Set(logger.TraceIdKey, rid)
		c.Header(common.HeaderRequestID, rid)
		c.Next()
	}
}
