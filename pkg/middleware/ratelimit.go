package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"islapay.com/pkg/common"
	"islapay.com/pkg/logger"
	"islapay.com/pkg/ratelimit"
	"islapay.com/pkg/xerr"
)

// RateLimit ip+route 维度限流。被限流是可控拒绝，只记 Warn 不打堆栈
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			logger.Warn(c, "http rate limited",
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			common.Fail(c, http.StatusTooManyRequests, xerr.ServerCommonError, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
