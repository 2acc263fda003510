package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emojipapertrail/relay/pkg/response"
)

// Recovery turns a panic into a generic 500 envelope. The panic value is
// logged, never returned to the caller.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.String("request_id", RequestIDFrom(c)),
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", err),
					zap.Stack("stack"),
				)
				response.InternalError(c, "internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
