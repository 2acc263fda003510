package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const ContextKeyRequestID = "request_id"

// RequestID takes the id from header, as set by the fronting proxy or load
// balancer, and falls back to a locally generated one. The id is echoed back
// in the same header.
func RequestID(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(header)
		if id == "" {
			id = "local:" + uuid.NewString()
		}
		c.Set(ContextKeyRequestID, id)
		c.Header(header, id)
		c.Next()
	}
}

func RequestIDFrom(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}
