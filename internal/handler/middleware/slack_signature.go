package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emojipapertrail/relay/internal/slack"
	"emojipapertrail/relay/pkg/response"
)

const (
	ContextKeyRawBody = "slack_raw_body"
	maxEventBodyBytes = 1 << 20
)

// SlackSignature rejects requests not signed with the app's signing secret.
// The verified body is stored under ContextKeyRawBody and restored on the
// request.
func SlackSignature(secret string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxEventBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(c, http.StatusRequestEntityTooLarge, 413, "request body too large")
			} else {
				response.BadRequest(c, "unreadable request body")
			}
			c.Abort()
			return
		}

		if err := slack.VerifySignature(secret, c.Request.Header, body); err != nil {
			logger.Warn("rejected slack request",
				zap.String("request_id", RequestIDFrom(c)),
				zap.Error(err),
			)
			response.Unauthorized(c, "invalid request signature")
			c.Abort()
			return
		}

		c.Set(ContextKeyRawBody, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

func RawBodyFrom(c *gin.Context) []byte {
	v, ok := c.Get(ContextKeyRawBody)
	if !ok {
		return nil
	}
	body, _ := v.([]byte)
	return body
}
