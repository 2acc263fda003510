package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emojipapertrail/relay/internal/handler/middleware"
	"emojipapertrail/relay/internal/service"
	"emojipapertrail/relay/internal/slack"
	"emojipapertrail/relay/pkg/response"
)

const headerRetryNum = "X-Slack-Retry-Num"

type EventsHandler struct {
	emojiService *service.EmojiService
	logger       *zap.Logger
}

func NewEventsHandler(emojiService *service.EmojiService, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{emojiService: emojiService, logger: logger}
}

// Handle serves the Events API endpoint. It runs behind the signature
// middleware, so the body is already verified.
func (h *EventsHandler) Handle(c *gin.Context) {
	env, err := slack.ParseEnvelope(middleware.RawBodyFrom(c))
	if err != nil {
		response.BadRequest(c, "malformed event payload")
		return
	}

	switch env.Type {
	case slack.EnvelopeURLVerification:
		c.JSON(http.StatusOK, gin.H{"challenge": env.Challenge})
		return
	case slack.EnvelopeEventCallback:
	default:
		h.logger.Debug("ignoring envelope", zap.String("type", env.Type))
		c.Status(http.StatusOK)
		return
	}

	log := h.logger.With(
		zap.String("request_id", middleware.RequestIDFrom(c)),
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("retry_num", c.GetHeader(headerRetryNum)),
	)
	ctx := c.Request.Context()
	tenant := env.Tenant()

	switch ev := env.Inner.(type) {
	case *slack.EmojiChangedEvent:
		outcome, err := h.emojiService.HandleEmojiChanged(ctx, tenant, ev)
		if err != nil {
			h.fail(c, log, err)
			return
		}
		log.Debug("emoji_changed handled", zap.String("outcome", string(outcome)))

	case *slack.AppUninstalledEvent:
		if err := h.emojiService.HandleUninstall(ctx, tenant); err != nil {
			h.fail(c, log, err)
			return
		}

	case *slack.TokensRevokedEvent:
		if err := h.emojiService.HandleTokensRevoked(ctx, tenant, ev); err != nil {
			h.fail(c, log, err)
			return
		}

	default:
		log.Debug("ignoring event")
	}

	c.Status(http.StatusOK)
}

// fail answers with a generic envelope; details go to the log only. A non-2xx
// answer makes Slack redeliver, which the guards absorb.
func (h *EventsHandler) fail(c *gin.Context, log *zap.Logger, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, service.ErrNotInstalled):
		log.Warn("event for unknown installation", zap.Error(err))
	default:
		log.Error("event handling failed", zap.Error(err))
	}
	response.InternalError(c, "internal server error")
}
