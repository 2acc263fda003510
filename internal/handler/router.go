package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emojipapertrail/relay/internal/config"
	"emojipapertrail/relay/internal/handler/middleware"
)

// SetupRouter wires the HTTP surface. oauthHandler is nil in single-workspace
// mode, which leaves the install routes unmounted.
func SetupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	healthHandler *HealthHandler,
	eventsHandler *EventsHandler,
	oauthHandler *OAuthHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID(cfg.Server.RequestIDHeader))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))

	r.GET("/healthz", healthHandler.Live)
	r.GET("/ready", healthHandler.Ready)

	slackGroup := r.Group("/slack")
	{
		slackGroup.POST("/events",
			middleware.SlackSignature(cfg.Slack.SigningSecret, logger),
			eventsHandler.Handle,
		)

		if oauthHandler != nil {
			install := slackGroup.Group("")
			install.Use(middleware.CORS(cfg.CORS))
			install.GET("/install", oauthHandler.Install)
			install.GET("/oauth_redirect", oauthHandler.Callback)
		}
	}

	return r
}
