package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emojipapertrail/relay/internal/service"
	"emojipapertrail/relay/pkg/response"
)

type OAuthHandler struct {
	oauthService *service.OAuthService
	logger       *zap.Logger
}

func NewOAuthHandler(oauthService *service.OAuthService, logger *zap.Logger) *OAuthHandler {
	return &OAuthHandler{oauthService: oauthService, logger: logger}
}

// Install redirects the user to Slack's authorize page.
func (h *OAuthHandler) Install(c *gin.Context) {
	authURL, err := h.oauthService.InstallURL(c.Request.Context())
	if err != nil {
		h.logger.Error("build install url", zap.Error(err))
		response.InternalError(c, "failed to start installation")
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

type installResult struct {
	EnterpriseID string `json:"enterprise_id,omitempty"`
	TeamID       string `json:"team_id,omitempty"`
	AppID        string `json:"app_id"`
}

// Callback completes the install after Slack redirects back.
func (h *OAuthHandler) Callback(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		h.logger.Info("installation cancelled", zap.String("reason", reason))
		response.BadRequest(c, service.ErrInstallDenied.Error())
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		response.BadRequest(c, "missing code or state")
		return
	}

	inst, err := h.oauthService.HandleCallback(c.Request.Context(), code, state)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidState):
			response.BadRequest(c, "invalid or expired state")
		case errors.Is(err, service.ErrOAuthExchange):
			h.logger.Warn("oauth exchange failed", zap.Error(err))
			response.Error(c, http.StatusBadGateway, 502, "failed to complete installation")
		default:
			h.logger.Error("oauth callback failed", zap.Error(err))
			response.InternalError(c, "failed to complete installation")
		}
		return
	}

	response.Success(c, installResult{
		EnterpriseID: inst.EnterpriseID,
		TeamID:       inst.TeamID,
		AppID:        inst.AppID,
	})
}
