package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emojipapertrail/relay/pkg/response"
)

// Pinger is satisfied by repository.KVStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	backend Pinger
	logger  *zap.Logger
}

func NewHealthHandler(backend Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{backend: backend, logger: logger}
}

func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports whether the state backend answers.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.backend.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		response.ServiceUnavailable(c, "state backend unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
