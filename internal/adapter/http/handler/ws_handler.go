package handler

import (
	"instant-payout/internal/adapter/http/middleware"
	"instant-payout/internal/adapter/ws"
	"instant-payout/pkg/apperror"
	"instant-payout/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WSHandler upgrades authenticated clients into payout-status sessions.
type WSHandler struct {
	hub *ws.Hub
	log zerolog.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *ws.Hub, log zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

// Subscribe handles GET /ws/subscribe. SubscribeAuth has already bound
// the session's user id into the context.
func (h *WSHandler) Subscribe(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)
	if userID == "" {
		response.Error(c, apperror.ErrValidation("missing subscription identity"))
		return
	}

	if err := h.hub.Subscribe(c.Writer, c.Request, userID); err != nil {
		// The upgrader already wrote the handshake failure.
		h.log.Debug().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
	}
}
