package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/dreamforge/internal/api/middleware"
	"github.com/timmy/dreamforge/internal/logger"
)

// ConnectionServer upgrades a request into a live event connection for userID.
type ConnectionServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string) error
}

// EventsHandler serves the live event websocket.
type EventsHandler struct {
	hub ConnectionServer
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(hub ConnectionServer) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Serve handles GET /ws. The connection lives until the client goes away.
func (h *EventsHandler) Serve(c *gin.Context) {
	// The upgrader has already answered the client when this fails.
	if err := h.hub.ServeWS(c.Writer, c.Request, middleware.UserID(c)); err != nil {
		logger.CtxWarn(c.Request.Context(), "Websocket upgrade failed: error=%v", err)
	}
}
