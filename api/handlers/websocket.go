package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-chat/backend/internal/ws"
)

// WebSocketHandler attaches UI clients to the event bridge.
type WebSocketHandler struct {
	defaultSessionID string
	wsHandler        *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(defaultSessionID string, wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		defaultSessionID: defaultSessionID,
		wsHandler:        wsHandler,
	}
}

// Attach handles WS /api/events - streams session events and accepts commands.
// ?session= selects another attached session.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	sessionID := c.DefaultQuery("session", h.defaultSessionID)
	if sessionID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Session ID is required")
		return
	}

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, sessionID); err != nil {
		// The bridge has already written the response.
		return
	}
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/events", h.Attach)
}
