// Package handlers provides HTTP API request handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remote-chat/backend/internal/model"
	"github.com/remote-chat/backend/internal/session"
)

// SessionHandler exposes one chat session over HTTP.
type SessionHandler struct {
	session           *session.Session
	defaultCredential string
}

// NewSessionHandler creates a new SessionHandler. defaultCredential is used by
// POST /connect when the request does not carry one.
func NewSessionHandler(s *session.Session, defaultCredential string) *SessionHandler {
	return &SessionHandler{
		session:           s,
		defaultCredential: defaultCredential,
	}
}

// ConnectRequest represents the request body for connecting.
type ConnectRequest struct {
	Credential string `json:"credential"`
}

// DisconnectRequest represents the request body for disconnecting.
type DisconnectRequest struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// ReadRequest represents the request body for marking messages read.
type ReadRequest struct {
	MessageIDs []string `json:"messageIds" binding:"required,min=1"`
}

// StatusResponse represents the session state in API responses.
type StatusResponse struct {
	session.Stats
	LastRTT string `json:"lastRtt,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// SendResponse represents the outcome of an unacknowledged send.
type SendResponse struct {
	ID     string `json:"id"`
	Result string `json:"result"`
}

// AckResponse represents the outcome of an acknowledged send.
type AckResponse struct {
	ID  string         `json:"id"`
	Ack *model.Message `json:"ack"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func toStatusResponse(stats session.Stats) *StatusResponse {
	resp := &StatusResponse{Stats: stats}
	if stats.LastRTT > 0 {
		resp.LastRTT = stats.LastRTT.String()
	}
	if stats.ConnectedAt != nil {
		resp.Uptime = formatDuration(time.Since(*stats.ConnectedAt))
	}
	return resp
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return time.Duration(h*time.Hour + m*time.Minute + s*time.Second).String()
	}
	if m > 0 {
		return time.Duration(m*time.Minute + s*time.Second).String()
	}
	return time.Duration(s * time.Second).String()
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendSessionError maps session errors onto HTTP responses.
func sendSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrNotConnected):
		sendError(c, http.StatusServiceUnavailable, "NOT_CONNECTED", "Session is not connected")
	case errors.Is(err, model.ErrAckTimeout):
		sendError(c, http.StatusGatewayTimeout, "ACK_TIMEOUT", err.Error())
	case errors.Is(err, model.ErrConnectionClosed):
		sendError(c, http.StatusBadGateway, "CONNECTION_CLOSED", err.Error())
	case errors.Is(err, model.ErrDuplicatePending):
		sendError(c, http.StatusConflict, "DUPLICATE_PENDING", err.Error())
	case errors.Is(err, model.ErrUnauthorized):
		sendError(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case model.IsServerError(err):
		var se *model.ServerError
		errors.As(err, &se)
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "SERVER_REJECTED",
				Message: se.Message,
				Details: map[string]interface{}{"refId": se.RefID},
			},
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		sendError(c, http.StatusRequestTimeout, "REQUEST_CANCELED", err.Error())
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// Status handles GET /api/status - returns the session state.
func (h *SessionHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, toStatusResponse(h.session.Stats()))
}

// Connect handles POST /api/connect - starts connecting.
func (h *SessionHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	credential := req.Credential
	if credential == "" {
		credential = h.defaultCredential
	}

	if err := h.session.Connect(credential); err != nil {
		switch {
		case errors.Is(err, model.ErrCredentialRequired):
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, model.ErrAlreadyOpen):
			sendError(c, http.StatusConflict, "ALREADY_CONNECTED", "Session already has an open connection")
		default:
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to connect: "+err.Error())
		}
		return
	}

	c.JSON(http.StatusAccepted, toStatusResponse(h.session.Stats()))
}

// Disconnect handles POST /api/disconnect - closes the connection without reconnecting.
func (h *SessionHandler) Disconnect(c *gin.Context) {
	var req DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	if req.Code != 0 && (req.Code < 1000 || req.Code > 4999) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Close code must be between 1000 and 4999")
		return
	}

	h.session.Disconnect(req.Code, req.Reason)
	c.JSON(http.StatusOK, toStatusResponse(h.session.Stats()))
}

// Send handles POST /api/messages - sends a wire message. With ?ack=true the
// request waits for the server's ack or error.
func (h *SessionHandler) Send(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Failed to read body: "+err.Error())
		return
	}

	var msg model.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid message: "+err.Error())
		return
	}
	if msg.Type == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Message type is required")
		return
	}

	wantAck, _ := strconv.ParseBool(c.Query("ack"))
	if wantAck {
		var timeout time.Duration
		if raw := c.Query("timeout"); raw != "" {
			timeout, err = time.ParseDuration(raw)
			if err != nil || timeout <= 0 {
				sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid timeout")
				return
			}
		}

		ackMsg, err := h.session.Request(c.Request.Context(), &msg, timeout)
		if err != nil {
			sendSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, AckResponse{ID: msg.ID, Ack: ackMsg})
		return
	}

	result, err := h.session.Send(&msg)
	if err != nil {
		sendSessionError(c, err)
		return
	}

	status := http.StatusAccepted
	if result == model.SendDropped {
		status = http.StatusOK
	}
	c.JSON(status, SendResponse{ID: msg.ID, Result: result.String()})
}

// Queue handles GET /api/queue - lists messages waiting for the next open.
func (h *SessionHandler) Queue(c *gin.Context) {
	messages := h.session.QueuedMessages()
	if messages == nil {
		messages = []*model.Message{}
	}
	c.JSON(http.StatusOK, gin.H{
		"depth":    len(messages),
		"messages": messages,
	})
}

// Presence handles GET /api/presence - lists known presence records.
func (h *SessionHandler) Presence(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Presence().Snapshot())
}

// UserPresence handles GET /api/presence/:userId - returns one user's presence.
func (h *SessionHandler) UserPresence(c *gin.Context) {
	userID := c.Param("userId")
	rec, ok := h.session.Presence().Get(userID)
	if !ok {
		sendError(c, http.StatusNotFound, "PRESENCE_UNKNOWN", "No presence known for user "+userID)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Typing handles GET /api/chats/:chatId/typing - lists users typing in a chat.
func (h *SessionHandler) Typing(c *gin.Context) {
	chatID := c.Param("chatId")
	c.JSON(http.StatusOK, gin.H{
		"chatId":  chatID,
		"typists": h.session.Typing().Typists(chatID),
	})
}

// MarkRead handles POST /api/chats/:chatId/read - queues read receipts.
func (h *SessionHandler) MarkRead(c *gin.Context) {
	chatID := c.Param("chatId")

	var req ReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := h.session.Receipts().MarkRead(chatID, req.MessageIDs...); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"chatId":  chatID,
		"pending": h.session.Receipts().Pending(chatID),
	})
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", h.Status)
	rg.POST("/connect", h.Connect)
	rg.POST("/disconnect", h.Disconnect)
	rg.POST("/messages", h.Send)
	rg.GET("/queue", h.Queue)
	rg.GET("/presence", h.Presence)
	rg.GET("/presence/:userId", h.UserPresence)

	chats := rg.Group("/chats/:chatId")
	{
		chats.GET("/typing", h.Typing)
		chats.POST("/read", h.MarkRead)
	}
}
