package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/remote-chat/backend/internal/model"
	"github.com/remote-chat/backend/internal/repository"
)

// HistoryHandler serves the connection journal.
type HistoryHandler struct {
	repo *repository.ConnectionEventRepository
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(repo *repository.ConnectionEventRepository) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

// List handles GET /api/history - lists journal entries, newest first.
// ?session= restricts to one session, ?limit= caps the result.
func (h *HistoryHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	var err error
	var entries []*model.ConnectionEvent
	if sessionID := c.Query("session"); sessionID != "" {
		entries, err = h.repo.ListBySession(ctx, sessionID, limit)
	} else {
		entries, err = h.repo.ListRecent(ctx, limit)
	}
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read history: "+err.Error())
		return
	}

	if entries == nil {
		entries = []*model.ConnectionEvent{}
	}
	c.JSON(http.StatusOK, entries)
}

// RegisterRoutes registers the history route.
func (h *HistoryHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/history", h.List)
}
