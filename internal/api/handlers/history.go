package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/bhandras/delight/relay/internal/api/middleware"
	"github.com/bhandras/delight/relay/internal/database"
	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// SessionHistory reads closed and live sessions from the journal.
type SessionHistory interface {
	Recent(ctx context.Context, principalID string, limit int) ([]database.SessionRecord, error)
}

type HistoryHandler struct {
	history SessionHistory
}

func NewHistoryHandler(history SessionHistory) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// ListHistory handles GET /v1/relay/history?limit=N
func (h *HistoryHandler) ListHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	principal, _ := middleware.GetPrincipalID(c)
	records, err := h.history.Recent(c.Request.Context(), principal, limit)
	if err != nil {
		logger.Errorf("Failed to read session history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read session history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": records})
}
