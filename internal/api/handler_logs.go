package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetLogs handles GET /api/logs?limit=&source=.
func (h *Handler) GetLogs(c *gin.Context) {
	limit, err := intQuery(c, "limit", 200)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	c.JSON(http.StatusOK, h.events.Recent(limit, c.Query("source")))
}

// StreamLogs handles GET /api/logs/stream.
func (h *Handler) StreamLogs(c *gin.Context) {
	h.events.ServeSSE(c.Writer, c.Request)
}
