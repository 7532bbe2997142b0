package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// triggerRetention queues a purge on the retention worker and returns
// without waiting for it.
func (s *Server) triggerRetention(c *gin.Context) {
	if s.retention == nil || !s.retention.Enabled() {
		c.JSON(http.StatusConflict, errorResponse{Error: "retention is disabled"})
		return
	}
	s.retention.Trigger()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
