package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/briefly-ai/briefly/pkg/scheduler"
)

// handleCron runs one scheduler pass and reports its summary.
func (s *Server) handleCron(pass func(context.Context) scheduler.Summary) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary := pass(c.Request.Context())
		c.JSON(http.StatusOK, summary)
	}
}
