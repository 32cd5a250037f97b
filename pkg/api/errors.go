package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/services"
)

// errNoResult marks a generator stream that closed without a complete
// or error event.
var errNoResult = errors.New("brief generation ended without a result")

func newValidationError(msg string) error {
	return services.NewValidationError("request", msg)
}

// writeError maps service and pipeline errors onto HTTP responses.
func (s *Server) writeError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error()})
		return
	}
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}
	var perr *models.PipelineError
	if errors.As(err, &perr) {
		c.JSON(perr.Status, gin.H{
			"error":           string(perr.Kind),
			"message":         perr.Message,
			"revoked":         perr.Revoked,
			"failed_accounts": perr.FailedAccounts,
		})
		return
	}

	s.logger.Error("unexpected handler error", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
