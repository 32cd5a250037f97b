package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/briefly-ai/briefly/pkg/models"
)

// handlePurpose runs purpose detection for one meeting. Email evidence
// comes from the harvester when accounts are available; with none, the
// detector degrades to calendar-only inference.
func (s *Server) handlePurpose(c *gin.Context) {
	user := currentUser(c)

	var req meetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()
	meeting, err := s.resolveMeeting(ctx, user, req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	warnings := []string{}
	var emails []models.EmailArtifact
	accts, acctWarnings, err := s.calendars.ValidAccounts(ctx, user)
	if err == nil {
		warnings = append(warnings, acctWarnings...)
		result, fetchErr := s.emails.FetchEmails(ctx, accts, meeting, user)
		if fetchErr != nil {
			warnings = append(warnings, "email evidence unavailable")
			s.logger.Warn("purpose email fetch failed", "user", user.ID, "meeting", meeting.ID, "error", fetchErr)
		} else {
			emails = result.Items
		}
	} else {
		warnings = append(warnings, "email evidence unavailable")
	}

	purpose := s.purpose.Detect(ctx, meeting, emails)
	c.JSON(http.StatusOK, gin.H{
		"meeting_id": meeting.ID,
		"purpose":    purpose,
		"warnings":   warnings,
	})
}
