package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/prep"
)

// handlePrep streams one prep run as NDJSON. The response status is 200
// as soon as streaming begins; pipeline failures arrive as an error
// event on the stream, never as an HTTP error.
func (s *Server) handlePrep(c *gin.Context) {
	user := currentUser(c)

	var req meetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	meeting, err := s.resolveMeeting(c.Request.Context(), user, req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	enc := json.NewEncoder(c.Writer)
	for ev := range s.generator.Run(c.Request.Context(), meeting, user) {
		if ev.Type == prep.EventComplete && ev.Brief != nil {
			if err := s.briefs.Upsert(c.Request.Context(), ev.Brief); err != nil {
				s.logger.Warn("failed to persist brief",
					"user", user.ID, "meeting", meeting.ID, "error", err)
			}
		}
		if err := enc.Encode(ev); err != nil {
			// Consumer went away; the pipeline context is tied to the
			// request and unwinds on its own.
			return
		}
		c.Writer.Flush()
	}
}

func (s *Server) resolveMeeting(ctx context.Context, user *models.User, req meetingRequest) (*models.Meeting, error) {
	if req.Meeting != nil {
		m, err := req.Meeting.toModel()
		if err != nil {
			return nil, newValidationError(err.Error())
		}
		return m, nil
	}
	if req.MeetingID == "" {
		return nil, newValidationError("meeting_id or meeting is required")
	}
	return s.calendars.ResolveMeeting(ctx, user, req.MeetingID)
}
