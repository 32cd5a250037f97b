package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/prep"
	"github.com/briefly-ai/briefly/pkg/tools"
)

type dayPrepRequest struct {
	Date string `json:"date" binding:"required"`
}

// prepResult is the per-meeting outcome within a day-prep run.
type prepResult struct {
	MeetingID string `json:"meeting_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type dayPrepResponse struct {
	Date        string          `json:"date"`
	Meetings    []tools.Event   `json:"meetings"`
	PrepResults []prepResult    `json:"prep_results"`
	DayPrep     *models.DayPrep `json:"day_prep"`
	Warnings    []string        `json:"warnings"`
}

// handleDayPrep generates briefs for every eligible meeting on the
// given local date and folds them into a day prep. Per-meeting failures
// degrade the result; the run continues.
func (s *Server) handleDayPrep(c *gin.Context) {
	user := currentUser(c)

	var req dayPrepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date is required (YYYY-MM-DD)"})
		return
	}
	ctx := c.Request.Context()

	meetings, warnings, err := s.calendars.MeetingsForDate(ctx, user, req.Date)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := dayPrepResponse{
		Date:        req.Date,
		Meetings:    []tools.Event{},
		PrepResults: []prepResult{},
		Warnings:    warnings,
	}

	var briefs []models.Brief
	loc := user.Location()
	for i := range meetings {
		meeting := &meetings[i]
		resp.Meetings = append(resp.Meetings, tools.MeetingEvent(*meeting, loc))
		if len(meeting.Attendees) == 0 || meeting.AllDay {
			resp.PrepResults = append(resp.PrepResults, prepResult{
				MeetingID: meeting.ID, Title: meeting.Title, Status: "skipped",
			})
			continue
		}
		brief, runErr := s.runPrep(ctx, meeting, user)
		if runErr != nil {
			resp.PrepResults = append(resp.PrepResults, prepResult{
				MeetingID: meeting.ID, Title: meeting.Title, Status: "error", Error: runErr.Error(),
			})
			continue
		}
		if err := s.briefs.Upsert(ctx, brief); err != nil {
			s.logger.Warn("failed to persist brief",
				"user", user.ID, "meeting", meeting.ID, "error", err)
		}
		briefs = append(briefs, *brief)
		resp.PrepResults = append(resp.PrepResults, prepResult{
			MeetingID: meeting.ID, Title: meeting.Title, Status: "ok",
		})
	}

	resp.DayPrep = s.aggregate.Aggregate(ctx, user, req.Date, briefs)
	if err := s.dayPreps.Upsert(ctx, resp.DayPrep); err != nil {
		s.logger.Warn("failed to persist day prep", "user", user.ID, "date", req.Date, "error", err)
		resp.Warnings = append(resp.Warnings, "day prep could not be persisted")
	}

	c.JSON(http.StatusOK, resp)
}

// runPrep consumes one generator stream to completion.
func (s *Server) runPrep(ctx context.Context, meeting *models.Meeting, user *models.User) (*models.Brief, error) {
	var brief *models.Brief
	for ev := range s.generator.Run(ctx, meeting, user) {
		switch ev.Type {
		case prep.EventComplete:
			brief = ev.Brief
		case prep.EventError:
			return nil, &models.PipelineError{
				Kind:    ev.Error,
				Status:  ev.Status,
				Message: ev.Message,
				Revoked: ev.Revoked,
			}
		}
	}
	if brief == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errNoResult
	}
	return brief, nil
}
