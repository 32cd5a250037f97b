package api

import (
	"errors"
	"time"

	"github.com/briefly-ai/briefly/pkg/models"
)

// apiMeeting is the request-body meeting shape, for callers that carry
// the event instead of an id.
type apiMeeting struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Organizer   string    `json:"organizer"`
	Attendees   []struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
	} `json:"attendees"`
}

func (m *apiMeeting) toModel() (*models.Meeting, error) {
	if m.ID == "" {
		return nil, errors.New("meeting.id is required")
	}
	if m.Start.IsZero() {
		return nil, errors.New("meeting.start is required")
	}
	out := &models.Meeting{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Location:    m.Location,
		Start:       m.Start,
		End:         m.End,
		Organizer:   models.Attendee{Email: m.Organizer},
	}
	for _, a := range m.Attendees {
		out.Attendees = append(out.Attendees, models.Attendee{
			Email:       a.Email,
			DisplayName: a.DisplayName,
		})
	}
	return out, nil
}

// meetingRequest selects a meeting by id or carries it inline.
type meetingRequest struct {
	MeetingID string      `json:"meeting_id"`
	Meeting   *apiMeeting `json:"meeting"`
}
