package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/briefly-ai/briefly/pkg/models"
)

const defaultCalendarBaseURL = "https://www.googleapis.com/calendar/v3"

// CalendarClient reads events from the primary calendar.
type CalendarClient struct {
	rest    *restClient
	baseURL string
}

// NewCalendarClient creates a calendar client.
func NewCalendarClient(httpClient *http.Client, logger *slog.Logger) *CalendarClient {
	return &CalendarClient{
		rest:    newRESTClient(httpClient, logger.With("component", "calendar_client")),
		baseURL: defaultCalendarBaseURL,
	}
}

// eventTime is the provider's date-or-datetime union.
type eventTime struct {
	DateTime time.Time `json:"dateTime"`
	Date     string    `json:"date"`
	TimeZone string    `json:"timeZone"`
}

// Resolve returns the concrete instant, treating all-day dates as
// midnight. The second return is false for unset times.
func (t eventTime) Resolve() (time.Time, bool) {
	if !t.DateTime.IsZero() {
		return t.DateTime, true
	}
	if t.Date != "" {
		if d, err := time.Parse("2006-01-02", t.Date); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

type rawEvent struct {
	ID          string            `json:"id"`
	Summary     string            `json:"summary"`
	Description string            `json:"description"`
	Location    string            `json:"location"`
	Start       eventTime         `json:"start"`
	End         eventTime         `json:"end"`
	Organizer   models.Attendee   `json:"organizer"`
	Attendees   []models.Attendee `json:"attendees"`
	Status      string            `json:"status"`
}

type eventList struct {
	Items         []json.RawMessage `json:"items"`
	NextPageToken string            `json:"nextPageToken"`
}

// ListMeetings returns events in [from, to) as meetings with the raw
// provider payload preserved, pagination resolved up to max. Cancelled
// events are dropped.
func (c *CalendarClient) ListMeetings(ctx context.Context, token string, from, to time.Time, max int) ([]models.Meeting, error) {
	var out []models.Meeting
	pageToken := ""
	for len(out) < max {
		params := url.Values{}
		params.Set("timeMin", from.UTC().Format(time.RFC3339))
		params.Set("timeMax", to.UTC().Format(time.RFC3339))
		params.Set("singleEvents", "true")
		params.Set("orderBy", "startTime")
		params.Set("maxResults", fmt.Sprintf("%d", min(max-len(out), 250)))
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page eventList
		u := withQuery(c.baseURL+"/calendars/primary/events", params)
		if err := c.rest.getJSON(ctx, token, u, &page); err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}
		for _, raw := range page.Items {
			m, ok := parseMeeting(raw)
			if ok {
				out = append(out, m)
			}
		}
		if page.NextPageToken == "" || len(page.Items) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// ListHistory returns past events in [from, to) as calendar artifacts.
func (c *CalendarClient) ListHistory(ctx context.Context, token string, from, to time.Time, max int) ([]models.CalendarArtifact, error) {
	meetings, err := c.ListMeetings(ctx, token, from, to, max)
	if err != nil {
		return nil, err
	}
	out := make([]models.CalendarArtifact, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, models.CalendarArtifact{
			ID:        m.ID,
			Title:     m.Title,
			Start:     m.Start,
			End:       m.End,
			Attendees: m.Attendees,
			Organizer: m.Organizer.Email,
		})
	}
	return out, nil
}

// GetMeeting fetches one event by id.
func (c *CalendarClient) GetMeeting(ctx context.Context, token, eventID string) (models.Meeting, error) {
	body, err := c.rest.get(ctx, token, c.baseURL+"/calendars/primary/events/"+url.PathEscape(eventID))
	if err != nil {
		return models.Meeting{}, fmt.Errorf("failed to fetch event %s: %w", eventID, err)
	}
	m, ok := parseMeeting(body)
	if !ok {
		return models.Meeting{}, fmt.Errorf("event %s has no usable start time", eventID)
	}
	return m, nil
}

// parseMeeting decodes one provider event, preserving the raw payload.
// Events without a resolvable start, and cancelled events, are skipped.
func parseMeeting(raw json.RawMessage) (models.Meeting, bool) {
	var ev rawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return models.Meeting{}, false
	}
	if ev.Status == "cancelled" {
		return models.Meeting{}, false
	}
	start, ok := ev.Start.Resolve()
	if !ok {
		return models.Meeting{}, false
	}
	end, _ := ev.End.Resolve()

	return models.Meeting{
		ID:          ev.ID,
		Title:       ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       start,
		End:         end,
		AllDay:      ev.Start.DateTime.IsZero(),
		Organizer:   ev.Organizer,
		Attendees:   ev.Attendees,
		Raw:         raw,
		Timezone:    ev.Start.TimeZone,
	}, true
}
