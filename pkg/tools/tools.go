// Package tools exposes the core services as structured tool calls for
// the chat surface. Every handler returns a JSON-shaped result with a
// warnings slice; partial failures degrade the result instead of
// erroring where the data is still usable.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/prep"
	"github.com/briefly-ai/briefly/pkg/search"
	"github.com/briefly-ai/briefly/pkg/services"
)

const defaultEventLimit = 50

// AccountSource lists a user's connected accounts.
type AccountSource interface {
	ListActiveByUser(ctx context.Context, userID string) ([]*models.Account, error)
}

// TokenSource validates account tokens before provider calls.
type TokenSource interface {
	EnsureAllValid(ctx context.Context, accts []*models.Account) ([]*models.Account, []models.AccountFailure, error)
}

// CalendarAPI is the calendar surface the tools need.
type CalendarAPI interface {
	ListMeetings(ctx context.Context, token string, from, to time.Time, max int) ([]models.Meeting, error)
	GetMeeting(ctx context.Context, token, eventID string) (models.Meeting, error)
}

// BriefStore persists briefs generated through the tool surface.
type BriefStore interface {
	Upsert(ctx context.Context, brief *models.Brief) error
}

// Generator runs one prep pipeline to completion.
type Generator interface {
	Run(ctx context.Context, meeting *models.Meeting, user *models.User) <-chan prep.Event
}

// Handlers implements the tool-call surface.
type Handlers struct {
	accounts  AccountSource
	guard     TokenSource
	calendar  CalendarAPI
	briefs    BriefStore
	generator Generator
	searcher  search.Provider
	logger    *slog.Logger
}

func NewHandlers(
	accounts AccountSource,
	guard TokenSource,
	calendar CalendarAPI,
	briefs BriefStore,
	generator Generator,
	searcher search.Provider,
	logger *slog.Logger,
) *Handlers {
	if accounts == nil || guard == nil || calendar == nil || briefs == nil || generator == nil {
		panic("tools: accounts, guard, calendar, briefs and generator are required")
	}
	return &Handlers{
		accounts:  accounts,
		guard:     guard,
		calendar:  calendar,
		briefs:    briefs,
		generator: generator,
		searcher:  searcher,
		logger:    logger.With("component", "tools"),
	}
}

// Event is the tool-facing calendar event shape.
type Event struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Location  string   `json:"location,omitempty"`
	AllDay    bool     `json:"all_day,omitempty"`
	Attendees []string `json:"attendees,omitempty"`
}

// EventList is the result of the calendar listing tools.
type EventList struct {
	Events   []Event  `json:"events"`
	Warnings []string `json:"warnings"`
}

// ListEventsRequest are the parameters of list_calendar_events. Either
// Date or the StartISO/EndISO pair selects the window; Date wins when
// both are present.
type ListEventsRequest struct {
	StartISO string `json:"start_iso,omitempty"`
	EndISO   string `json:"end_iso,omitempty"`
	Date     string `json:"date,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// GetCalendarByDate returns the user's events for one local date
// (YYYY-MM-DD).
func (h *Handlers) GetCalendarByDate(ctx context.Context, user *models.User, date string) (*EventList, error) {
	return h.ListCalendarEvents(ctx, user, ListEventsRequest{Date: date})
}

// ListCalendarEvents returns the user's events in the requested window,
// merged across accounts and sorted by start time.
func (h *Handlers) ListCalendarEvents(ctx context.Context, user *models.User, req ListEventsRequest) (*EventList, error) {
	loc := user.Location()
	if req.Timezone != "" {
		parsed, err := time.LoadLocation(req.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", req.Timezone)
		}
		loc = parsed
	}
	from, to, err := resolveWindow(req, loc, time.Now)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 || limit > defaultEventLimit {
		limit = defaultEventLimit
	}

	meetings, warnings, err := h.rawMeetings(ctx, user, from, to, limit)
	if err != nil {
		return nil, err
	}
	out := &EventList{Events: []Event{}, Warnings: warnings}
	for _, m := range meetings {
		out.Events = append(out.Events, MeetingEvent(m, loc))
	}
	sort.Slice(out.Events, func(i, j int) bool { return out.Events[i].Start < out.Events[j].Start })
	if len(out.Events) > limit {
		out.Events = out.Events[:limit]
	}
	return out, nil
}

// MeetingsForDate returns the user's raw meetings for one local date,
// merged across accounts.
func (h *Handlers) MeetingsForDate(ctx context.Context, user *models.User, date string) ([]models.Meeting, []string, error) {
	loc := user.Location()
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}
	meetings, warnings, err := h.rawMeetings(ctx, user, day, day.AddDate(0, 0, 1), defaultEventLimit)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(meetings, func(i, j int) bool { return meetings[i].Start.Before(meetings[j].Start) })
	return meetings, warnings, nil
}

func (h *Handlers) rawMeetings(ctx context.Context, user *models.User, from, to time.Time, limit int) ([]models.Meeting, []string, error) {
	accts, warnings, err := h.ValidAccounts(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	if warnings == nil {
		warnings = []string{}
	}
	seen := make(map[string]struct{})
	var out []models.Meeting
	for _, acct := range accts {
		meetings, err := h.calendar.ListMeetings(ctx, acct.AccessToken, from, to, limit)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("calendar fetch failed for %s", acct.Email))
			h.logger.Warn("calendar fetch failed", "user", user.ID, "account", acct.Email, "error", err)
			continue
		}
		for _, m := range meetings {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	return out, warnings, nil
}

// EventDetail is the result of get_calendar_event.
type EventDetail struct {
	Event       Event    `json:"event"`
	Description string   `json:"description,omitempty"`
	Organizer   string   `json:"organizer,omitempty"`
	Warnings    []string `json:"warnings"`
}

// GetCalendarEvent looks up one event by id across the user's accounts.
func (h *Handlers) GetCalendarEvent(ctx context.Context, user *models.User, eventID, timezone string) (*EventDetail, error) {
	if eventID == "" {
		return nil, errors.New("event_id is required")
	}
	loc := user.Location()
	if timezone != "" {
		parsed, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", timezone)
		}
		loc = parsed
	}
	accts, warnings, err := h.ValidAccounts(ctx, user)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, acct := range accts {
		m, err := h.calendar.GetMeeting(ctx, acct.AccessToken, eventID)
		if err != nil {
			lastErr = err
			continue
		}
		return &EventDetail{
			Event:       MeetingEvent(m, loc),
			Description: m.Description,
			Organizer:   m.Organizer.Email,
			Warnings:    warnings,
		}, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("event %s not found: %w", eventID, lastErr)
	}
	return nil, fmt.Errorf("event %s not found", eventID)
}

// BriefRequest are the parameters of generate_meeting_brief. Exactly
// one of MeetingID or Meeting must be set.
type BriefRequest struct {
	MeetingID string          `json:"meeting_id,omitempty"`
	Meeting   *models.Meeting `json:"meeting,omitempty"`
}

// BriefResult carries the generated brief and any degradation
// warnings surfaced during the run.
type BriefResult struct {
	Brief    *models.Brief `json:"brief"`
	Warnings []string      `json:"warnings"`
}

// GenerateMeetingBrief runs the full prep pipeline synchronously and
// persists the result.
func (h *Handlers) GenerateMeetingBrief(ctx context.Context, user *models.User, req BriefRequest) (*BriefResult, error) {
	meeting := req.Meeting
	if meeting == nil {
		if req.MeetingID == "" {
			return nil, errors.New("meeting_id or meeting is required")
		}
		resolved, err := h.ResolveMeeting(ctx, user, req.MeetingID)
		if err != nil {
			return nil, err
		}
		meeting = resolved
	}

	var brief *models.Brief
	for ev := range h.generator.Run(ctx, meeting, user) {
		switch ev.Type {
		case prep.EventComplete:
			brief = ev.Brief
		case prep.EventError:
			return nil, &models.PipelineError{
				Kind:           ev.Error,
				Status:         ev.Status,
				Message:        ev.Message,
				Revoked:        ev.Revoked,
				FailedAccounts: ev.FailedAccounts,
			}
		}
	}
	if brief == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("brief generation ended without a result")
	}
	if err := h.briefs.Upsert(ctx, brief); err != nil {
		h.logger.Warn("failed to persist tool-generated brief", "user", user.ID, "meeting", meeting.ID, "error", err)
	}
	warnings := []string{}
	if brief.ExtractionData != nil {
		warnings = append(warnings, brief.ExtractionData.Warnings...)
	}
	return &BriefResult{Brief: brief, Warnings: warnings}, nil
}

// SearchRequest are the parameters of parallel_search.
type SearchRequest struct {
	Objective         string   `json:"objective"`
	SearchQueries     []string `json:"search_queries"`
	MaxResults        int      `json:"max_results,omitempty"`
	MaxCharsPerResult int      `json:"max_chars_per_result,omitempty"`
}

// SearchResult is the structured parallel_search output.
type SearchResult struct {
	Results  []search.Result `json:"results"`
	Warnings []string        `json:"warnings"`
}

// ParallelSearch fans the queries out through the search provider.
func (h *Handlers) ParallelSearch(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if h.searcher == nil {
		return nil, errors.New("web search is not configured")
	}
	if len(req.SearchQueries) == 0 {
		return nil, errors.New("search_queries is required")
	}
	resp, err := h.searcher.Search(ctx, req.Objective, req.SearchQueries, search.Limits{
		MaxResults:        req.MaxResults,
		MaxCharsPerResult: req.MaxCharsPerResult,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	out := &SearchResult{Results: resp.Results, Warnings: resp.Warnings}
	if out.Results == nil {
		out.Results = []search.Result{}
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	return out, nil
}

// ResolveMeeting looks a meeting up by id across the user's accounts.
func (h *Handlers) ResolveMeeting(ctx context.Context, user *models.User, meetingID string) (*models.Meeting, error) {
	accts, _, err := h.ValidAccounts(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, acct := range accts {
		m, err := h.calendar.GetMeeting(ctx, acct.AccessToken, meetingID)
		if err != nil {
			continue
		}
		return &m, nil
	}
	return nil, fmt.Errorf("meeting %s: %w", meetingID, services.ErrNotFound)
}

// ValidAccounts lists and token-validates the user's accounts, turning
// per-account token failures into warnings.
func (h *Handlers) ValidAccounts(ctx context.Context, user *models.User) ([]*models.Account, []string, error) {
	accts, err := h.accounts.ListActiveByUser(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accts) == 0 {
		return nil, nil, models.NewNoValidAccountsError(nil)
	}
	valid, failures, err := h.guard.EnsureAllValid(ctx, accts)
	if err != nil {
		return nil, nil, err
	}
	warnings := make([]string, 0, len(failures))
	for _, f := range failures {
		warnings = append(warnings, fmt.Sprintf("account %s excluded: %s", f.Email, f.Message))
	}
	return valid, warnings, nil
}

// resolveWindow turns the request parameters into a concrete [from, to)
// window. Date selects one local day; start/end are RFC 3339; with
// neither, the window is the next 7 days.
func resolveWindow(req ListEventsRequest, loc *time.Location, now func() time.Time) (time.Time, time.Time, error) {
	if req.Date != "" {
		day, err := time.ParseInLocation("2006-01-02", req.Date, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", req.Date)
		}
		return day, day.AddDate(0, 0, 1), nil
	}
	if req.StartISO != "" || req.EndISO != "" {
		from, err := time.Parse(time.RFC3339, req.StartISO)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_iso %q", req.StartISO)
		}
		to, err := time.Parse(time.RFC3339, req.EndISO)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_iso %q", req.EndISO)
		}
		if !to.After(from) {
			return time.Time{}, time.Time{}, errors.New("end_iso must be after start_iso")
		}
		return from, to, nil
	}
	start := now().In(loc)
	return start, start.AddDate(0, 0, 7), nil
}

// MeetingEvent converts a raw meeting to the tool-facing event shape
// with times rendered in the given location.
func MeetingEvent(m models.Meeting, loc *time.Location) Event {
	ev := Event{
		ID:       m.ID,
		Title:    m.Title,
		Start:    m.Start.In(loc).Format(time.RFC3339),
		End:      m.End.In(loc).Format(time.RFC3339),
		Location: m.Location,
		AllDay:   m.AllDay,
	}
	for _, a := range m.Attendees {
		ev.Attendees = append(ev.Attendees, a.Email)
	}
	return ev
}
