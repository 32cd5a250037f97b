package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/briefly-ai/briefly/pkg/llm"
	"github.com/briefly-ai/briefly/pkg/models"
)

const (
	timelineLookback  = 180 * 24 * time.Hour
	maxTimelineEvents = 100
	snippetLen        = 150
)

// Timeline event types.
const (
	eventTypeEmail     = "email"
	eventTypeDocument  = "document"
	eventTypeMeeting   = "meeting"
	eventTypeReference = "reference"
)

const arbiterPrompt = `These are candidate timeline events leading up to the meeting "%s"
(purpose: %s). Select the IDs of the most important ones for
understanding how the meeting came to be. Keep decisive emails, key
document revisions, and prior meetings; drop routine noise.

%s

Respond with only a JSON array of the selected ID strings.`

// buildTimeline merges emails, documents, and past meetings into a
// typed event stream: 180-day window before the meeting, LLM arbiter
// over the candidates, meeting pinned first as a reference event,
// remainder sorted by timestamp descending.
func (s *Synthesizer) buildTimeline(ctx context.Context, in *Input, out *Output) []models.TimelineEvent {
	candidates := collectCandidates(in)
	if len(candidates) == 0 {
		return []models.TimelineEvent{referenceEvent(in.Meeting)}
	}

	selected := s.arbitrate(ctx, in, out, candidates)

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Date.After(selected[j].Date)
	})
	if len(selected) > maxTimelineEvents-1 {
		selected = selected[:maxTimelineEvents-1]
	}
	return append([]models.TimelineEvent{referenceEvent(in.Meeting)}, selected...)
}

func referenceEvent(meeting *models.Meeting) models.TimelineEvent {
	return models.TimelineEvent{
		Type: eventTypeReference,
		Date: meeting.Start,
		Name: meeting.Title,
		ID:   meeting.ID,
	}
}

// collectCandidates types and windows the raw material, newest first,
// capped at maxTimelineEvents before arbitration.
func collectCandidates(in *Input) []models.TimelineEvent {
	cutoff := in.Meeting.Start.Add(-timelineLookback)
	inWindow := func(t time.Time) bool {
		return !t.IsZero() && !t.Before(cutoff) && !t.After(in.Meeting.Start)
	}

	var events []models.TimelineEvent
	for _, e := range in.Emails {
		t := e.Time()
		if !inWindow(t) {
			continue
		}
		events = append(events, models.TimelineEvent{
			Type:         eventTypeEmail,
			Date:         t,
			Name:         e.Subject,
			Participants: e.Participants(),
			Snippet:      snippet(e.Body),
			ID:           e.ID,
		})
	}
	for _, d := range in.Documents {
		if !inWindow(d.ModifiedTime) {
			continue
		}
		events = append(events, models.TimelineEvent{
			Type:         eventTypeDocument,
			Date:         d.ModifiedTime,
			Name:         d.Name,
			Participants: nonEmptyList(d.OwnerEmail),
			ID:           d.ID,
		})
	}
	for _, m := range in.History {
		if !inWindow(m.Start) || m.ID == in.Meeting.ID {
			continue
		}
		events = append(events, models.TimelineEvent{
			Type:         eventTypeMeeting,
			Date:         m.Start,
			Name:         m.Title,
			Participants: attendeeEmails(m.Attendees),
			ID:           m.ID,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.After(events[j].Date)
	})
	if len(events) > maxTimelineEvents {
		events = events[:maxTimelineEvents]
	}
	return events
}

// arbitrate asks the LLM which candidate IDs matter. Any failure keeps
// the full candidate list.
func (s *Synthesizer) arbitrate(ctx context.Context, in *Input, out *Output, candidates []models.TimelineEvent) []models.TimelineEvent {
	var sb strings.Builder
	for _, ev := range candidates {
		fmt.Fprintf(&sb, "- id=%s [%s] %s: %s\n",
			ev.ID, ev.Type, ev.Date.Format("2006-01-02"), ev.Name)
	}

	raw, err := s.llm.Complete(ctx, llm.Request{
		Prompt:    fmt.Sprintf(arbiterPrompt, in.Meeting.Title, orNone(in.Purpose.Purpose), sb.String()),
		MaxTokens: 2000,
	})
	if err != nil {
		out.warn("timeline arbiter", err)
		return candidates
	}
	var ids []string
	if err := llm.ParseJSON(raw, &ids); err != nil || len(ids) == 0 {
		out.warn("timeline arbiter", llm.ErrParseFailure)
		return candidates
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	var kept []models.TimelineEvent
	for _, ev := range candidates {
		if _, ok := wanted[ev.ID]; ok {
			kept = append(kept, ev)
		}
	}
	if len(kept) == 0 {
		// Arbiter returned only unknown IDs; keep everything.
		return candidates
	}
	return kept
}

// Trend thresholds. The window splits at its midpoint; the recent
// half's event rate against the older half's decides the label.
const (
	trendMinEvents = 5
	trendMinSpan   = 7 * 24 * time.Hour
	trendUpRatio   = 1.25
	trendDownRatio = 0.75
)

// classifyTrend labels activity velocity across the timeline as
// increasing, stable, decreasing, or insufficient. The pinned reference
// event is excluded.
func classifyTrend(timeline []models.TimelineEvent) string {
	var dates []time.Time
	for _, ev := range timeline {
		if ev.Type == eventTypeReference {
			continue
		}
		dates = append(dates, ev.Date)
	}
	if len(dates) < trendMinEvents {
		return "insufficient"
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	span := dates[len(dates)-1].Sub(dates[0])
	if span < trendMinSpan {
		return "insufficient"
	}

	mid := dates[0].Add(span / 2)
	var older, recent float64
	for _, d := range dates {
		if d.Before(mid) {
			older++
		} else {
			recent++
		}
	}
	if older == 0 {
		return "increasing"
	}
	ratio := recent / older
	switch {
	case ratio >= trendUpRatio:
		return "increasing"
	case ratio <= trendDownRatio:
		return "decreasing"
	default:
		return "stable"
	}
}

func snippet(body string) string {
	body = strings.TrimSpace(body)
	if len(body) <= snippetLen {
		return body
	}
	return body[:snippetLen]
}

func nonEmptyList(items ...string) []string {
	var out []string
	for _, s := range items {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func attendeeEmails(attendees []models.Attendee) []string {
	out := make([]string, 0, len(attendees))
	for _, a := range attendees {
		if a.Email != "" {
			out = append(out, strings.ToLower(a.Email))
		}
	}
	return out
}
