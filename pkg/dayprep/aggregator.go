// Package dayprep aggregates one day's briefs into a single spoken
// narrative with cross-meeting analysis. Every LLM scan degrades
// independently; the aggregate is produced even when all scans fail.
package dayprep

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/briefly-ai/briefly/pkg/llm"
	"github.com/briefly-ai/briefly/pkg/models"
)

// Aggregator builds day preps from same-day briefs.
type Aggregator struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewAggregator(client llm.Client, logger *slog.Logger) *Aggregator {
	if client == nil {
		panic("dayprep: llm client is required")
	}
	return &Aggregator{llm: client, logger: logger.With("component", "dayprep")}
}

// Aggregate composes the day prep for an ordered list of same-day
// briefs. date is YYYY-MM-DD in the user's zone.
func (a *Aggregator) Aggregate(ctx context.Context, user *models.User, date string, briefs []models.Brief) *models.DayPrep {
	prep := &models.DayPrep{
		Date:      date,
		UserID:    user.ID,
		Generated: time.Now().UTC(),
	}
	if len(briefs) == 0 {
		return prep
	}

	prep.Overlaps = computeOverlaps(briefs)
	digest := briefDigest(briefs)

	prep.Conflicts = a.scanConflicts(ctx, digest)
	prep.Themes = a.scanThemes(ctx, digest)
	prep.Dependencies = a.scanDependencies(ctx, digest)

	prep.Narrative = a.narrate(ctx, user, date, briefs, prep)
	prep.Sections = extractSections(prep.Narrative)
	return prep
}

// computeOverlaps builds per-person and per-topic frequency tables,
// keeping entries that appear in at least two briefs.
func computeOverlaps(briefs []models.Brief) models.DayPrepOverlaps {
	people := make(map[string]int)
	topics := make(map[string]int)
	for _, b := range briefs {
		seenPeople := make(map[string]struct{})
		for _, att := range b.Attendees {
			key := strings.ToLower(att.Email)
			if key == "" {
				continue
			}
			if _, dup := seenPeople[key]; !dup {
				seenPeople[key] = struct{}{}
				people[key]++
			}
		}
		seenTopics := make(map[string]struct{})
		for _, item := range b.Agenda {
			key := strings.ToLower(strings.TrimSpace(item))
			if key == "" {
				continue
			}
			if _, dup := seenTopics[key]; !dup {
				seenTopics[key] = struct{}{}
				topics[key]++
			}
		}
	}
	return models.DayPrepOverlaps{
		People: atLeast(people, 2),
		Topics: atLeast(topics, 2),
	}
}

func atLeast(table map[string]int, n int) map[string]int {
	out := make(map[string]int)
	for k, v := range table {
		if v >= n {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// briefDigest renders the day's briefs compactly for the LLM scans.
func briefDigest(briefs []models.Brief) string {
	var sb strings.Builder
	for i, b := range briefs {
		fmt.Fprintf(&sb, "--- Meeting %d (id=%s) ---\n", i+1, b.MeetingID)
		fmt.Fprintf(&sb, "Summary: %s\n", b.Summary)
		if b.Purpose != "" {
			fmt.Fprintf(&sb, "Purpose: %s\n", b.Purpose)
		}
		if len(b.Agenda) > 0 {
			fmt.Fprintf(&sb, "Agenda: %s\n", strings.Join(b.Agenda, "; "))
		}
		names := make([]string, 0, len(b.Attendees))
		for _, att := range b.Attendees {
			names = append(names, att.Name)
		}
		if len(names) > 0 {
			fmt.Fprintf(&sb, "Attendees: %s\n", strings.Join(names, ", "))
		}
		if len(b.ActionItems) > 0 {
			fmt.Fprintf(&sb, "Action items: %s\n", strings.Join(b.ActionItems, "; "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

const conflictPrompt = `Scan these same-day meeting briefs for contradictions between
meetings: conflicting status reports, priorities, decisions, timelines,
or resource commitments.

%s

Respond with only a JSON array of conflict descriptions (strings).
Return [] if there are none.`

func (a *Aggregator) scanConflicts(ctx context.Context, digest string) []string {
	raw, err := a.llm.Complete(ctx, llm.Request{
		Prompt:    fmt.Sprintf(conflictPrompt, digest),
		MaxTokens: 1000,
	})
	if err != nil {
		a.logger.Warn("conflict scan failed", "error", err)
		return nil
	}
	var conflicts []string
	if err := llm.ParseJSON(raw, &conflicts); err != nil {
		a.logger.Warn("conflict scan unparseable", "error", err)
		return nil
	}
	return conflicts
}

const themePrompt = `Identify themes connecting two or more of these same-day meetings.

%s

Respond with only a JSON array:
[{"theme": "...", "meetings": ["<meeting id>", ...], "significance": "..."}]
Only include themes spanning at least two meetings. Return [] if none.`

func (a *Aggregator) scanThemes(ctx context.Context, digest string) []models.DayPrepTheme {
	raw, err := a.llm.Complete(ctx, llm.Request{
		Prompt:    fmt.Sprintf(themePrompt, digest),
		MaxTokens: 1200,
	})
	if err != nil {
		a.logger.Warn("theme scan failed", "error", err)
		return nil
	}
	var themes []models.DayPrepTheme
	if err := llm.ParseJSON(raw, &themes); err != nil {
		a.logger.Warn("theme scan unparseable", "error", err)
		return nil
	}
	kept := themes[:0]
	for _, th := range themes {
		if len(th.Meetings) >= 2 {
			kept = append(kept, th)
		}
	}
	return kept
}

const dependencyPrompt = `Suggest sequencing dependencies between these same-day meetings: cases
where one meeting's outcome feeds another. Classify each dependency as
decision, information, approval, or preparation.

%s

Respond with only a JSON array:
[{"from": "<meeting id>", "to": "<meeting id>", "reason": "...", "kind": "decision|information|approval|preparation"}]
Return [] if there are none.`

var validDepKinds = map[string]bool{
	"decision": true, "information": true, "approval": true, "preparation": true,
}

func (a *Aggregator) scanDependencies(ctx context.Context, digest string) []models.DayPrepDepLink {
	raw, err := a.llm.Complete(ctx, llm.Request{
		Prompt:    fmt.Sprintf(dependencyPrompt, digest),
		MaxTokens: 1200,
	})
	if err != nil {
		a.logger.Warn("dependency scan failed", "error", err)
		return nil
	}
	var deps []models.DayPrepDepLink
	if err := llm.ParseJSON(raw, &deps); err != nil {
		a.logger.Warn("dependency scan unparseable", "error", err)
		return nil
	}
	for i := range deps {
		if !validDepKinds[deps[i].Kind] {
			deps[i].Kind = "information"
		}
	}
	return deps
}
