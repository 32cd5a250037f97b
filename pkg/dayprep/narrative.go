package dayprep

import (
	"context"
	"fmt"
	"strings"

	"github.com/briefly-ai/briefly/pkg/llm"
	"github.com/briefly-ai/briefly/pkg/models"
)

// Section markers the spoken brief is split on. The prompt-generation
// step instructs the narrator to emit them verbatim.
const (
	markerOrientation  = "[ORIENTATION]"
	markerMorning      = "[MORNING]"
	markerMidday       = "[MIDDAY]"
	markerAfternoon    = "[AFTERNOON]"
	markerWinCondition = "[WIN CONDITION]"
)

// orientationTemplate seeds the prompt-generation step. The LLM fills
// the placeholders and expands the template into the actual narration
// prompt, so the day's shape drives the instructions.
const orientationTemplate = `You are a prompt writer. Expand this template into a complete
narration prompt. Fill every {placeholder} from the context below and
keep the section markers exactly as written.

--- TEMPLATE ---
Write a spoken morning briefing of 750-1000 words for {user_name} on
{date}. Address them directly as "you". The briefing will be read aloud
by speech synthesis, so spell out attendee names clearly: {attendee_hints}.
Structure the output with these exact markers, each on its own line:
[ORIENTATION] the day at a glance
[MORNING] meetings before noon
[MIDDAY] meetings around midday
[AFTERNOON] later meetings
[WIN CONDITION] what a successful day looks like
Day context: {meeting_context}
--- END TEMPLATE ---

Context:
Date: %s
User: %s
Meetings:
%s
Cross-meeting notes:
%s

Respond with only the expanded narration prompt.`

// narrate is the two-call final stage: the first call generates the
// narration prompt from the orientation template, the second executes
// it. Either failure leaves the narrative empty.
func (a *Aggregator) narrate(ctx context.Context, user *models.User, date string, briefs []models.Brief, prep *models.DayPrep) string {
	generated, err := a.llm.Complete(ctx, llm.Request{
		Prompt: fmt.Sprintf(orientationTemplate,
			date, userLabel(user), briefDigest(briefs), crossNotes(prep)),
		MaxTokens: 1500,
	})
	if err != nil {
		a.logger.Warn("narration prompt generation failed", "date", date, "error", err)
		return ""
	}

	narrative, err := a.llm.Complete(ctx, llm.Request{
		Prompt:    strings.TrimSpace(generated),
		MaxTokens: 3000,
	})
	if err != nil {
		a.logger.Warn("narration failed", "date", date, "error", err)
		return ""
	}
	return strings.TrimSpace(narrative)
}

func userLabel(user *models.User) string {
	if user.Name != "" {
		return user.Name
	}
	return user.Email
}

func crossNotes(prep *models.DayPrep) string {
	var sb strings.Builder
	if len(prep.Conflicts) > 0 {
		fmt.Fprintf(&sb, "Conflicts: %s\n", strings.Join(prep.Conflicts, "; "))
	}
	for _, th := range prep.Themes {
		fmt.Fprintf(&sb, "Theme: %s (%s)\n", th.Theme, th.Significance)
	}
	for _, dep := range prep.Dependencies {
		fmt.Fprintf(&sb, "Dependency: %s -> %s (%s): %s\n", dep.From, dep.To, dep.Kind, dep.Reason)
	}
	if sb.Len() == 0 {
		return "(none)"
	}
	return strings.TrimSpace(sb.String())
}

var sectionMarkers = []string{
	markerOrientation, markerMorning, markerMidday, markerAfternoon, markerWinCondition,
}

// extractSections splits the narrative on the five markers. A missing
// marker yields an empty section; text before the first marker is
// folded into orientation when the orientation marker itself is absent.
func extractSections(narrative string) models.DayPrepSections {
	parts := make(map[string]string, len(sectionMarkers))
	for _, marker := range sectionMarkers {
		start := strings.Index(narrative, marker)
		if start < 0 {
			continue
		}
		start += len(marker)
		end := len(narrative)
		for _, other := range sectionMarkers {
			if other == marker {
				continue
			}
			if j := strings.Index(narrative[start:], other); j >= 0 && start+j < end {
				end = start + j
			}
		}
		parts[marker] = strings.TrimSpace(narrative[start:end])
	}

	sections := models.DayPrepSections{
		Orientation:  parts[markerOrientation],
		Morning:      parts[markerMorning],
		Midday:       parts[markerMidday],
		Afternoon:    parts[markerAfternoon],
		WinCondition: parts[markerWinCondition],
	}
	if sections.Orientation == "" && narrative != "" {
		if first := firstMarkerIndex(narrative); first > 0 {
			sections.Orientation = strings.TrimSpace(narrative[:first])
		}
	}
	return sections
}

func firstMarkerIndex(narrative string) int {
	first := -1
	for _, marker := range sectionMarkers {
		if i := strings.Index(narrative, marker); i >= 0 && (first < 0 || i < first) {
			first = i
		}
	}
	if first < 0 {
		return len(narrative)
	}
	return first
}
