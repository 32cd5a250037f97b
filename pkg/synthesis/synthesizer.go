// Package synthesis turns the filtered corpus, attendee profiles, and
// purpose hypothesis into the narrative sections of a brief. Stages run
// sequentially because each consumes the previous; any stage may fail
// and the brief continues with that section degraded.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/briefly-ai/briefly/pkg/llm"
	"github.com/briefly-ai/briefly/pkg/models"
)

// Stage names reported through the progress callback, in execution
// order.
const (
	StageRelationships   = "analyzing_relationships"
	StageContributions   = "analyzing_contributions"
	StageNarrative       = "synthesizing_narrative"
	StageTimeline        = "building_timeline"
	StageRecommendations = "generating_recommendations"
	StageActionItems     = "generating_action_items"
	StageSummary         = "generating_summary"
)

const maxSampledEmails = 10

// Input carries everything the synthesis stages consume.
type Input struct {
	Meeting        *models.Meeting
	User           *models.User
	Purpose        models.PurposeResult
	Profiles       []models.AttendeeProfile
	Emails         []models.EmailArtifact // relevant, ranked
	EmailNarrative string
	Context        models.ExtractedContext
	Documents      []models.DocumentArtifact
	DocInsights    []models.DocumentInsight
	History        []models.CalendarArtifact
}

// Output holds the synthesized sections. Zero-valued sections mean the
// stage degraded; Warnings records why.
type Output struct {
	RelationshipAnalysis string
	ContributionAnalysis string
	BroaderNarrative     string
	Timeline             []models.TimelineEvent
	Trend                string
	Recommendations      []string
	ActionItems          []string
	Summary              string
	Warnings             []string
}

// Synthesizer runs the brief's narrative stages.
type Synthesizer struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewSynthesizer(client llm.Client, logger *slog.Logger) *Synthesizer {
	if client == nil {
		panic("synthesis: llm client is required")
	}
	return &Synthesizer{llm: client, logger: logger.With("component", "synthesizer")}
}

// Synthesize executes all stages in order. The progress callback fires
// at each stage boundary; pass nil to skip reporting. Synthesize never
// returns an error: failed stages leave their section empty and record
// a warning.
func (s *Synthesizer) Synthesize(ctx context.Context, in *Input, progress func(stage string)) *Output {
	out := &Output{}
	step := func(stage string) {
		if progress != nil {
			progress(stage)
		}
	}

	step(StageRelationships)
	out.RelationshipAnalysis = s.analyzeRelationships(ctx, in, out)

	step(StageContributions)
	out.ContributionAnalysis = s.analyzeContributions(ctx, in, out)

	step(StageNarrative)
	out.BroaderNarrative = s.broaderNarrative(ctx, in, out)

	step(StageTimeline)
	out.Timeline = s.buildTimeline(ctx, in, out)
	out.Trend = classifyTrend(out.Timeline)

	step(StageRecommendations)
	out.Recommendations = s.recommend(ctx, in, out)

	step(StageActionItems)
	out.ActionItems = s.actionItems(ctx, in, out)

	step(StageSummary)
	out.Summary = s.executiveSummary(ctx, in, out)

	return out
}

func (o *Output) warn(stage string, err error) {
	o.Warnings = append(o.Warnings, fmt.Sprintf("%s degraded: %v", stage, err))
}

// addressee returns how the prompts refer to the user.
func addressee(user *models.User) string {
	if user != nil && user.Name != "" {
		return fmt.Sprintf("%s <%s>", user.Name, user.Email)
	}
	if user != nil {
		return user.Email
	}
	return "the user"
}

const relationshipPrompt = `You are preparing %s for the meeting "%s".
Purpose: %s

Attendees and interaction history:
%s
Sampled recent correspondence:
%s
Write 8-12 sentences analyzing the working relationships in this group:
who works closely with whom, who the user interacts with most, and any
relationship dynamics visible in the correspondence. Address the user in
second person. Respond with prose only, no preamble.`

func (s *Synthesizer) analyzeRelationships(ctx context.Context, in *Input, out *Output) string {
	text, err := s.llm.Complete(ctx, llm.Request{
		Prompt: fmt.Sprintf(relationshipPrompt,
			addressee(in.User), in.Meeting.Title, orNone(in.Purpose.Purpose),
			profileBlock(in.Profiles), emailSampleBlock(in.Emails)),
		MaxTokens: 1500,
	})
	if err != nil {
		s.logger.Warn("relationship analysis failed", "meeting", in.Meeting.ID, "error", err)
		out.warn("relationship analysis", err)
		return ""
	}
	return strings.TrimSpace(text)
}

const contributionGridPrompt = `Based on this correspondence and these attendee profiles, produce a
contribution grid for the meeting "%s": what each attendee is likely to
bring or be responsible for.

Attendees:
%s
Correspondence highlights:
%s
Respond with only a JSON array:
[{"attendee": "<name>", "contributions": ["<item>", ...]}]`

const contributionNarrativePrompt = `Convert this contribution grid into a short narrative (5-8 sentences)
for %s preparing for "%s". Address the user in second person; call out
where their own contribution is expected.

%s

Respond with prose only.`

type contributionRow struct {
	Attendee      string   `json:"attendee"`
	Contributions []string `json:"contributions"`
}

// analyzeContributions builds the who-contributes-what grid, then
// converts it to prose. A failed conversion falls back to a
// deterministic rendering of the grid.
func (s *Synthesizer) analyzeContributions(ctx context.Context, in *Input, out *Output) string {
	raw, err := s.llm.Complete(ctx, llm.Request{
		Prompt: fmt.Sprintf(contributionGridPrompt,
			in.Meeting.Title, profileBlock(in.Profiles), contextHighlights(&in.Context)),
		MaxTokens: 1200,
	})
	if err != nil {
		out.warn("contribution analysis", err)
		return ""
	}
	var grid []contributionRow
	if err := llm.ParseJSON(raw, &grid); err != nil || len(grid) == 0 {
		out.warn("contribution analysis", llm.ErrParseFailure)
		return ""
	}

	text, err := s.llm.Complete(ctx, llm.Request{
		Prompt: fmt.Sprintf(contributionNarrativePrompt,
			addressee(in.User), in.Meeting.Title, renderGrid(grid)),
		MaxTokens: 1000,
	})
	if err != nil {
		s.logger.Warn("contribution narrative failed, using grid rendering",
			"meeting", in.Meeting.ID, "error", err)
		return renderGrid(grid)
	}
	return strings.TrimSpace(text)
}

func renderGrid(grid []contributionRow) string {
	var sb strings.Builder
	for _, row := range grid {
		fmt.Fprintf(&sb, "%s: %s\n", row.Attendee, strings.Join(row.Contributions, "; "))
	}
	return strings.TrimSpace(sb.String())
}

const narrativePrompt = `Weave these analyses into a single story of how the meeting "%s" came
to be and where things stand going into it. Write 10-15 sentences for
%s, in second person.

Email activity:
%s

Document activity:
%s

Working relationships:
%s

Respond with prose only.`

func (s *Synthesizer) broaderNarrative(ctx context.Context, in *Input, out *Output) string {
	text, err := s.llm.Complete(ctx, llm.Request{
		Prompt: fmt.Sprintf(narrativePrompt,
			in.Meeting.Title, addressee(in.User),
			orNone(in.EmailNarrative), insightBlock(in.DocInsights),
			orNone(out.RelationshipAnalysis)),
		MaxTokens: 2000,
	})
	if err != nil {
		out.warn("broader narrative", err)
		return ""
	}
	return strings.TrimSpace(text)
}

const recommendPrompt = `You are advising %s before the meeting "%s".
Purpose: %s

Narrative:
%s

Known blockers: %s
Open decisions: %s

Produce 3-5 strategic recommendations, each 25-70 words and referencing
specific context above. Respond with only a JSON array of strings.`

func (s *Synthesizer) recommend(ctx context.Context, in *Input, out *Output) []string {
	raw, err := s.llm.Complete(ctx, llm.Request{
		Prompt: fmt.Sprintf(recommendPrompt,
			addressee(in.User), in.Meeting.Title, orNone(in.Purpose.Purpose),
			orNone(out.BroaderNarrative),
			joinOrNone(in.Context.Blockers), joinOrNone(in.Context.Decisions)),
		MaxTokens: 1200,
	})
	if err != nil {
		out.warn("recommendations", err)
		return nil
	}
	var items []string
	if err := llm.ParseJSON(raw, &items); err != nil {
		out.warn("recommendations", err)
		return nil
	}
	return clampItems(items, 5)
}

const actionItemsPrompt = `List concrete preparation steps %s should take before "%s".

Narrative:
%s

Outstanding action items from email: %s

Produce 3-7 steps, each 15-50 words, ordered by priority. Respond with
only a JSON array of strings.`

func (s *Synthesizer) actionItems(ctx context.Context, in *Input, out *Output) []string {
	raw, err := s.llm.Complete(ctx, llm.Request{
		Prompt: fmt.Sprintf(actionItemsPrompt,
			addressee(in.User), in.Meeting.Title,
			orNone(out.BroaderNarrative), joinOrNone(in.Context.ActionItems)),
		MaxTokens: 1200,
	})
	if err != nil {
		out.warn("action items", err)
		return nil
	}
	var items []string
	if err := llm.ParseJSON(raw, &items); err != nil {
		out.warn("action items", err)
		return nil
	}
	return clampItems(items, 7)
}

// purposeData is the structured meta-analysis the executive summary is
// written from.
type purposeData struct {
	CorePurpose     string   `json:"corePurpose"`
	WhyNow          string   `json:"whyNow"`
	KeyQuestions    []string `json:"keyQuestions"`
	Narrative       string   `json:"narrative"`
	Stakes          string   `json:"stakes"`
	KeyPlayers      []string `json:"keyPlayers"`
	CriticalContext string   `json:"criticalContext"`
}

const purposeDataPrompt = `Analyze everything known about the meeting "%s" and produce a
structured purpose assessment.

Detected purpose: %s
Narrative:
%s
Relationships:
%s

Respond with only a JSON object:
{"corePurpose": "...", "whyNow": "...", "keyQuestions": ["..."],
 "narrative": "...", "stakes": "...", "keyPlayers": ["..."],
 "criticalContext": "..."}`

const summaryPrompt = `Write the executive summary for %s going into "%s": 4-5 sentences, in
second person, covering what the meeting is for, why now, what is at
stake, and the one thing to focus on.

Purpose assessment:
%s

Recommendations: %s

Respond with prose only.`

// executiveSummary is the two-step meta-analysis: a structured
// purpose-data object first, then the final paragraph written from it
// plus everything already synthesized.
func (s *Synthesizer) executiveSummary(ctx context.Context, in *Input, out *Output) string {
	var pd purposeData
	raw, err := s.llm.Complete(ctx, llm.Request{
		Prompt: fmt.Sprintf(purposeDataPrompt,
			in.Meeting.Title, orNone(in.Purpose.Purpose),
			orNone(out.BroaderNarrative), orNone(out.RelationshipAnalysis)),
		MaxTokens: 1500,
	})
	if err != nil {
		out.warn("purpose assessment", err)
	} else if perr := llm.ParseJSON(raw, &pd); perr != nil {
		out.warn("purpose assessment", perr)
	}

	pdBlock := renderPurposeData(&pd)
	text, err := s.llm.Complete(ctx, llm.Request{
		Prompt: fmt.Sprintf(summaryPrompt,
			addressee(in.User), in.Meeting.Title, pdBlock,
			joinOrNone(out.Recommendations)),
		MaxTokens: 800,
	})
	if err != nil {
		out.warn("executive summary", err)
		if pd.CorePurpose != "" {
			return pd.CorePurpose
		}
		return in.Purpose.Purpose
	}
	return strings.TrimSpace(text)
}

func renderPurposeData(pd *purposeData) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Core purpose: %s\n", orNone(pd.CorePurpose))
	fmt.Fprintf(&sb, "Why now: %s\n", orNone(pd.WhyNow))
	fmt.Fprintf(&sb, "Key questions: %s\n", joinOrNone(pd.KeyQuestions))
	fmt.Fprintf(&sb, "Stakes: %s\n", orNone(pd.Stakes))
	fmt.Fprintf(&sb, "Key players: %s\n", joinOrNone(pd.KeyPlayers))
	fmt.Fprintf(&sb, "Critical context: %s", orNone(pd.CriticalContext))
	return sb.String()
}

func profileBlock(profiles []models.AttendeeProfile) string {
	if len(profiles) == 0 {
		return "(no attendee research available)\n"
	}
	var sb strings.Builder
	for _, p := range profiles {
		fmt.Fprintf(&sb, "- %s <%s>", p.Name, p.Email)
		if p.Company != "" {
			fmt.Fprintf(&sb, " (%s)", p.Company)
		}
		fmt.Fprintf(&sb, ", %d recent emails\n", p.EmailCount)
		for _, f := range p.Facts {
			fmt.Fprintf(&sb, "  * %s\n", f)
		}
	}
	return sb.String()
}

func emailSampleBlock(emails []models.EmailArtifact) string {
	if len(emails) == 0 {
		return "(no relevant emails)\n"
	}
	var sb strings.Builder
	for i, e := range emails {
		if i == maxSampledEmails {
			break
		}
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", e.Date, e.From, e.Subject)
	}
	return sb.String()
}

func insightBlock(insights []models.DocumentInsight) string {
	if len(insights) == 0 {
		return "(no documents analyzed)"
	}
	var sb strings.Builder
	for _, d := range insights {
		fmt.Fprintf(&sb, "- %s: %s\n", d.Name, strings.Join(d.Insights, "; "))
	}
	return strings.TrimSpace(sb.String())
}

func contextHighlights(c *models.ExtractedContext) string {
	var sb strings.Builder
	writeSection := func(label string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&sb, "%s: %s\n", label, strings.Join(items, "; "))
	}
	writeSection("Progress", c.ProjectProgress)
	writeSection("Decisions", c.Decisions)
	writeSection("Action items", c.ActionItems)
	writeSection("Blockers", c.Blockers)
	writeSection("Topics", c.Topics)
	if sb.Len() == 0 {
		return "(no extracted context)\n"
	}
	return sb.String()
}

func clampItems(items []string, max int) []string {
	kept := items[:0]
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			kept = append(kept, strings.TrimSpace(it))
		}
	}
	if len(kept) > max {
		kept = kept[:max]
	}
	return kept
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, "; ")
}
