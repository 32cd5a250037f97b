package models

import "time"

// OneLinerMaxLen caps the prose summary derived from a Brief.
const OneLinerMaxLen = 150

// AttendeeProfile is the researcher's output for one attendee.
type AttendeeProfile struct {
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Company     string   `json:"company,omitempty"`
	Facts       []string `json:"facts"`
	EmailCount  int      `json:"email_count"`
	DataSources string   `json:"data_sources"` // local+web, local, web, basic
}

// ExtractedContext is the fixed-schema object the email extraction pass
// emits. Arrays are concatenated across batches then de-duplicated.
type ExtractedContext struct {
	WorkingRelationships []string `json:"workingRelationships"`
	ProjectProgress      []string `json:"projectProgress"`
	Blockers             []string `json:"blockers"`
	Decisions            []string `json:"decisions"`
	ActionItems          []string `json:"actionItems"`
	Topics               []string `json:"topics"`
	KeyContext           []string `json:"keyContext"`
	Attachments          []string `json:"attachments"`
	Sentiment            []string `json:"sentiment"`
}

// Merge appends other's arrays onto c's.
func (c *ExtractedContext) Merge(other *ExtractedContext) {
	if other == nil {
		return
	}
	c.WorkingRelationships = append(c.WorkingRelationships, other.WorkingRelationships...)
	c.ProjectProgress = append(c.ProjectProgress, other.ProjectProgress...)
	c.Blockers = append(c.Blockers, other.Blockers...)
	c.Decisions = append(c.Decisions, other.Decisions...)
	c.ActionItems = append(c.ActionItems, other.ActionItems...)
	c.Topics = append(c.Topics, other.Topics...)
	c.KeyContext = append(c.KeyContext, other.KeyContext...)
	c.Attachments = append(c.Attachments, other.Attachments...)
	c.Sentiment = append(c.Sentiment, other.Sentiment...)
}

// DocumentInsight is one analyzed document with its extracted insights.
type DocumentInsight struct {
	DocumentID string   `json:"document_id"`
	Name       string   `json:"name"`
	Insights   []string `json:"insights"`
	Stale      bool     `json:"stale,omitempty"`
}

// StalenessWarning flags temporal references older than the meeting in
// a document. Warning only — never an exclusion signal.
type StalenessWarning struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	Reference  string `json:"reference"`
	Severity   string `json:"severity"` // low, high
}

// TimelineEvent is one entry in the brief's typed event stream.
type TimelineEvent struct {
	Type         string    `json:"type"` // email, document, meeting, reference
	Date         time.Time `json:"date"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants,omitempty"`
	Snippet      string    `json:"snippet,omitempty"`
	ID           string    `json:"id"`
}

// ExtractionData preserves per-artifact relevance reasoning and
// degraded-stage warnings for UI inspection.
type ExtractionData struct {
	EmailReasoning    map[string]string  `json:"emailReasoning,omitempty"`
	DocumentReasoning map[string]string  `json:"documentReasoning,omitempty"`
	DocumentStaleness []StalenessWarning `json:"documentStaleness,omitempty"`
	Warnings          []string           `json:"warnings,omitempty"`
}

// Warn records a degraded-stage warning.
func (d *ExtractionData) Warn(msg string) {
	d.Warnings = append(d.Warnings, msg)
}

// BriefStats summarizes the corpus a brief was built from.
type BriefStats struct {
	EmailsFetched     int    `json:"emails_fetched"`
	EmailsRelevant    int    `json:"emails_relevant"`
	DocumentsFetched  int    `json:"documents_fetched"`
	DocumentsAnalyzed int    `json:"documents_analyzed"`
	CalendarEvents    int    `json:"calendar_events"`
	AccountsUsed      int    `json:"accounts_used"`
	AccountsFailed    int    `json:"accounts_failed"`
	DurationMs        int64  `json:"duration_ms"`
	Trend             string `json:"trend,omitempty"` // increasing, stable, decreasing, insufficient
}

// Brief is the produced meeting-preparation artifact, persisted as JSON
// and upserted by (user_id, meeting_id).
type Brief struct {
	MeetingID string    `json:"meeting_id"`
	UserID    string    `json:"user_id"`
	Generated time.Time `json:"generated_at"`

	Summary              string            `json:"summary"`
	Purpose              string            `json:"purpose,omitempty"`
	Agenda               []string          `json:"agenda,omitempty"`
	Attendees            []AttendeeProfile `json:"attendees,omitempty"`
	EmailAnalysis        string            `json:"email_analysis,omitempty"`
	DocumentAnalysis     string            `json:"document_analysis,omitempty"`
	DocumentInsights     []DocumentInsight `json:"document_insights,omitempty"`
	RelationshipAnalysis string            `json:"relationship_analysis,omitempty"`
	ContributionAnalysis string            `json:"contribution_analysis,omitempty"`
	BroaderNarrative     string            `json:"broader_narrative,omitempty"`
	Timeline             []TimelineEvent   `json:"timeline,omitempty"`
	Recommendations      []string          `json:"recommendations,omitempty"`
	ActionItems          []string          `json:"action_items,omitempty"`
	Stats                BriefStats        `json:"stats"`
	ExtractionData       *ExtractionData   `json:"_extraction_data,omitempty"`

	// Minimal-brief fields for non-meeting classifications.
	Classification *Classification `json:"classification,omitempty"`
	PrepDepth      PrepDepth       `json:"prep_depth,omitempty"`
}

// OneLiner derives the capped prose summary from the brief.
func (b *Brief) OneLiner() string {
	s := b.Summary
	if s == "" {
		s = b.Purpose
	}
	if len(s) <= OneLinerMaxLen {
		return s
	}
	cut := s[:OneLinerMaxLen-1]
	if i := lastSpace(cut); i > OneLinerMaxLen/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			return i
		}
	}
	return -1
}

// DayPrep is the narrated aggregate across all briefs for one date.
type DayPrep struct {
	Date         string           `json:"date"` // YYYY-MM-DD
	UserID       string           `json:"user_id"`
	Narrative    string           `json:"narrative"`
	Sections     DayPrepSections  `json:"sections"`
	Overlaps     DayPrepOverlaps  `json:"overlaps"`
	Conflicts    []string         `json:"conflicts,omitempty"`
	Themes       []DayPrepTheme   `json:"themes,omitempty"`
	Dependencies []DayPrepDepLink `json:"dependencies,omitempty"`
	Generated    time.Time        `json:"generated_at"`
}

// DayPrepSections are the five spoken-brief blocks, extracted by marker
// substring; missing markers degrade to empty sections.
type DayPrepSections struct {
	Orientation  string `json:"orientation"`
	Morning      string `json:"morning"`
	Midday       string `json:"midday"`
	Afternoon    string `json:"afternoon"`
	WinCondition string `json:"win_condition"`
}

// DayPrepOverlaps holds per-person and per-topic frequency tables
// across the day's briefs.
type DayPrepOverlaps struct {
	People map[string]int `json:"people,omitempty"`
	Topics map[string]int `json:"topics,omitempty"`
}

// DayPrepTheme is an LLM-identified thread connecting >=2 meetings.
type DayPrepTheme struct {
	Theme        string   `json:"theme"`
	Meetings     []string `json:"meetings"`
	Significance string   `json:"significance"`
}

// DayPrepDepLink is an LLM-suggested sequencing between two meetings.
type DayPrepDepLink struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
	Kind   string `json:"kind"` // decision, information, approval, preparation
}
