package models

// EventType labels a calendar item for prep purposes.
type EventType string

// Event classification values.
const (
	EventTypeMeeting          EventType = "meeting"
	EventTypePublicEvent      EventType = "public_event"
	EventTypePersonalReminder EventType = "personal_reminder"
	EventTypeLeisure          EventType = "leisure"
	EventTypeTravel           EventType = "travel"
	EventTypeUnknown          EventType = "unknown"
)

// PrepDepth is the amount of work a classification authorizes.
type PrepDepth string

// Prep depth values. Only full depth runs the downstream pipeline.
const (
	PrepDepthFull    PrepDepth = "full"
	PrepDepthMinimal PrepDepth = "minimal"
	PrepDepthNone    PrepDepth = "none"
)

// Confidence is a coarse LLM confidence level.
type Confidence string

// Confidence levels, ordered low < medium < high.
const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Upgrade returns the next confidence step (high stays high).
func (c Confidence) Upgrade() Confidence {
	switch c {
	case ConfidenceLow:
		return ConfidenceMedium
	case ConfidenceMedium:
		return ConfidenceHigh
	default:
		return ConfidenceHigh
	}
}

// Classification is the event classifier's output.
type Classification struct {
	Type       EventType  `json:"type"`
	Confidence Confidence `json:"confidence"`
	ShouldPrep bool       `json:"should_prep"`
	PrepDepth  PrepDepth  `json:"prep_depth"`
	Reason     string     `json:"reason"`
}

// PurposeSource labels where the final purpose hypothesis came from.
type PurposeSource string

// Purpose sources.
const (
	PurposeSourceCalendar  PurposeSource = "calendar"
	PurposeSourceEmail     PurposeSource = "email"
	PurposeSourceCombined  PurposeSource = "combined"
	PurposeSourceLLM       PurposeSource = "llm"
	PurposeSourceUncertain PurposeSource = "uncertain"
)

// PurposeResult is the purpose detector's output shape, shared by all
// three stages.
type PurposeResult struct {
	Purpose          string        `json:"purpose"`
	Agenda           []string      `json:"agenda"`
	Confidence       Confidence    `json:"confidence"`
	Source           PurposeSource `json:"source,omitempty"`
	ContextEmailRefs []string      `json:"context_email_refs,omitempty"`
}

// Empty reports whether the stage produced nothing usable.
func (p *PurposeResult) Empty() bool {
	return p == nil || (p.Purpose == "" && len(p.Agenda) == 0)
}
