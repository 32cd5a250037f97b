// Package classify decides whether a calendar item is a preparable
// meeting and how much prep it deserves. An LLM call goes first; when
// its output cannot be validated a deterministic rule cascade decides.
// Classification is pure with respect to the event fields and the
// user's email set.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/briefly-ai/briefly/pkg/llm"
	"github.com/briefly-ai/briefly/pkg/models"
)

const classifyPrompt = `You are classifying a calendar event for meeting preparation.

Event:
%s

Normalized features:
- attendee_count: %d
- user_is_organizer: %t
- user_is_attendee: %t
- organizer_email: %s

Classify the event. Respond with only a JSON object:
{"type": "meeting|public_event|personal_reminder|leisure|travel|unknown",
 "confidence": "low|medium|high",
 "should_prep": true|false,
 "prep_depth": "full|minimal|none",
 "reason": "one sentence"}

Rules:
- Large conferences and webinars where the user merely attends are public_event with minimal prep.
- Solo reminders ("pay rent") are personal_reminder with no prep, unless they name a person to talk to.
- Social and leisure items get minimal prep; flights and travel logistics get minimal prep.
- Anything with two or more participants discussing work is a meeting with full prep.`

// Classifier labels events.
type Classifier struct {
	llm    llm.Client
	logger *slog.Logger
}

// NewClassifier creates a classifier over the completion client.
func NewClassifier(client llm.Client, logger *slog.Logger) *Classifier {
	return &Classifier{
		llm:    client,
		logger: logger.With("component", "classifier"),
	}
}

// Classify labels the meeting. The LLM result is validated against the
// enum schema; unparseable or low-confidence-unknown output falls back
// to the rule cascade.
func (c *Classifier) Classify(ctx context.Context, meeting *models.Meeting, user *models.User) models.Classification {
	if result, ok := c.classifyLLM(ctx, meeting, user); ok {
		return result
	}
	return classifyRules(meeting, user)
}

func (c *Classifier) classifyLLM(ctx context.Context, meeting *models.Meeting, user *models.User) (models.Classification, bool) {
	event := meeting.Raw
	if len(event) == 0 {
		encoded, err := json.Marshal(meeting)
		if err != nil {
			return models.Classification{}, false
		}
		event = encoded
	}

	userIsAttendee := false
	for _, a := range meeting.Attendees {
		if user.OwnsEmail(a.Email) {
			userIsAttendee = true
			break
		}
	}

	prompt := fmt.Sprintf(classifyPrompt, string(event),
		len(meeting.HumanAttendees()), meeting.UserIsOrganizer(user),
		userIsAttendee, meeting.Organizer.Email)

	raw, err := c.llm.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: 500})
	if err != nil {
		c.logger.Warn("classification call failed, using rules", "error", err)
		return models.Classification{}, false
	}

	var result models.Classification
	if err := llm.ParseJSON(raw, &result); err != nil {
		c.logger.Warn("classification output unparseable, using rules", "error", err)
		return models.Classification{}, false
	}
	if !validType(result.Type) || !validDepth(result.PrepDepth) {
		return models.Classification{}, false
	}
	if result.Type == models.EventTypeUnknown && result.Confidence == models.ConfidenceLow {
		return models.Classification{}, false
	}
	if result.Confidence == "" {
		result.Confidence = models.ConfidenceMedium
	}
	return result, true
}

func validType(t models.EventType) bool {
	switch t {
	case models.EventTypeMeeting, models.EventTypePublicEvent,
		models.EventTypePersonalReminder, models.EventTypeLeisure,
		models.EventTypeTravel, models.EventTypeUnknown:
		return true
	}
	return false
}

func validDepth(d models.PrepDepth) bool {
	switch d {
	case models.PrepDepthFull, models.PrepDepthMinimal, models.PrepDepthNone:
		return true
	}
	return false
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
