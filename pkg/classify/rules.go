package classify

import (
	"regexp"
	"strings"

	"github.com/briefly-ai/briefly/pkg/models"
)

var (
	conferenceWords = []string{"conference", "summit", "webinar", "all hands", "all-hands", "town hall", "keynote", "expo"}
	reminderWords   = []string{"reminder", "pay ", "renew", "pick up", "pickup", "submit", "file ", "deadline", "dentist", "doctor"}
	leisureWords    = []string{"lunch", "dinner", "drinks", "coffee", "birthday", "party", "gym", "yoga", "golf", "happy hour"}
	travelWords     = []string{"flight", "fly to", "train to", "drive to", "airport", "hotel", "check-in", "check in at", "departure"}
	businessWords   = []string{"client", "partner", "candidate", "investor", "prospect", "vendor"}
	speakerPattern  = regexp.MustCompile(`(?i)\b(speaker|panelist|presenter|host)\b`)
	personMention   = regexp.MustCompile(`(?i)\b(call|meet|talk to|catch up with|1:1 with|sync with)\s+[A-Z][a-z]+`)
)

// classifyRules is the deterministic cascade used when the LLM result
// is unusable. Rules fire in order; the first match wins.
func classifyRules(meeting *models.Meeting, user *models.User) models.Classification {
	title := strings.ToLower(meeting.Title)
	text := title + " " + strings.ToLower(meeting.Description)
	humans := meeting.HumanAttendees()
	others := meeting.OtherAttendees(user)

	userIsSpeaker := false
	for _, a := range humans {
		if user.OwnsEmail(a.Email) && speakerPattern.MatchString(a.DisplayName) {
			userIsSpeaker = true
		}
	}

	// 1. Conference-scale events where the user merely attends.
	if len(humans) > 20 && !meeting.UserIsOrganizer(user) && !userIsSpeaker && containsAny(text, conferenceWords) {
		return models.Classification{
			Type: models.EventTypePublicEvent, Confidence: models.ConfidenceHigh,
			ShouldPrep: false, PrepDepth: models.PrepDepthMinimal,
			Reason: "large public event where the user is an attendee",
		}
	}

	// 2. Solo reminders; a personal mention turns them into meetings.
	if len(others) == 0 && len(humans) <= 1 && containsAny(text, reminderWords) {
		if personMention.MatchString(meeting.Title + " " + meeting.Description) {
			return models.Classification{
				Type: models.EventTypeMeeting, Confidence: models.ConfidenceMedium,
				ShouldPrep: true, PrepDepth: models.PrepDepthFull,
				Reason: "reminder that names a person to talk to",
			}
		}
		return models.Classification{
			Type: models.EventTypePersonalReminder, Confidence: models.ConfidenceHigh,
			ShouldPrep: false, PrepDepth: models.PrepDepthNone,
			Reason: "personal reminder with no other participants",
		}
	}

	// 3. Leisure without business context.
	if containsAny(text, leisureWords) && !containsAny(text, businessWords) {
		return models.Classification{
			Type: models.EventTypeLeisure, Confidence: models.ConfidenceMedium,
			ShouldPrep: false, PrepDepth: models.PrepDepthMinimal,
			Reason: "leisure event without business context",
		}
	}

	// 4. Travel logistics.
	if containsAny(text, travelWords) {
		return models.Classification{
			Type: models.EventTypeTravel, Confidence: models.ConfidenceMedium,
			ShouldPrep: false, PrepDepth: models.PrepDepthMinimal,
			Reason: "travel logistics event",
		}
	}

	// 5. Organizer or speaker runs full prep regardless of size.
	if meeting.UserIsOrganizer(user) || userIsSpeaker {
		return models.Classification{
			Type: models.EventTypeMeeting, Confidence: models.ConfidenceHigh,
			ShouldPrep: true, PrepDepth: models.PrepDepthFull,
			Reason: "user organizes or speaks at this event",
		}
	}

	// 6. Multi-party events, including 1-on-1s.
	if len(humans) >= 2 || len(others) == 1 {
		return models.Classification{
			Type: models.EventTypeMeeting, Confidence: models.ConfidenceHigh,
			ShouldPrep: true, PrepDepth: models.PrepDepthFull,
			Reason: "meeting with other participants",
		}
	}

	// 7. Fallback.
	return models.Classification{
		Type: models.EventTypeMeeting, Confidence: models.ConfidenceLow,
		ShouldPrep: true, PrepDepth: models.PrepDepthFull,
		Reason: "no rule matched; defaulting to full prep",
	}
}
