package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Attendee is a meeting participant. May be a resource calendar
// (discarded by the researcher) or a human.
type Attendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"displayName,omitempty"`
	ResponseStatus string `json:"responseStatus,omitempty"`
	Organizer      bool   `json:"organizer,omitempty"`
	Self           bool   `json:"self,omitempty"`
}

// IsResource reports whether this attendee is a resource calendar
// (rooms, equipment) rather than a person.
func (a Attendee) IsResource() bool {
	return strings.HasSuffix(strings.ToLower(a.Email), "@resource.calendar.google.com")
}

// Domain returns the address domain, lower-cased, or "" when the
// address has no @.
func (a Attendee) Domain() string {
	_, domain, ok := strings.Cut(a.Email, "@")
	if !ok {
		return ""
	}
	return strings.ToLower(domain)
}

// Meeting is an external calendar event. Provider fields are preserved
// as-is in Raw; the pipeline only augments the record with a
// classification tag and a timezone label, never mutating provider data.
type Meeting struct {
	ID          string     `json:"id"`
	Title       string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       time.Time  `json:"-"`
	End         time.Time  `json:"-"`
	Organizer   Attendee   `json:"organizer,omitempty"`
	Attendees   []Attendee `json:"attendees,omitempty"`

	// Raw preserves the unmodified provider payload.
	Raw json.RawMessage `json:"-"`

	// AllDay marks date-only events with no specific start time.
	AllDay bool `json:"-"`

	// Augmentations (never written back to the provider).
	Timezone string `json:"_timezone,omitempty"`
}

// HumanAttendees returns attendees with resource calendars removed.
func (m *Meeting) HumanAttendees() []Attendee {
	out := make([]Attendee, 0, len(m.Attendees))
	for _, a := range m.Attendees {
		if !a.IsResource() {
			out = append(out, a)
		}
	}
	return out
}

// OtherAttendees returns human attendees that are not the user.
func (m *Meeting) OtherAttendees(user *User) []Attendee {
	out := make([]Attendee, 0, len(m.Attendees))
	for _, a := range m.HumanAttendees() {
		if !user.OwnsEmail(a.Email) {
			out = append(out, a)
		}
	}
	return out
}

// AttendeeEmails returns the lower-cased set of attendee addresses.
func (m *Meeting) AttendeeEmails() []string {
	out := make([]string, 0, len(m.Attendees))
	for _, a := range m.Attendees {
		if a.Email != "" {
			out = append(out, strings.ToLower(a.Email))
		}
	}
	return out
}

// UserIsOrganizer reports whether the user organizes the meeting.
func (m *Meeting) UserIsOrganizer(user *User) bool {
	return user.OwnsEmail(m.Organizer.Email)
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
