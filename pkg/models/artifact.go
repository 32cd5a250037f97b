package models

import (
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Harvest caps. Batch sizes are prompt-tuned knobs (see config); these
// are hard corpus bounds.
const (
	// EmailLookback is the maximum age of emails/documents relative to
	// the meeting start.
	EmailLookback = 730 * 24 * time.Hour
	// CalendarLookback is the maximum age of calendar history relative
	// to the meeting start.
	CalendarLookback = 180 * 24 * time.Hour
	// BodyTruncateBytes is the harvest-time body/content cap.
	BodyTruncateBytes = 50 * 1024
	// TruncationMarker is appended to truncated bodies.
	TruncationMarker = "\n[... truncated ...]"
)

// EmailArtifact is an immutable harvested email message.
type EmailArtifact struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	From        string   `json:"from"`
	To          []string `json:"to"`
	CC          []string `json:"cc,omitempty"`
	BCC         []string `json:"bcc,omitempty"`
	Date        string   `json:"date"`
	Body        string   `json:"body"`
	Snippet     string   `json:"snippet,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// Time parses the Date header, accepting RFC 2822 and ISO forms.
// Returns the zero time when unparseable.
func (e *EmailArtifact) Time() time.Time {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, e.Date); err == nil {
			return t
		}
	}
	if t, err := mail.ParseDate(e.Date); err == nil {
		return t
	}
	return time.Time{}
}

// Participants returns the lower-cased address set across From/To/CC.
func (e *EmailArtifact) Participants() []string {
	seen := make(map[string]struct{})
	add := func(raw string) {
		for _, addr := range extractAddresses(raw) {
			seen[addr] = struct{}{}
		}
	}
	add(e.From)
	for _, t := range e.To {
		add(t)
	}
	for _, c := range e.CC {
		add(c)
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// AttendeeOverlap returns the fraction of meeting attendees that appear
// in the email's participant set. Attendees owned by the user are still
// counted; a zero-attendee meeting yields 1.0 (the filter is bypassed).
func (e *EmailArtifact) AttendeeOverlap(attendeeEmails []string) float64 {
	if len(attendeeEmails) == 0 {
		return 1.0
	}
	participants := make(map[string]struct{})
	for _, p := range e.Participants() {
		participants[p] = struct{}{}
	}
	matched := 0
	for _, a := range attendeeEmails {
		if _, ok := participants[strings.ToLower(a)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(attendeeEmails))
}

// OverlapThreshold is the hard inclusion bar for the attendee-overlap
// rule: full overlap for small meetings, 75% for five or more
// attendees.
func OverlapThreshold(attendeeCount int) float64 {
	if attendeeCount <= 4 {
		return 1.0
	}
	return 0.75
}

var addrPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// extractAddresses pulls bare lower-cased addresses out of a header
// value such as `"Alice Smith" <alice@acme.test>, bob@acme.test`.
func extractAddresses(header string) []string {
	matches := addrPattern.FindAllString(header, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.ToLower(m))
	}
	return out
}

// DocumentArtifact is a harvested drive file. Content is populated only
// for text-exportable mime types and truncated to BodyTruncateBytes.
type DocumentArtifact struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modified_time"`
	Owner        string    `json:"owner"`
	OwnerEmail   string    `json:"owner_email"`
	URL          string    `json:"url"`
	Content      string    `json:"content,omitempty"`
}

// CalendarArtifact is a past event from the lookback window, used for
// relationship history and the timeline.
type CalendarArtifact struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Attendees []Attendee `json:"attendees,omitempty"`
	Organizer string     `json:"organizer,omitempty"`
}

// AccountFetchStatus summarizes one account's contribution to a
// harvest fan-out.
type AccountFetchStatus struct {
	AccountEmail string `json:"account_email"`
	OK           bool   `json:"ok"`
	Count        int    `json:"count"`
	Error        string `json:"error,omitempty"`
	Revoked      bool   `json:"revoked,omitempty"`
}

// TruncateBody caps s at BodyTruncateBytes, appending TruncationMarker
// when anything was dropped.
func TruncateBody(s string) string {
	if len(s) <= BodyTruncateBytes {
		return s
	}
	return s[:BodyTruncateBytes] + TruncationMarker
}

// TrimForSynthesis keeps the first 6000 and last 2000 bytes of
// oversized email bodies, the shape the synthesis prompts expect.
func TrimForSynthesis(s string) string {
	const head, tail = 6000, 2000
	if len(s) <= head+tail {
		return s
	}
	return s[:head] + TruncationMarker + s[len(s)-tail:]
}
