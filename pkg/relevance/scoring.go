package relevance

import (
	"math"
	"sort"
	"time"

	"github.com/briefly-ai/briefly/pkg/models"
)

// Temporal scoring constants: recency decays exponentially and blends
// with base relevance for ranking only.
const (
	decayLambda     = 0.015
	relevanceWeight = 0.7
	recencyWeight   = 0.3
)

// screenByOverlap drops emails whose participants do not clear the
// attendee-overlap bar before any of them reach an LLM prompt. Meetings
// without attendees skip the screen entirely.
func screenByOverlap(meeting *models.Meeting, emails []models.EmailArtifact) []models.EmailArtifact {
	attendees := meeting.AttendeeEmails()
	threshold := models.OverlapThreshold(len(meeting.HumanAttendees()))
	kept := make([]models.EmailArtifact, 0, len(emails))
	for _, e := range emails {
		if e.AttendeeOverlap(attendees) >= threshold {
			kept = append(kept, e)
		}
	}
	return kept
}

// temporalScore blends base relevance with exponential recency.
func temporalScore(relevance float64, emailTime, meetingStart time.Time) float64 {
	if emailTime.IsZero() {
		return relevanceWeight * relevance
	}
	daysOld := meetingStart.Sub(emailTime).Hours() / 24
	if daysOld < 0 {
		daysOld = 0
	}
	recency := math.Exp(-decayLambda * daysOld)
	return relevanceWeight*relevance + recencyWeight*recency
}

// rankEmails sorts emails descending by temporal score. Base relevance
// is uniform for filter survivors, so the ordering is recency-shaped
// but keeps the blend for callers that later attach per-email scores.
func rankEmails(emails []models.EmailArtifact, meetingStart time.Time) []models.EmailArtifact {
	type scored struct {
		email models.EmailArtifact
		score float64
	}
	out := make([]scored, 0, len(emails))
	for _, e := range emails {
		out = append(out, scored{email: e, score: temporalScore(1.0, e.Time(), meetingStart)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	ranked := make([]models.EmailArtifact, 0, len(out))
	for _, s := range out {
		ranked = append(ranked, s.email)
	}
	return ranked
}
