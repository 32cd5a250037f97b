package relevance

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/briefly-ai/briefly/pkg/models"
)

// ThreadMeta is the conversation-level context attached to each email
// before extraction.
type ThreadMeta struct {
	MessageCount int
	Participants []string
	FirstDate    time.Time
	LastDate     time.Time
}

var replyPrefix = regexp.MustCompile(`(?i)^\s*((re|fwd?|aw)\s*:\s*)+`)

// normalizeSubject strips reply/forward prefixes and collapses
// whitespace for thread grouping.
func normalizeSubject(subject string) string {
	s := replyPrefix.ReplaceAllString(subject, "")
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// threadKey groups messages by normalized subject plus sorted
// participant set.
func threadKey(e *models.EmailArtifact) string {
	parts := e.Participants()
	sort.Strings(parts)
	return normalizeSubject(e.Subject) + "|" + strings.Join(parts, ",")
}

// groupThreads computes per-thread metadata for the given emails.
func groupThreads(emails []models.EmailArtifact) map[string]*ThreadMeta {
	threads := make(map[string]*ThreadMeta)
	for i := range emails {
		key := threadKey(&emails[i])
		meta, ok := threads[key]
		if !ok {
			meta = &ThreadMeta{Participants: emails[i].Participants()}
			threads[key] = meta
		}
		meta.MessageCount++
		ts := emails[i].Time()
		if ts.IsZero() {
			continue
		}
		if meta.FirstDate.IsZero() || ts.Before(meta.FirstDate) {
			meta.FirstDate = ts
		}
		if ts.After(meta.LastDate) {
			meta.LastDate = ts
		}
	}
	return threads
}

// dedupeStrings removes entries whose 0.8-length prefix is contained in
// an earlier entry (or vice versa), keeping first occurrences.
func dedupeStrings(items []string) []string {
	var kept []string
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		dup := false
		for _, prev := range kept {
			if prefixContained(trimmed, prev) || prefixContained(prev, trimmed) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, trimmed)
		}
	}
	return kept
}

// prefixContained reports whether the first 80% of a appears in b.
func prefixContained(a, b string) bool {
	la := strings.ToLower(a)
	lb := strings.ToLower(b)
	n := int(float64(len(la)) * 0.8)
	if n == 0 {
		return false
	}
	return strings.Contains(lb, la[:n])
}

// dedupeContext applies the prefix dedupe to every array of the merged
// extraction struct.
func dedupeContext(c *models.ExtractedContext) {
	c.WorkingRelationships = dedupeStrings(c.WorkingRelationships)
	c.ProjectProgress = dedupeStrings(c.ProjectProgress)
	c.Blockers = dedupeStrings(c.Blockers)
	c.Decisions = dedupeStrings(c.Decisions)
	c.ActionItems = dedupeStrings(c.ActionItems)
	c.Topics = dedupeStrings(c.Topics)
	c.KeyContext = dedupeStrings(c.KeyContext)
	c.Attachments = dedupeStrings(c.Attachments)
	c.Sentiment = dedupeStrings(c.Sentiment)
}
