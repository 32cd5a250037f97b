package harvest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/briefly-ai/briefly/pkg/models"
)

// maxKeywords caps the title keywords folded into the mail query.
const maxKeywords = 5

var wordSplit = regexp.MustCompile(`[^a-z0-9]+`)

// stopWords are tokens too generic to discriminate mail threads.
var stopWords = map[string]struct{}{
	"meeting": {}, "call": {}, "sync": {}, "catch": {}, "chat": {},
	"weekly": {}, "daily": {}, "monthly": {}, "standup": {}, "stand": {},
	"with": {}, "about": {}, "from": {}, "this": {}, "that": {},
	"discussion": {}, "review": {}, "update": {}, "check": {},
	"team": {}, "time": {}, "invite": {}, "event": {}, "calendar": {},
}

// extractKeywords tokenizes the meeting title and description, drops
// stop words and short tokens, and returns at most maxKeywords terms in
// first-seen order.
func extractKeywords(title, description string) []string {
	text := strings.ToLower(title + " " + description)
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range wordSplit.Split(text, -1) {
		if len(tok) < 4 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// buildMailQuery constructs the provider search expression: any attendee
// as sender or recipient, any attendee domain as sender, or a title
// keyword, scoped to [meeting-730d, meeting+1d).
func buildMailQuery(meeting *models.Meeting, user *models.User) string {
	var clauses []string

	domains := make(map[string]struct{})
	for _, a := range meeting.HumanAttendees() {
		if a.Email == "" || user.OwnsEmail(a.Email) {
			continue
		}
		addr := strings.ToLower(a.Email)
		clauses = append(clauses, "from:"+addr, "to:"+addr)
		if d := a.Domain(); d != "" {
			domains[d] = struct{}{}
		}
	}
	sortedDomains := make([]string, 0, len(domains))
	for d := range domains {
		sortedDomains = append(sortedDomains, d)
	}
	sort.Strings(sortedDomains)
	for _, d := range sortedDomains {
		clauses = append(clauses, "from:"+d)
	}

	for _, kw := range extractKeywords(meeting.Title, meeting.Description) {
		clauses = append(clauses, "subject:"+kw, kw)
	}

	query := ""
	if len(clauses) > 0 {
		query = "(" + strings.Join(clauses, " OR ") + ") "
	}
	after := meeting.Start.Add(-models.EmailLookback)
	before := meeting.Start.Add(24 * time.Hour)
	return query + fmt.Sprintf("after:%s before:%s",
		after.Format("2006/01/02"), before.Format("2006/01/02"))
}

// buildDriveQuery constructs the file search: any attendee in readers
// or writers, modified inside the lookback window.
func buildDriveQuery(meeting *models.Meeting, user *models.User) string {
	var clauses []string
	for _, a := range meeting.HumanAttendees() {
		if a.Email == "" || user.OwnsEmail(a.Email) {
			continue
		}
		addr := strings.ToLower(a.Email)
		clauses = append(clauses, fmt.Sprintf("'%s' in readers", addr),
			fmt.Sprintf("'%s' in writers", addr))
	}

	from := meeting.Start.Add(-models.EmailLookback)
	window := fmt.Sprintf("modifiedTime > '%s' and modifiedTime < '%s'",
		from.UTC().Format(time.RFC3339), meeting.Start.UTC().Format(time.RFC3339))
	if len(clauses) == 0 {
		return window
	}
	return "(" + strings.Join(clauses, " or ") + ") and " + window
}
