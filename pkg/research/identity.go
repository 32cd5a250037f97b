package research

import (
	"regexp"
	"strings"

	"github.com/briefly-ai/briefly/pkg/models"
)

// genericProviders are mail domains that carry no company signal.
var genericProviders = map[string]bool{
	"gmail":      true,
	"yahoo":      true,
	"outlook":    true,
	"hotmail":    true,
	"icloud":     true,
	"protonmail": true,
}

var nameFromHeader = regexp.MustCompile(`^\s*"?([^"<]+?)"?\s*<([^>]+)>`)

// resolveName picks the best display name for the attendee: calendar
// display name, then a prior event's display name, then the mail
// headers, then the address local-part.
func resolveName(attendee models.Attendee, history []models.CalendarArtifact, emails []models.EmailArtifact) string {
	if n := strings.TrimSpace(attendee.DisplayName); n != "" {
		return n
	}
	for _, ev := range history {
		for _, a := range ev.Attendees {
			if strings.EqualFold(a.Email, attendee.Email) && strings.TrimSpace(a.DisplayName) != "" {
				return strings.TrimSpace(a.DisplayName)
			}
		}
	}
	if n := nameFromMail(attendee.Email, emails); n != "" {
		return n
	}
	local, _, _ := strings.Cut(attendee.Email, "@")
	return local
}

// nameFromMail extracts "Name <addr>" display names from From/To
// headers of the harvested corpus.
func nameFromMail(email string, emails []models.EmailArtifact) string {
	lower := strings.ToLower(email)
	check := func(header string) string {
		m := nameFromHeader.FindStringSubmatch(header)
		if m == nil {
			return ""
		}
		if strings.ToLower(strings.TrimSpace(m[2])) != lower {
			return ""
		}
		name := strings.TrimSpace(m[1])
		if name == "" || strings.Contains(name, "@") {
			return ""
		}
		return name
	}
	for _, e := range emails {
		if n := check(e.From); n != "" {
			return n
		}
		for _, to := range e.To {
			if n := check(to); n != "" {
				return n
			}
		}
	}
	return ""
}

// inferCompany derives a company name from the address domain. The
// academic TLDs map to "Student"; generic mail providers yield nothing.
func inferCompany(email string) string {
	_, domain, ok := strings.Cut(strings.ToLower(email), "@")
	if !ok {
		return ""
	}
	if strings.HasSuffix(domain, ".edu") || strings.Contains(domain, ".ac.") {
		return "Student"
	}
	base, _, _ := strings.Cut(domain, ".")
	if genericProviders[base] {
		return ""
	}
	if base == "" {
		return ""
	}
	return strings.ToUpper(base[:1]) + base[1:]
}
