package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/briefly-ai/briefly/pkg/llm"
	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/search"
)

const webFactPrompt = `Synthesize 3-6 facts about %s (%s) from these web search results.
Each fact must be rooted in a result; skip anything that looks like a different person.

%s

Respond with only a JSON array of fact strings.`

// webResearch runs the three-query search and synthesizes facts from
// validated results. Any failure degrades to no web facts.
func (r *Researcher) webResearch(ctx context.Context, profile *models.AttendeeProfile) []string {
	_, domain, _ := strings.Cut(profile.Email, "@")
	queries := []string{
		fmt.Sprintf(`"%s" site:linkedin.com %s`, profile.Name, domain),
		fmt.Sprintf(`"%s" %s site:linkedin.com`, profile.Name, profile.Company),
		fmt.Sprintf(`"%s" "%s"`, profile.Name, profile.Email),
	}

	resp, err := r.searcher.Search(ctx, "professional background of "+profile.Name, queries,
		search.Limits{MaxResults: 10, MaxCharsPerResult: 1000})
	if err != nil {
		r.logger.Warn("web research failed", "attendee", profile.Email, "error", err)
		return nil
	}
	if len(resp.Results) == 0 {
		return nil
	}

	validated := validateResults(resp.Results, profile)
	if len(validated) == 0 {
		// No result passed validation; take the top raw hits.
		validated = resp.Results
		if len(validated) > 3 {
			validated = validated[:3]
		}
	}

	var sb strings.Builder
	for i, res := range validated {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n%s\n\n", i+1, res.Title, res.URL, res.Excerpt)
	}

	raw, err := r.llm.Complete(ctx, llm.Request{
		Prompt:    fmt.Sprintf(webFactPrompt, profile.Name, profile.Email, sb.String()),
		MaxTokens: 800,
	})
	if err != nil {
		r.logger.Warn("web fact synthesis failed", "attendee", profile.Email, "error", err)
		return nil
	}
	return parseFactArray(raw)
}

// validateResults keeps results mentioning a name token, the email, or
// the company in title, excerpt, or URL.
func validateResults(results []search.Result, profile *models.AttendeeProfile) []search.Result {
	nameTokens := strings.Fields(strings.ToLower(profile.Name))
	email := strings.ToLower(profile.Email)
	company := strings.ToLower(profile.Company)

	var out []search.Result
	for _, res := range results {
		text := strings.ToLower(res.Title + " " + res.Excerpt + " " + res.URL)
		ok := false
		for _, tok := range nameTokens {
			if len(tok) >= 3 && strings.Contains(text, tok) {
				ok = true
				break
			}
		}
		if !ok && email != "" && strings.Contains(text, email) {
			ok = true
		}
		if !ok && company != "" && strings.Contains(text, company) {
			ok = true
		}
		if ok {
			out = append(out, res)
		}
	}
	return out
}
