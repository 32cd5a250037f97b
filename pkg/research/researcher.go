// Package research builds per-attendee profiles from the harvested mail
// corpus and, when a search provider is injected, the public web.
// Research never fails a prep run: every degradation path ends in at
// least basic identity facts.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/briefly-ai/briefly/pkg/config"
	"github.com/briefly-ai/briefly/pkg/llm"
	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/search"
)

const (
	// maxEvidenceEmails caps the messages fed to fact extraction.
	maxEvidenceEmails = 20
	// maxFacts caps the assembled profile.
	maxFacts = 6
	// researchConcurrency bounds the per-attendee fan-out.
	researchConcurrency = 4
)

// Researcher profiles meeting attendees.
type Researcher struct {
	llm      llm.Client
	searcher search.Provider
	cfg      *config.PipelineConfig
	logger   *slog.Logger
}

// NewResearcher creates a researcher. A nil searcher disables web
// research; facts degrade to email-derived only.
func NewResearcher(client llm.Client, searcher search.Provider, cfg *config.PipelineConfig, logger *slog.Logger) *Researcher {
	return &Researcher{
		llm:      client,
		searcher: searcher,
		cfg:      cfg,
		logger:   logger.With("component", "researcher"),
	}
}

// Corpus is the harvested material research draws on.
type Corpus struct {
	Emails  []models.EmailArtifact
	History []models.CalendarArtifact
}

// ResearchAll profiles the meeting's attendees concurrently. Resource
// calendars are dropped; beyond the research cap attendees get basic
// identity facts only.
func (r *Researcher) ResearchAll(ctx context.Context, meeting *models.Meeting, user *models.User, corpus *Corpus) []models.AttendeeProfile {
	attendees := meeting.OtherAttendees(user)
	if len(attendees) == 0 {
		return nil
	}

	cap := r.cfg.ResearchAttendeeCap
	if cap <= 0 {
		cap = len(attendees)
	}

	profiles := make([]models.AttendeeProfile, len(attendees))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(researchConcurrency)
	for i, a := range attendees {
		if i >= cap {
			profiles[i] = r.basicProfile(a, corpus)
			continue
		}
		eg.Go(func() error {
			profiles[i] = r.research(egCtx, a, corpus)
			return nil
		})
	}
	_ = eg.Wait()
	return profiles
}

// research builds one attendee's profile through the full chain.
func (r *Researcher) research(ctx context.Context, attendee models.Attendee, corpus *Corpus) models.AttendeeProfile {
	profile := models.AttendeeProfile{
		Email:   attendee.Email,
		Name:    resolveName(attendee, corpus.History, corpus.Emails),
		Company: inferCompany(attendee.Email),
	}

	evidence := collectEvidence(attendee.Email, corpus.Emails)
	profile.EmailCount = len(evidence)

	localFacts := r.extractFacts(ctx, &profile, evidence)
	var webFacts []string
	if r.searcher != nil {
		webFacts = r.webResearch(ctx, &profile)
	}

	profile.Facts = assembleFacts(localFacts, webFacts, &profile)
	profile.DataSources = dataSourceTag(len(localFacts) > 0, len(webFacts) > 0)
	return profile
}

// basicProfile is the O(1) fallback past the research cap.
func (r *Researcher) basicProfile(attendee models.Attendee, corpus *Corpus) models.AttendeeProfile {
	profile := models.AttendeeProfile{
		Email:       attendee.Email,
		Name:        resolveName(attendee, corpus.History, corpus.Emails),
		Company:     inferCompany(attendee.Email),
		DataSources: "basic",
	}
	profile.EmailCount = len(collectEvidence(attendee.Email, corpus.Emails))
	profile.Facts = basicFacts(&profile)
	return profile
}

// collectEvidence gathers corpus messages where the attendee appears in
// From or To, deduped by id, capped at maxEvidenceEmails.
func collectEvidence(email string, emails []models.EmailArtifact) []models.EmailArtifact {
	lower := strings.ToLower(email)
	seen := make(map[string]struct{})
	var out []models.EmailArtifact
	for _, e := range emails {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		if !participantMatch(lower, e.From) && !participantMatchAny(lower, e.To) {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
		if len(out) == maxEvidenceEmails {
			break
		}
	}
	return out
}

func participantMatch(email, header string) bool {
	return strings.Contains(strings.ToLower(header), email)
}

func participantMatchAny(email string, headers []string) bool {
	for _, h := range headers {
		if participantMatch(email, h) {
			return true
		}
	}
	return false
}

const factPrompt = `Extract facts about %s <%s> from these emails they participate in.
Each fact must be 15-80 words and rooted in the email text; no speculation.

%s

Respond with only a JSON array of fact strings.`

// extractFacts runs the evidence through the fact-extraction call. The
// parse accepts string arrays or object arrays with fact/text keys. On
// failure or empty output it synthesizes metadata fallback facts.
func (r *Researcher) extractFacts(ctx context.Context, profile *models.AttendeeProfile, evidence []models.EmailArtifact) []string {
	if len(evidence) == 0 {
		return nil
	}

	var sb strings.Builder
	for i, e := range evidence {
		fmt.Fprintf(&sb, "--- Email %d ---\nSubject: %s\nFrom: %s\nDate: %s\n%s\n\n",
			i+1, e.Subject, e.From, e.Date, models.TrimForSynthesis(e.Body))
	}

	raw, err := r.llm.Complete(ctx, llm.Request{
		Prompt:    fmt.Sprintf(factPrompt, profile.Name, profile.Email, sb.String()),
		MaxTokens: 1200,
	})
	if err != nil {
		r.logger.Warn("fact extraction failed", "attendee", profile.Email, "error", err)
		return fallbackFacts(profile, evidence)
	}
	facts := parseFactArray(raw)
	if len(facts) == 0 {
		return fallbackFacts(profile, evidence)
	}
	return facts
}

// parseFactArray tolerates both ["fact", ...] and
// [{"fact": "..."}, {"text": "..."}] shapes.
func parseFactArray(raw string) []string {
	var plain []string
	if err := llm.ParseJSON(raw, &plain); err == nil {
		return nonEmpty(plain)
	}
	var objects []map[string]json.RawMessage
	if err := llm.ParseJSON(raw, &objects); err != nil {
		return nil
	}
	var out []string
	for _, obj := range objects {
		for _, key := range []string{"fact", "text"} {
			var s string
			if v, ok := obj[key]; ok && json.Unmarshal(v, &s) == nil && s != "" {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func nonEmpty(items []string) []string {
	out := items[:0]
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// fallbackFacts synthesizes up to three facts from metadata alone.
func fallbackFacts(profile *models.AttendeeProfile, evidence []models.EmailArtifact) []string {
	var facts []string
	if profile.Company != "" {
		facts = append(facts, fmt.Sprintf("%s appears to be affiliated with %s based on their email domain.",
			profile.Name, profile.Company))
	}
	if n := len(evidence); n > 0 {
		facts = append(facts, fmt.Sprintf("You have exchanged %d recent emails with %s.", n, profile.Name))
		subjects := make([]string, 0, 3)
		for _, e := range evidence {
			if e.Subject != "" {
				subjects = append(subjects, e.Subject)
			}
			if len(subjects) == 3 {
				break
			}
		}
		if len(subjects) > 0 {
			facts = append(facts, "Recent email topics include: "+strings.Join(subjects, "; ")+".")
		}
	}
	if len(facts) > 3 {
		facts = facts[:3]
	}
	return facts
}

// basicFacts is the minimal identity-only fact set.
func basicFacts(profile *models.AttendeeProfile) []string {
	var facts []string
	if profile.Company != "" {
		facts = append(facts, fmt.Sprintf("%s is affiliated with %s.", profile.Name, profile.Company))
	} else {
		facts = append(facts, fmt.Sprintf("%s can be reached at %s.", profile.Name, profile.Email))
	}
	return facts
}

// assembleFacts merges local and web facts, dedupes, and caps the
// profile; an empty merge degrades to basic identity facts.
func assembleFacts(local, web []string, profile *models.AttendeeProfile) []string {
	combined := append(append([]string{}, local...), web...)
	var kept []string
	for _, f := range combined {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		dup := false
		for _, prev := range kept {
			if strings.EqualFold(prev, f) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, f)
		}
		if len(kept) == maxFacts {
			break
		}
	}
	if len(kept) == 0 {
		return basicFacts(profile)
	}
	return kept
}

func dataSourceTag(hasLocal, hasWeb bool) string {
	switch {
	case hasLocal && hasWeb:
		return "local+web"
	case hasLocal:
		return "local"
	case hasWeb:
		return "web"
	default:
		return "basic"
	}
}
