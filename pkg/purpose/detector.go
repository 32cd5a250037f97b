// Package purpose detects why a meeting is happening. Two hypothesis
// stages run concurrently over the calendar entry and the harvested
// mail corpus; an arbiter stage then combines them, labeling the source
// and upgrading confidence when both agree.
package purpose

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/briefly-ai/briefly/pkg/llm"
	"github.com/briefly-ai/briefly/pkg/models"
)

// maxContextEmails caps how many overlap-surviving messages feed the
// email hypothesis.
const maxContextEmails = 5

const calendarPrompt = `Infer the purpose of this meeting from its calendar entry alone.

Title: %s
Description: %s
Attendees: %s

Respond with only a JSON object:
{"purpose": "one or two sentences, empty string if unclear",
 "agenda": ["only items explicitly present in the entry"],
 "confidence": "low|medium|high"}

Never invent agenda items that are not in the text.`

const emailPrompt = `These emails involve the attendees of an upcoming meeting titled %q.
Extract the meeting's purpose and agenda ONLY where the emails state them explicitly.

%s

Respond with only a JSON object:
{"purpose": "explicitly stated purpose, empty string if none",
 "agenda": ["explicitly stated agenda items"],
 "confidence": "low|medium|high"}`

const aggregatePrompt = `Two hypotheses about a meeting's purpose:

From the calendar entry:
%s

From attendee emails:
%s

Combine them. Prefer the more specific and higher-confidence hypothesis;
merge agendas without duplication. Respond with only a JSON object:
{"purpose": "...", "agenda": [...], "confidence": "low|medium|high",
 "source": "calendar|email|combined|llm"}`

// Detector runs the three-stage purpose pipeline.
type Detector struct {
	llm    llm.Client
	logger *slog.Logger
}

// NewDetector creates a purpose detector.
func NewDetector(client llm.Client, logger *slog.Logger) *Detector {
	return &Detector{
		llm:    client,
		logger: logger.With("component", "purpose_detector"),
	}
}

// Detect produces the final purpose hypothesis. It never fails: with
// nothing usable it returns the uncertain result.
func (d *Detector) Detect(ctx context.Context, meeting *models.Meeting, emails []models.EmailArtifact) models.PurposeResult {
	var calResult, mailResult *models.PurposeResult

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		calResult = d.calendarInfer(egCtx, meeting)
		return nil
	})
	eg.Go(func() error {
		mailResult = d.emailFindContext(egCtx, meeting, emails)
		return nil
	})
	_ = eg.Wait()

	return d.finalAggregate(ctx, calResult, mailResult)
}

// calendarInfer builds a hypothesis from the calendar entry alone.
func (d *Detector) calendarInfer(ctx context.Context, meeting *models.Meeting) *models.PurposeResult {
	names := make([]string, 0, len(meeting.Attendees))
	for _, a := range meeting.HumanAttendees() {
		if a.DisplayName != "" {
			names = append(names, a.DisplayName)
		} else {
			names = append(names, a.Email)
		}
	}

	prompt := fmt.Sprintf(calendarPrompt, meeting.Title, meeting.Description, strings.Join(names, ", "))
	raw, err := d.llm.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: 600})
	if err != nil {
		d.logger.Warn("calendar purpose stage failed", "error", err)
		return nil
	}
	var result models.PurposeResult
	if err := llm.ParseJSON(raw, &result); err != nil {
		d.logger.Warn("calendar purpose output unparseable", "error", err)
		return nil
	}
	result.Source = models.PurposeSourceCalendar
	return &result
}

// emailFindContext ranks overlap-surviving emails by overlap ratio then
// recency and asks the LLM for explicitly stated purpose and agenda.
func (d *Detector) emailFindContext(ctx context.Context, meeting *models.Meeting, emails []models.EmailArtifact) *models.PurposeResult {
	ranked := rankByOverlap(meeting, emails)
	if len(ranked) == 0 {
		return nil
	}
	if len(ranked) > maxContextEmails {
		ranked = ranked[:maxContextEmails]
	}

	var sb strings.Builder
	refs := make([]string, 0, len(ranked))
	for i, e := range ranked {
		refs = append(refs, e.ID)
		fmt.Fprintf(&sb, "--- Email %d ---\nSubject: %s\nFrom: %s\nDate: %s\n%s\n\n",
			i+1, e.Subject, e.From, e.Date, models.TrimForSynthesis(e.Body))
	}

	prompt := fmt.Sprintf(emailPrompt, meeting.Title, sb.String())
	raw, err := d.llm.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: 600})
	if err != nil {
		d.logger.Warn("email purpose stage failed", "error", err)
		return nil
	}
	var result models.PurposeResult
	if err := llm.ParseJSON(raw, &result); err != nil {
		d.logger.Warn("email purpose output unparseable", "error", err)
		return nil
	}
	result.Source = models.PurposeSourceEmail
	result.ContextEmailRefs = refs
	return &result
}

// finalAggregate combines the two hypotheses via an arbiter call. Both
// agreeing upgrades confidence one step; both empty yields uncertain.
func (d *Detector) finalAggregate(ctx context.Context, cal, mail *models.PurposeResult) models.PurposeResult {
	switch {
	case cal.Empty() && mail.Empty():
		return models.PurposeResult{
			Confidence: models.ConfidenceLow,
			Source:     models.PurposeSourceUncertain,
		}
	case mail.Empty():
		return *cal
	case cal.Empty():
		return *mail
	}

	prompt := fmt.Sprintf(aggregatePrompt, describe(cal), describe(mail))
	raw, err := d.llm.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: 600})
	if err != nil {
		d.logger.Warn("purpose aggregation failed, keeping calendar hypothesis", "error", err)
		return *cal
	}
	var result models.PurposeResult
	if err := llm.ParseJSON(raw, &result); err != nil {
		d.logger.Warn("purpose aggregation output unparseable", "error", err)
		return *cal
	}
	if result.Source == "" {
		result.Source = models.PurposeSourceCombined
	}
	result.ContextEmailRefs = mail.ContextEmailRefs
	if agree(cal, mail) {
		result.Confidence = result.Confidence.Upgrade()
	}
	return result
}

// agree reports loose agreement between the two hypotheses: one purpose
// containing a significant token of the other.
func agree(a, b *models.PurposeResult) bool {
	pa := strings.ToLower(a.Purpose)
	pb := strings.ToLower(b.Purpose)
	if pa == "" || pb == "" {
		return false
	}
	for _, tok := range strings.Fields(pa) {
		if len(tok) >= 5 && strings.Contains(pb, tok) {
			return true
		}
	}
	return false
}

func describe(p *models.PurposeResult) string {
	return fmt.Sprintf("purpose: %s\nagenda: %s\nconfidence: %s",
		p.Purpose, strings.Join(p.Agenda, "; "), p.Confidence)
}

// rankByOverlap applies the attendee-overlap rule and sorts survivors
// by overlap ratio then recency.
func rankByOverlap(meeting *models.Meeting, emails []models.EmailArtifact) []models.EmailArtifact {
	attendees := meeting.AttendeeEmails()
	threshold := models.OverlapThreshold(len(meeting.HumanAttendees()))

	type scored struct {
		email   models.EmailArtifact
		overlap float64
	}
	var survivors []scored
	for _, e := range emails {
		ov := e.AttendeeOverlap(attendees)
		if ov >= threshold {
			survivors = append(survivors, scored{email: e, overlap: ov})
		}
	}
	sort.SliceStable(survivors, func(i, j int) bool {
		if survivors[i].overlap != survivors[j].overlap {
			return survivors[i].overlap > survivors[j].overlap
		}
		return survivors[i].email.Time().After(survivors[j].email.Time())
	})
	out := make([]models.EmailArtifact, 0, len(survivors))
	for _, s := range survivors {
		out = append(out, s.email)
	}
	return out
}
