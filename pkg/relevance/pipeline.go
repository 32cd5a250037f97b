// Package relevance runs the staged filter-and-extract pipeline over
// the harvested corpus: batched LLM relevance filtering, fixed-schema
// context extraction, document insight analysis, and the narrative
// synthesis that feeds the brief. A failed batch drops its artifacts
// and records a warning; the pipeline never aborts on one batch.
package relevance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/briefly-ai/briefly/pkg/config"
	"github.com/briefly-ai/briefly/pkg/llm"
	"github.com/briefly-ai/briefly/pkg/models"
)

// synthesisBudgetTokens is the estimated serialized-context size above
// which the narrative prompt is told to prioritize recency and
// specificity. Roughly 32 KiB of JSON at four bytes per token.
const synthesisBudgetTokens = 8 * 1024

// MeetingContext is the filter's framing of the meeting under prep.
type MeetingContext struct {
	Title       string
	Purpose     models.PurposeResult
	UserCompany string
}

// EmailFilterResult is the outcome of the two email passes.
type EmailFilterResult struct {
	Relevant  []models.EmailArtifact
	Reasoning map[string]string
	Context   models.ExtractedContext
	Warnings  []string
}

// Pipeline executes the relevance stages.
type Pipeline struct {
	llm    llm.Client
	cfg    *config.PipelineConfig
	logger *slog.Logger
}

// NewPipeline creates the relevance pipeline.
func NewPipeline(client llm.Client, cfg *config.PipelineConfig, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		llm:    client,
		cfg:    cfg,
		logger: logger.With("component", "relevance"),
	}
}

// filterResponse is the per-batch filter output.
type filterResponse struct {
	RelevantIndices []int             `json:"relevant_indices"`
	Reasoning       map[string]string `json:"reasoning"`
}

const emailFilterPrompt = `You are filtering emails for relevance to an upcoming meeting.

Meeting: %s
Understood purpose: %s (confidence: %s)
The user works at: %s — treat routine internal noise (newsletters, automated notices) as irrelevant.

%s

Emails (indexed from 0):
%s

Respond with only a JSON object:
{"relevant_indices": [..], "reasoning": {"0": "why", ...}}
Reasoning entries only for relevant indices.`

// strictnessHint returns inclusion-target guidance modulated by the
// purpose confidence. Targets, not hard ratios.
func strictnessHint(confidence models.Confidence, isEmail bool) string {
	var lo, hi int
	switch confidence {
	case models.ConfidenceHigh:
		lo, hi = 60, 80
	case models.ConfidenceMedium:
		lo, hi = 50, 70
	default:
		lo, hi = 30, 50
	}
	if !isEmail {
		lo -= 10
		hi -= 10
	}
	return fmt.Sprintf("Aim to keep roughly %d-%d%% of the items; this is a target, not a quota.", lo, hi)
}

// FilterEmails screens the corpus against the meeting's attendee list,
// then runs the batched relevance pass and ranks survivors by temporal
// score. Failed batches are excluded with a warning.
func (p *Pipeline) FilterEmails(ctx context.Context, mc MeetingContext, meeting *models.Meeting, emails []models.EmailArtifact) EmailFilterResult {
	result := EmailFilterResult{Reasoning: make(map[string]string)}
	emails = screenByOverlap(meeting, emails)
	if len(emails) == 0 {
		return result
	}

	batches := batch(emails, p.cfg.EmailFilterBatch)
	kept := make([][]models.EmailArtifact, len(batches))
	reasonings := make([]map[string]string, len(batches))
	var warnMu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	for bi, b := range batches {
		eg.Go(func() error {
			keptBatch, reasoning, err := p.filterEmailBatch(egCtx, mc, b)
			if err != nil {
				warnMu.Lock()
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("email filter batch %d dropped: %v", bi, err))
				warnMu.Unlock()
				p.logger.Warn("email filter batch failed", "batch", bi, "error", err)
				return nil
			}
			kept[bi] = keptBatch
			reasonings[bi] = reasoning
			return nil
		})
	}
	_ = eg.Wait()

	for bi := range batches {
		result.Relevant = append(result.Relevant, kept[bi]...)
		for id, why := range reasonings[bi] {
			result.Reasoning[id] = why
		}
	}
	result.Relevant = rankEmails(result.Relevant, meeting.Start)
	return result
}

func (p *Pipeline) filterEmailBatch(ctx context.Context, mc MeetingContext, batch []models.EmailArtifact) ([]models.EmailArtifact, map[string]string, error) {
	var sb strings.Builder
	for i, e := range batch {
		fmt.Fprintf(&sb, "[%d] Subject: %s | From: %s | Date: %s | Snippet: %s\n",
			i, e.Subject, e.From, e.Date, firstN(e.Snippet, 200))
	}

	prompt := fmt.Sprintf(emailFilterPrompt, mc.Title, mc.Purpose.Purpose,
		mc.Purpose.Confidence, orUnknown(mc.UserCompany),
		strictnessHint(mc.Purpose.Confidence, true), sb.String())

	raw, err := p.llm.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: 1500})
	if err != nil {
		return nil, nil, err
	}
	var resp filterResponse
	if err := llm.ParseJSON(raw, &resp); err != nil {
		return nil, nil, err
	}

	var kept []models.EmailArtifact
	reasoning := make(map[string]string)
	for _, idx := range resp.RelevantIndices {
		if idx < 0 || idx >= len(batch) {
			continue
		}
		kept = append(kept, batch[idx])
		if why, ok := resp.Reasoning[strconv.Itoa(idx)]; ok {
			reasoning[batch[idx].ID] = why
		}
	}
	return kept, reasoning, nil
}

const extractionPrompt = `Extract meeting-relevant context from these emails. The meeting: %s (%s)

%s

Respond with only a JSON object with exactly these keys, each an array of strings
(empty arrays where nothing applies):
{"workingRelationships": [], "projectProgress": [], "blockers": [], "decisions": [],
 "actionItems": [], "topics": [], "keyContext": [], "attachments": [], "sentiment": []}
Every entry must be grounded in the email text.`

// ExtractContext runs the batched extraction pass over relevant emails,
// merging and deduplicating the fixed-schema arrays.
func (p *Pipeline) ExtractContext(ctx context.Context, mc MeetingContext, emails []models.EmailArtifact) (models.ExtractedContext, []string) {
	var merged models.ExtractedContext
	if len(emails) == 0 {
		return merged, nil
	}

	threads := groupThreads(emails)
	batches := batch(emails, p.cfg.ExtractionBatch)
	extracted := make([]*models.ExtractedContext, len(batches))
	var warnings []string
	var warnMu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	for bi, b := range batches {
		eg.Go(func() error {
			ec, err := p.extractBatch(egCtx, mc, b, threads)
			if err != nil {
				warnMu.Lock()
				warnings = append(warnings,
					fmt.Sprintf("extraction batch %d dropped: %v", bi, err))
				warnMu.Unlock()
				p.logger.Warn("extraction batch failed", "batch", bi, "error", err)
				return nil
			}
			extracted[bi] = ec
			return nil
		})
	}
	_ = eg.Wait()

	for _, ec := range extracted {
		merged.Merge(ec)
	}
	dedupeContext(&merged)
	return merged, warnings
}

func (p *Pipeline) extractBatch(ctx context.Context, mc MeetingContext, batch []models.EmailArtifact, threads map[string]*ThreadMeta) (*models.ExtractedContext, error) {
	var sb strings.Builder
	for i := range batch {
		e := &batch[i]
		meta := threads[threadKey(e)]
		fmt.Fprintf(&sb, "--- Email %d ---\nSubject: %s\nFrom: %s\nTo: %s\nDate: %s\n",
			i, e.Subject, e.From, strings.Join(e.To, ", "), e.Date)
		if meta != nil && meta.MessageCount > 1 {
			fmt.Fprintf(&sb, "Thread: %d messages, %d participants, %s to %s\n",
				meta.MessageCount, len(meta.Participants),
				meta.FirstDate.Format("2006-01-02"), meta.LastDate.Format("2006-01-02"))
		}
		fmt.Fprintf(&sb, "%s\n\n", models.TrimForSynthesis(e.Body))
	}

	prompt := fmt.Sprintf(extractionPrompt, mc.Title, mc.Purpose.Purpose, sb.String())
	raw, err := p.llm.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: 2000})
	if err != nil {
		return nil, err
	}
	var ec models.ExtractedContext
	if err := llm.ParseJSON(raw, &ec); err != nil {
		return nil, err
	}
	return &ec, nil
}

const narrativePrompt = `Write an 8-12 sentence narrative of the email activity leading into this meeting,
addressed to %s in the second person. Ground every claim in the extracted data below;
do not speculate.%s

Meeting: %s
Extracted context:
%s`

const overBudgetNote = `
The context below is large; prioritize the most recent and most specific items.`

// SynthesizeNarrative turns the deduplicated context into the email
// analysis paragraph. On failure it returns a terse fallback.
func (p *Pipeline) SynthesizeNarrative(ctx context.Context, mc MeetingContext, userName string, ec *models.ExtractedContext) string {
	serialized, err := json.MarshalIndent(ec, "", "  ")
	if err != nil {
		serialized = []byte("{}")
	}
	if emptyContext(ec) {
		return "No relevant email activity was found for this meeting."
	}

	note := ""
	if tokens := llm.EstimateTokens(string(serialized)); tokens > synthesisBudgetTokens {
		note = overBudgetNote
		p.logger.Debug("extraction context over synthesis budget",
			"tokens", tokens, "bytes", len(serialized))
	}

	prompt := fmt.Sprintf(narrativePrompt, orUnknown(userName), note, mc.Title, serialized)
	raw, err := p.llm.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: 1200})
	if err != nil {
		p.logger.Warn("narrative synthesis failed", "error", err)
		return fallbackNarrative(ec)
	}
	return strings.TrimSpace(raw)
}

// fallbackNarrative is the terse degradation when synthesis fails.
func fallbackNarrative(ec *models.ExtractedContext) string {
	parts := []string{"Email analysis is unavailable."}
	if len(ec.Topics) > 0 {
		parts = append(parts, "Recent topics: "+strings.Join(firstK(ec.Topics, 5), "; ")+".")
	}
	if len(ec.ActionItems) > 0 {
		parts = append(parts, fmt.Sprintf("%d open action items were mentioned.", len(ec.ActionItems)))
	}
	return strings.Join(parts, " ")
}

func emptyContext(ec *models.ExtractedContext) bool {
	return ec == nil || (len(ec.WorkingRelationships)+len(ec.ProjectProgress)+
		len(ec.Blockers)+len(ec.Decisions)+len(ec.ActionItems)+
		len(ec.Topics)+len(ec.KeyContext)+len(ec.Attachments)+len(ec.Sentiment)) == 0
}

// batch splits items into slices of at most size elements.
func batch[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstK(items []string, k int) []string {
	if len(items) <= k {
		return items
	}
	return items[:k]
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
