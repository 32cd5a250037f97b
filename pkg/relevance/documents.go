package relevance

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/briefly-ai/briefly/pkg/llm"
	"github.com/briefly-ai/briefly/pkg/models"
)

// DocumentFilterResult is the outcome of the document passes.
type DocumentFilterResult struct {
	Relevant  []models.DocumentArtifact
	Reasoning map[string]string
	Insights  []models.DocumentInsight
	Staleness []models.StalenessWarning
	Warnings  []string
}

const docFilterPrompt = `You are filtering documents for relevance to an upcoming meeting.

Meeting: %s
Understood purpose: %s (confidence: %s)

%s

Documents (indexed from 0, metadata only):
%s

Respond with only a JSON object:
{"relevant_indices": [..], "reasoning": {"0": "why", ...}}`

// FilterDocuments runs the metadata-only relevance pass and keeps the
// most relevant documents up to the analysis cap, recency as tiebreak.
func (p *Pipeline) FilterDocuments(ctx context.Context, mc MeetingContext, docs []models.DocumentArtifact) DocumentFilterResult {
	result := DocumentFilterResult{Reasoning: make(map[string]string)}
	if len(docs) == 0 {
		return result
	}

	batches := batch(docs, p.cfg.DocFilterBatch)
	kept := make([][]models.DocumentArtifact, len(batches))
	reasonings := make([]map[string]string, len(batches))
	var warnMu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	for bi, b := range batches {
		eg.Go(func() error {
			keptBatch, reasoning, err := p.filterDocBatch(egCtx, mc, b)
			if err != nil {
				warnMu.Lock()
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("document filter batch %d dropped: %v", bi, err))
				warnMu.Unlock()
				p.logger.Warn("document filter batch failed", "batch", bi, "error", err)
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

	sort.SliceStable(result.Relevant, func(i, j int) bool {
		return result.Relevant[i].ModifiedTime.After(result.Relevant[j].ModifiedTime)
	})
	if len(result.Relevant) > p.cfg.MaxAnalyzedDocs {
		result.Relevant = result.Relevant[:p.cfg.MaxAnalyzedDocs]
	}
	return result
}

func (p *Pipeline) filterDocBatch(ctx context.Context, mc MeetingContext, batch []models.DocumentArtifact) ([]models.DocumentArtifact, map[string]string, error) {
	var sb strings.Builder
	for i, d := range batch {
		fmt.Fprintf(&sb, "[%d] %s | type: %s | modified: %s | owner: %s\n",
			i, d.Name, d.MimeType, d.ModifiedTime.Format("2006-01-02"), d.Owner)
	}

	prompt := fmt.Sprintf(docFilterPrompt, mc.Title, mc.Purpose.Purpose,
		mc.Purpose.Confidence, strictnessHint(mc.Purpose.Confidence, false), sb.String())
	raw, err := p.llm.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: 1500})
	if err != nil {
		return nil, nil, err
	}
	var resp filterResponse
	if err := llm.ParseJSON(raw, &resp); err != nil {
		return nil, nil, err
	}

	var kept []models.DocumentArtifact
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

const docInsightPrompt = `Extract 3-10 insights from this document that matter for the meeting %q.
Each insight must be 20-80 words and grounded in the document content.%s

Document: %s (modified %s)
%s

Respond with only a JSON array of strings.`

const staleNote = `
Note: the document contains temporal references older than the meeting; weigh its claims accordingly.`

// AnalyzeDocuments extracts per-document insights in parallel batches
// and computes staleness warnings against the meeting date.
func (p *Pipeline) AnalyzeDocuments(ctx context.Context, mc MeetingContext, meeting *models.Meeting, docs []models.DocumentArtifact) ([]models.DocumentInsight, []models.StalenessWarning, []string) {
	var insights []models.DocumentInsight
	var staleness []models.StalenessWarning
	var warnings []string
	if len(docs) == 0 {
		return insights, staleness, warnings
	}

	for _, d := range docs {
		if w, stale := detectStaleness(&d, meeting.Start); stale {
			staleness = append(staleness, w)
		}
	}
	staleIDs := make(map[string]bool, len(staleness))
	for _, w := range staleness {
		staleIDs[w.DocumentID] = true
	}

	perDoc := make([]*models.DocumentInsight, len(docs))
	var warnMu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.DocAnalysisBatch)
	for i, d := range docs {
		eg.Go(func() error {
			ins, err := p.analyzeDocument(egCtx, mc, &d, staleIDs[d.ID])
			if err != nil {
				warnMu.Lock()
				warnings = append(warnings,
					fmt.Sprintf("document analysis for %q dropped: %v", d.Name, err))
				warnMu.Unlock()
				p.logger.Warn("document analysis failed", "doc", d.ID, "error", err)
				return nil
			}
			perDoc[i] = ins
			return nil
		})
	}
	_ = eg.Wait()

	for _, ins := range perDoc {
		if ins != nil {
			insights = append(insights, *ins)
		}
	}
	return insights, staleness, warnings
}

func (p *Pipeline) analyzeDocument(ctx context.Context, mc MeetingContext, doc *models.DocumentArtifact, stale bool) (*models.DocumentInsight, error) {
	content := doc.Content
	if content == "" {
		content = "(content unavailable; metadata only)"
	}
	note := ""
	if stale {
		note = staleNote
	}
	prompt := fmt.Sprintf(docInsightPrompt, mc.Title, note, doc.Name,
		doc.ModifiedTime.Format("2006-01-02"), models.TrimForSynthesis(content))

	raw, err := p.llm.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: 1200})
	if err != nil {
		return nil, err
	}
	var lines []string
	if err := llm.ParseJSON(raw, &lines); err != nil {
		return nil, err
	}
	return &models.DocumentInsight{
		DocumentID: doc.ID,
		Name:       doc.Name,
		Insights:   lines,
		Stale:      stale,
	}, nil
}

var (
	yearRef     = regexp.MustCompile(`\b(20\d{2})\b`)
	quarterRef  = regexp.MustCompile(`(?i)\bq([1-4])\s*(20\d{2})\b`)
	relativeRef = regexp.MustCompile(`(?i)\b(last\s+(week|month|quarter|year)|a\s+(week|month|year)\s+ago)\b`)
)

// detectStaleness flags temporal references older than the meeting.
// Year and quarter references more than a year behind are high
// severity; relative-time phrases are low severity.
func detectStaleness(doc *models.DocumentArtifact, meetingStart time.Time) (models.StalenessWarning, bool) {
	text := doc.Name + " " + doc.Content

	if m := quarterRef.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[2])
		if year < meetingStart.Year() {
			return models.StalenessWarning{
				DocumentID: doc.ID, Name: doc.Name,
				Reference: strings.TrimSpace(m[0]), Severity: "high",
			}, true
		}
	}
	for _, m := range yearRef.FindAllStringSubmatch(text, -1) {
		year, _ := strconv.Atoi(m[1])
		if year < meetingStart.Year()-1 {
			return models.StalenessWarning{
				DocumentID: doc.ID, Name: doc.Name,
				Reference: m[1], Severity: "high",
			}, true
		}
	}
	if relativeRef.MatchString(text) && meetingStart.Sub(doc.ModifiedTime) > 60*24*time.Hour {
		return models.StalenessWarning{
			DocumentID: doc.ID, Name: doc.Name,
			Reference: relativeRef.FindString(text), Severity: "low",
		}, true
	}
	return models.StalenessWarning{}, false
}
