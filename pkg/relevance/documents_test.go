package relevance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briefly-ai/briefly/pkg/models"
)

func docAt(id string, daysAgo int) models.DocumentArtifact {
	return models.DocumentArtifact{
		ID:           id,
		Name:         "Doc " + id,
		MimeType:     "application/vnd.google-apps.document",
		ModifiedTime: meetingStart.AddDate(0, 0, -daysAgo),
		Content:      "Content of " + id,
	}
}

func TestFilterDocumentsKeepsCapByRecency(t *testing.T) {
	cfg := pipelineConfig()
	cfg.MaxAnalyzedDocs = 2
	stub := &scriptedLLM{respond: func(string) (string, error) {
		return `{"relevant_indices":[0,1,2]}`, nil
	}}
	p := NewPipeline(stub, cfg, testLogger(t))

	docs := []models.DocumentArtifact{docAt("d-old", 30), docAt("d-new", 1), docAt("d-mid", 10)}
	res := p.FilterDocuments(context.Background(), MeetingContext{}, docs)

	require.Len(t, res.Relevant, 2)
	assert.Equal(t, "d-new", res.Relevant[0].ID)
	assert.Equal(t, "d-mid", res.Relevant[1].ID)
}

func TestFilterDocumentsBatchFailure(t *testing.T) {
	stub := &scriptedLLM{respond: func(string) (string, error) {
		return "", errors.New("overloaded")
	}}
	p := NewPipeline(stub, pipelineConfig(), testLogger(t))

	res := p.FilterDocuments(context.Background(), MeetingContext{}, []models.DocumentArtifact{docAt("d1", 1)})
	assert.Empty(t, res.Relevant)
	assert.Len(t, res.Warnings, 1)
}

func TestAnalyzeDocumentsProducesInsights(t *testing.T) {
	stub := &scriptedLLM{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "Doc d1") {
			return `["The roadmap commits Phoenix to a May launch with two workstreams."]`, nil
		}
		return "", errors.New("overloaded")
	}}
	p := NewPipeline(stub, pipelineConfig(), testLogger(t))

	insights, _, warnings := p.AnalyzeDocuments(context.Background(), MeetingContext{Title: "Phoenix kickoff"},
		testMeeting(), []models.DocumentArtifact{docAt("d1", 1), docAt("d2", 2)})

	require.Len(t, insights, 1, "the failing document is dropped, not fatal")
	assert.Equal(t, "d1", insights[0].DocumentID)
	assert.Len(t, warnings, 1)
}

func TestDetectStalenessOldYear(t *testing.T) {
	doc := docAt("d1", 5)
	doc.Content = fmt.Sprintf("Plan drafted in %d for the old initiative", meetingStart.Year()-2)
	w, stale := detectStaleness(&doc, meetingStart)
	require.True(t, stale)
	assert.Equal(t, "high", w.Severity)
	assert.Equal(t, fmt.Sprintf("%d", meetingStart.Year()-2), w.Reference)
}

func TestDetectStalenessOldQuarter(t *testing.T) {
	doc := docAt("d1", 5)
	doc.Content = fmt.Sprintf("Results for Q3 %d", meetingStart.Year()-1)
	w, stale := detectStaleness(&doc, meetingStart)
	require.True(t, stale)
	assert.Equal(t, "high", w.Severity)
}

func TestDetectStalenessRelativeIsLowSeverity(t *testing.T) {
	doc := docAt("d1", 90)
	doc.Content = "As discussed last month, the rollout continues"
	w, stale := detectStaleness(&doc, meetingStart)
	require.True(t, stale)
	assert.Equal(t, "low", w.Severity)
}

func TestDetectStalenessFreshDocPasses(t *testing.T) {
	doc := docAt("d1", 2)
	doc.Content = fmt.Sprintf("Current plan for %d delivery", meetingStart.Year())
	_, stale := detectStaleness(&doc, meetingStart)
	assert.False(t, stale)
}

func TestDetectStalenessRecentRelativeReference(t *testing.T) {
	doc := docAt("d1", 3)
	doc.Content = "As discussed last week"
	_, stale := detectStaleness(&doc, meetingStart)
	assert.False(t, stale, "relative references on fresh documents are fine")
}

func TestAnalyzeDocumentsMarksStaleInsights(t *testing.T) {
	stub := &scriptedLLM{respond: func(prompt string) (string, error) {
		return `["Old plan insight rooted in prior-year data."]`, nil
	}}
	p := NewPipeline(stub, pipelineConfig(), testLogger(t))

	doc := docAt("d1", 400)
	doc.Content = fmt.Sprintf("Roadmap %d", meetingStart.Year()-2)
	insights, staleness, _ := p.AnalyzeDocuments(context.Background(), MeetingContext{}, testMeeting(),
		[]models.DocumentArtifact{doc})

	require.Len(t, insights, 1)
	assert.True(t, insights[0].Stale)
	require.Len(t, staleness, 1)
	assert.Equal(t, "d1", staleness[0].DocumentID)
}
