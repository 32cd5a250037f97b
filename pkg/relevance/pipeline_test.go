package relevance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briefly-ai/briefly/pkg/config"
	"github.com/briefly-ai/briefly/pkg/llm"
	"github.com/briefly-ai/briefly/pkg/models"
)

var meetingStart = time.Date(2025, 4, 10, 15, 0, 0, 0, time.UTC)

type scriptedLLM struct {
	mu       sync.Mutex
	respond  func(prompt string) (string, error)
	prompts  []string
	failures int
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, req.Prompt)
	s.mu.Unlock()
	resp, err := s.respond(req.Prompt)
	if err != nil {
		s.mu.Lock()
		s.failures++
		s.mu.Unlock()
	}
	return resp, err
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&logWriter{t}, nil))
}

type logWriter struct{ t *testing.T }

func (w *logWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func pipelineConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		EmailFilterBatch: 25,
		DocFilterBatch:   50,
		ExtractionBatch:  20,
		DocAnalysisBatch: 5,
		MaxAnalyzedDocs:  20,
	}
}

func testMeeting() *models.Meeting {
	return &models.Meeting{ID: "ev1", Title: "Phoenix kickoff", Start: meetingStart}
}

func emailAt(id string, daysAgo int) models.EmailArtifact {
	return models.EmailArtifact{
		ID:      id,
		Subject: "Phoenix " + id,
		From:    "alice@acme.test",
		To:      []string{"bob@acme.test"},
		Date:    meetingStart.AddDate(0, 0, -daysAgo).Format(time.RFC1123Z),
		Body:    "Body of " + id,
	}
}

func TestTemporalScore(t *testing.T) {
	today := temporalScore(1.0, meetingStart, meetingStart)
	assert.InDelta(t, 1.0, today, 1e-9)

	hundredDays := temporalScore(1.0, meetingStart.AddDate(0, 0, -100), meetingStart)
	expected := 0.7 + 0.3*math.Exp(-0.015*100)
	assert.InDelta(t, expected, hundredDays, 1e-6)

	assert.Greater(t, today, hundredDays)
	assert.InDelta(t, 0.7, temporalScore(1.0, time.Time{}, meetingStart), 1e-9,
		"undated emails score without the recency term")
}

func TestFilterEmailsKeepsIndicatedAndRanks(t *testing.T) {
	stub := &scriptedLLM{respond: func(prompt string) (string, error) {
		return `{"relevant_indices":[0,2],"reasoning":{"0":"discusses launch","2":"scope decision"}}`, nil
	}}
	p := NewPipeline(stub, pipelineConfig(), testLogger(t))

	emails := []models.EmailArtifact{emailAt("old", 200), emailAt("noise", 5), emailAt("new", 1)}
	res := p.FilterEmails(context.Background(), MeetingContext{Title: "Phoenix kickoff"}, testMeeting(), emails)

	require.Len(t, res.Relevant, 2)
	assert.Equal(t, "new", res.Relevant[0].ID, "recency ranks first at equal relevance")
	assert.Equal(t, "old", res.Relevant[1].ID)
	assert.Equal(t, "discusses launch", res.Reasoning["old"])
	assert.Equal(t, "scope decision", res.Reasoning["new"])
	assert.Empty(t, res.Warnings)
}

func TestFilterEmailsBatchFailureDropsBatchOnly(t *testing.T) {
	cfg := pipelineConfig()
	cfg.EmailFilterBatch = 2
	stub := &scriptedLLM{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "[0] Subject: Phoenix m1") {
			return `{"relevant_indices":[0,1]}`, nil
		}
		return "", errors.New("rate limited")
	}}
	p := NewPipeline(stub, cfg, testLogger(t))

	emails := []models.EmailArtifact{emailAt("m1", 1), emailAt("m2", 2), emailAt("m3", 3), emailAt("m4", 4)}
	res := p.FilterEmails(context.Background(), MeetingContext{}, testMeeting(), emails)

	assert.Len(t, res.Relevant, 2, "only the succeeding batch contributes")
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "dropped")
}

func TestFilterEmailsIgnoresOutOfRangeIndices(t *testing.T) {
	stub := &scriptedLLM{respond: func(string) (string, error) {
		return `{"relevant_indices":[0,7,-1]}`, nil
	}}
	p := NewPipeline(stub, pipelineConfig(), testLogger(t))

	res := p.FilterEmails(context.Background(), MeetingContext{}, testMeeting(),
		[]models.EmailArtifact{emailAt("m1", 1)})
	assert.Len(t, res.Relevant, 1)
}

func TestFilterEmailsOverlapScreenBlocksStrangers(t *testing.T) {
	stub := &scriptedLLM{respond: func(string) (string, error) {
		return `{"relevant_indices":[0]}`, nil
	}}
	p := NewPipeline(stub, pipelineConfig(), testLogger(t))

	meeting := testMeeting()
	meeting.Attendees = []models.Attendee{
		{Email: "bob@acme.test", Self: true},
		{Email: "alice@acme.test"},
	}
	stranger := models.EmailArtifact{
		ID:      "x1",
		Subject: "Unrelated thread",
		From:    "stranger@other.test",
		To:      []string{"nobody@other.test"},
		Date:    meetingStart.AddDate(0, 0, -1).Format(time.RFC1123Z),
		Body:    "Nothing to do with this meeting",
	}
	res := p.FilterEmails(context.Background(), MeetingContext{}, meeting,
		[]models.EmailArtifact{stranger, emailAt("m1", 1)})

	require.Len(t, res.Relevant, 1)
	assert.Equal(t, "m1", res.Relevant[0].ID)
	for _, prompt := range stub.prompts {
		assert.NotContains(t, prompt, "stranger@other.test",
			"screened emails must never reach an LLM prompt")
	}
}

func TestFilterEmailsOverlapScreenPartialThresholds(t *testing.T) {
	stub := &scriptedLLM{respond: func(string) (string, error) {
		return `{"relevant_indices":[0]}`, nil
	}}
	p := NewPipeline(stub, pipelineConfig(), testLogger(t))

	// Small meetings require full overlap, so a two-of-three match fails.
	meeting := testMeeting()
	meeting.Attendees = []models.Attendee{
		{Email: "bob@acme.test", Self: true},
		{Email: "alice@acme.test"},
		{Email: "carol@acme.test"},
	}
	partial := emailAt("m1", 1) // alice -> bob only
	res := p.FilterEmails(context.Background(), MeetingContext{}, meeting,
		[]models.EmailArtifact{partial})
	assert.Empty(t, res.Relevant)
	assert.Empty(t, stub.prompts, "a fully screened corpus skips the LLM")

	// Large meetings relax to 75%: four of five attendees suffice.
	meeting.Attendees = append(meeting.Attendees,
		models.Attendee{Email: "dave@acme.test"},
		models.Attendee{Email: "erin@acme.test"},
	)
	wide := partial
	wide.CC = []string{"carol@acme.test", "dave@acme.test"}
	res = p.FilterEmails(context.Background(), MeetingContext{}, meeting,
		[]models.EmailArtifact{wide})
	assert.Len(t, res.Relevant, 1)
}

func TestFilterEmailsNoAttendeesBypassesScreen(t *testing.T) {
	stub := &scriptedLLM{respond: func(string) (string, error) {
		return `{"relevant_indices":[0]}`, nil
	}}
	p := NewPipeline(stub, pipelineConfig(), testLogger(t))

	outside := models.EmailArtifact{
		ID:   "x1",
		From: "stranger@other.test",
		To:   []string{"nobody@other.test"},
		Date: meetingStart.AddDate(0, 0, -1).Format(time.RFC1123Z),
	}
	res := p.FilterEmails(context.Background(), MeetingContext{}, testMeeting(),
		[]models.EmailArtifact{outside})
	assert.Len(t, res.Relevant, 1, "meetings without attendees keep the whole corpus")
}

func TestExtractContextMergesAndDedupes(t *testing.T) {
	cfg := pipelineConfig()
	cfg.ExtractionBatch = 1
	stub := &scriptedLLM{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "Body of m1") {
			return `{"topics":["Phoenix launch timeline"],"decisions":["Ship in May"],"actionItems":[],"workingRelationships":[],"projectProgress":[],"blockers":[],"keyContext":[],"attachments":[],"sentiment":[]}`, nil
		}
		return `{"topics":["Phoenix launch timeline discussed again"],"decisions":[],"actionItems":["Draft rollout plan"],"workingRelationships":[],"projectProgress":[],"blockers":[],"keyContext":[],"attachments":[],"sentiment":[]}`, nil
	}}
	p := NewPipeline(stub, cfg, testLogger(t))

	ec, warnings := p.ExtractContext(context.Background(), MeetingContext{},
		[]models.EmailArtifact{emailAt("m1", 1), emailAt("m2", 2)})
	assert.Empty(t, warnings)
	assert.Len(t, ec.Topics, 1, "80%-prefix duplicates collapse")
	assert.Equal(t, []string{"Ship in May"}, ec.Decisions)
	assert.Equal(t, []string{"Draft rollout plan"}, ec.ActionItems)
}

func TestExtractContextThreadMetadataInPrompt(t *testing.T) {
	stub := &scriptedLLM{respond: func(string) (string, error) {
		return `{"topics":[]}`, nil
	}}
	p := NewPipeline(stub, pipelineConfig(), testLogger(t))

	a := emailAt("m1", 3)
	b := emailAt("m2", 1)
	b.Subject = "Re: " + a.Subject
	b.Subject = "Re: Phoenix m1"
	_, _ = p.ExtractContext(context.Background(), MeetingContext{}, []models.EmailArtifact{a, b})

	require.NotEmpty(t, stub.prompts)
	assert.Contains(t, stub.prompts[0], "Thread: 2 messages")
}

func TestSynthesizeNarrative(t *testing.T) {
	stub := &scriptedLLM{respond: func(prompt string) (string, error) {
		return "You have been discussing the Phoenix launch with Alice over the last week.", nil
	}}
	p := NewPipeline(stub, pipelineConfig(), testLogger(t))

	got := p.SynthesizeNarrative(context.Background(), MeetingContext{Title: "Phoenix kickoff"}, "Bob",
		&models.ExtractedContext{Topics: []string{"Phoenix launch"}})
	assert.Contains(t, got, "Phoenix launch")
}

func TestSynthesizeNarrativeEmptyCorpus(t *testing.T) {
	stub := &scriptedLLM{respond: func(string) (string, error) {
		t.Fatal("no LLM call expected for an empty context")
		return "", nil
	}}
	p := NewPipeline(stub, pipelineConfig(), testLogger(t))

	got := p.SynthesizeNarrative(context.Background(), MeetingContext{}, "Bob", &models.ExtractedContext{})
	assert.Equal(t, "No relevant email activity was found for this meeting.", got)
}

func TestSynthesizeNarrativeFallbackOnFailure(t *testing.T) {
	stub := &scriptedLLM{respond: func(string) (string, error) {
		return "", errors.New("llm down")
	}}
	p := NewPipeline(stub, pipelineConfig(), testLogger(t))

	got := p.SynthesizeNarrative(context.Background(), MeetingContext{}, "Bob",
		&models.ExtractedContext{Topics: []string{"Phoenix", "Budget"}, ActionItems: []string{"plan"}})
	assert.Contains(t, got, "unavailable")
	assert.Contains(t, got, "Phoenix")
}

func TestSynthesizeNarrativeBudgetNote(t *testing.T) {
	var sawNote bool
	stub := &scriptedLLM{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "prioritize the most recent") {
			sawNote = true
		}
		return "narrative", nil
	}}
	p := NewPipeline(stub, pipelineConfig(), testLogger(t))

	_ = p.SynthesizeNarrative(context.Background(), MeetingContext{}, "Bob",
		&models.ExtractedContext{KeyContext: []string{"A short context"}})
	assert.False(t, sawNote, "a small context stays under the token budget")

	big := make([]string, 0, 600)
	for i := 0; i < 600; i++ {
		big = append(big, fmt.Sprintf("A fairly long extracted context line number %d with plenty of words in it", i))
	}
	_ = p.SynthesizeNarrative(context.Background(), MeetingContext{}, "Bob",
		&models.ExtractedContext{KeyContext: big})
	assert.True(t, sawNote, "an oversized context must carry the budget note")
}

func TestDedupeStrings(t *testing.T) {
	got := dedupeStrings([]string{
		"Ship the Phoenix launch in May",
		"Ship the Phoenix launch in May as agreed",
		"Budget review pending",
		"",
	})
	assert.Equal(t, []string{"Ship the Phoenix launch in May", "Budget review pending"}, got)
}

func TestNormalizeSubject(t *testing.T) {
	assert.Equal(t, "phoenix scope", normalizeSubject("Re: RE: Fwd: Phoenix   Scope"))
	assert.Equal(t, "phoenix scope", normalizeSubject("Phoenix Scope"))
}
