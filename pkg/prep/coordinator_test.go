package prep

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briefly-ai/briefly/pkg/classify"
	"github.com/briefly-ai/briefly/pkg/config"
	"github.com/briefly-ai/briefly/pkg/harvest"
	"github.com/briefly-ai/briefly/pkg/llm"
	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/purpose"
	"github.com/briefly-ai/briefly/pkg/relevance"
	"github.com/briefly-ai/briefly/pkg/research"
	"github.com/briefly-ai/briefly/pkg/synthesis"
	"github.com/briefly-ai/briefly/pkg/tokens"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&logWriter{t}, nil))
}

type logWriter struct{ t *testing.T }

func (w *logWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

// failingLLM errors on every call, exercising the pipeline's rule
// fallbacks and degradation paths.
type failingLLM struct{}

func (failingLLM) Complete(context.Context, llm.Request) (string, error) {
	return "", errors.New("llm unavailable")
}

type fakeAccounts struct {
	mu       sync.Mutex
	accounts []*models.Account
	revoked  []string
}

func (f *fakeAccounts) ListActiveByUser(_ context.Context, _ string) ([]*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts, nil
}

func (f *fakeAccounts) GetByID(_ context.Context, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeAccounts) UpdateTokens(_ context.Context, id, access, refresh string, expiresAt *time.Time) error {
	return nil
}

func (f *fakeAccounts) MarkRevoked(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, id)
	return nil
}

type fakeMail struct {
	emails []models.EmailArtifact
	delay  time.Duration
}

func (f *fakeMail) ListMessages(ctx context.Context, _, _ string, _ int) ([]models.EmailArtifact, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.emails, nil
}

type fakeDrive struct {
	files []models.DocumentArtifact
}

func (f *fakeDrive) ListFiles(context.Context, string, string, int) ([]models.DocumentArtifact, error) {
	return f.files, nil
}

func (f *fakeDrive) FetchContent(_ context.Context, _ string, doc *models.DocumentArtifact) error {
	doc.Content = "Launch plan contents."
	return nil
}

type fakeCalendar struct {
	events []models.CalendarArtifact
}

func (f *fakeCalendar) ListHistory(context.Context, string, time.Time, time.Time, int) ([]models.CalendarArtifact, error) {
	return f.events, nil
}

var prepMeetingStart = time.Now().Add(24 * time.Hour).Truncate(time.Hour)

func freshAccount(id, email string) *models.Account {
	expires := time.Now().Add(time.Hour)
	return &models.Account{
		ID: id, UserID: "u1", Provider: "google", Email: email,
		AccessToken: "tok-" + id, RefreshToken: "ref-" + id,
		ExpiresAt: &expires, Status: models.AccountStatusActive,
	}
}

func prepUser() *models.User {
	return &models.User{ID: "u1", Name: "Bob", Email: "bob@acme.test", Emails: []string{"bob@acme.test"}}
}

func prepMeeting() *models.Meeting {
	return &models.Meeting{
		ID:    "ev1",
		Title: "Phoenix Review",
		Start: prepMeetingStart,
		End:   prepMeetingStart.Add(time.Hour),
		Attendees: []models.Attendee{
			{Email: "bob@acme.test", Self: true},
			{Email: "alice@acme.test", DisplayName: "Alice Smith"},
		},
	}
}

func testConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		EmailFilterBatch: 25, DocFilterBatch: 50, ExtractionBatch: 20, DocAnalysisBatch: 5,
		MaxEmails: 100, MaxFiles: 200, MaxAnalyzedDocs: 20, MaxCalendarEvents: 100,
		ResearchAttendeeCap: 10,
	}
}

type harness struct {
	coordinator *Coordinator
	accounts    *fakeAccounts
	mail        *fakeMail
}

func newHarness(t *testing.T, client llm.Client) *harness {
	t.Helper()
	logger := testLogger(t)
	cfg := testConfig()

	accounts := &fakeAccounts{accounts: []*models.Account{freshAccount("a1", "bob@acme.test")}}
	guard := tokens.NewGuard(accounts, &config.OAuthConfig{
		ClientID: "cid", ClientSecret: "sec", TokenURL: "http://localhost/token",
	}, logger)

	mail := &fakeMail{emails: []models.EmailArtifact{
		{ID: "m1", Subject: "Phoenix status", From: "alice@acme.test", To: []string{"bob@acme.test"},
			Date: time.Now().Add(-48 * time.Hour).Format(time.RFC3339), Body: "Status update."},
	}}
	drive := &fakeDrive{files: []models.DocumentArtifact{
		{ID: "d1", Name: "Launch plan", MimeType: "application/vnd.google-apps.document",
			ModifiedTime: time.Now().Add(-24 * time.Hour), OwnerEmail: "alice@acme.test"},
	}}
	calendar := &fakeCalendar{events: []models.CalendarArtifact{
		{ID: "h1", Title: "Phoenix sync", Start: prepMeetingStart.Add(-7 * 24 * time.Hour),
			Attendees: []models.Attendee{{Email: "alice@acme.test", DisplayName: "Alice Smith"}}},
	}}

	harvester := harvest.NewHarvester(mail, drive, calendar, cfg, logger)
	coordinator := NewCoordinator(
		accounts, guard, harvester,
		classify.NewClassifier(client, logger),
		purpose.NewDetector(client, logger),
		relevance.NewPipeline(client, cfg, logger),
		research.NewResearcher(client, nil, cfg, logger),
		synthesis.NewSynthesizer(client, logger),
		logger,
	)
	return &harness{coordinator: coordinator, accounts: accounts, mail: mail}
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out waiting for event stream to close")
		}
	}
}

func progressSteps(events []Event) []string {
	var steps []string
	for _, ev := range events {
		if ev.Type == EventProgress {
			steps = append(steps, ev.Step)
		}
	}
	return steps
}

func TestRunCompleteFlowWithDegradedLLM(t *testing.T) {
	h := newHarness(t, failingLLM{})

	events := collect(t, h.coordinator.Run(context.Background(), prepMeeting(), prepUser()))
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	require.Equal(t, EventComplete, last.Type)
	require.NotNil(t, last.Brief)

	assert.Equal(t, []string{
		StepStarting, StepFetchingContext, StepFetchingData,
		StepResearchingAttendees, StepAnalyzingEmails, StepAnalyzingDocuments,
		StepAnalyzingRelations, StepAnalyzingContribution, StepSynthesizingNarrative,
		StepBuildingTimeline, StepGeneratingSummary,
	}, progressSteps(events))

	brief := last.Brief
	assert.Equal(t, "ev1", brief.MeetingID)
	assert.Equal(t, "u1", brief.UserID)
	assert.Equal(t, 1, brief.Stats.EmailsFetched)
	assert.Equal(t, 1, brief.Stats.CalendarEvents)
	assert.Equal(t, 1, brief.Stats.AccountsUsed)

	// Attendee research degraded to metadata facts but still ran.
	require.Len(t, brief.Attendees, 1)
	assert.Equal(t, "Alice Smith", brief.Attendees[0].Name)

	// Degraded synthesis stages were recorded, not fatal.
	require.NotNil(t, brief.ExtractionData)
	assert.NotEmpty(t, brief.ExtractionData.Warnings)

	// Timeline still carries the pinned reference event.
	require.NotEmpty(t, brief.Timeline)
	assert.Equal(t, "ev1", brief.Timeline[0].ID)

	// Every event is stamped.
	for _, ev := range events {
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestRunMinimalBriefForNonMeeting(t *testing.T) {
	h := newHarness(t, failingLLM{})

	meeting := &models.Meeting{
		ID:    "ev2",
		Title: "Pick up dry cleaning",
		Start: prepMeetingStart,
	}
	events := collect(t, h.coordinator.Run(context.Background(), meeting, prepUser()))

	last := events[len(events)-1]
	require.Equal(t, EventComplete, last.Type)
	require.NotNil(t, last.Brief)
	require.NotNil(t, last.Brief.Classification)
	assert.NotEqual(t, models.PrepDepthFull, last.Brief.PrepDepth)
	assert.Contains(t, last.Brief.Summary, "Pick up dry cleaning")

	assert.NotContains(t, progressSteps(events), StepFetchingData)
}

func TestRunNoAccountsIsTerminalError(t *testing.T) {
	h := newHarness(t, failingLLM{})
	h.accounts.accounts = nil

	events := collect(t, h.coordinator.Run(context.Background(), prepMeeting(), prepUser()))

	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)
	assert.Equal(t, 401, last.Status)
	assert.Equal(t, models.ErrKindNoValidAccounts, last.Error)
	assert.True(t, last.Revoked)
	assert.NotEmpty(t, last.RequestID)
}

func TestRunAllRevokedBeforeProviderCalls(t *testing.T) {
	h := newHarness(t, failingLLM{})
	expired := time.Now().Add(-time.Hour)
	h.accounts.accounts = []*models.Account{{
		ID: "a1", UserID: "u1", Provider: "google", Email: "bob@acme.test",
		AccessToken: "tok", RefreshToken: "", ExpiresAt: &expired,
		Status: models.AccountStatusActive,
	}}

	events := collect(t, h.coordinator.Run(context.Background(), prepMeeting(), prepUser()))

	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)
	assert.Equal(t, models.ErrKindNoValidAccounts, last.Error)
	require.Len(t, last.FailedAccounts, 1)
	assert.True(t, last.FailedAccounts[0].IsRevoked)

	assert.NotContains(t, progressSteps(events), StepFetchingData)
	assert.Contains(t, h.accounts.revoked, "a1")
}

func TestRunInvalidMeeting(t *testing.T) {
	h := newHarness(t, failingLLM{})

	events := collect(t, h.coordinator.Run(context.Background(), &models.Meeting{}, prepUser()))

	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)
	assert.Equal(t, 400, last.Status)
	assert.Equal(t, models.ErrKindInvalidMeeting, last.Error,
		"a malformed meeting is a validation failure, not a parse failure")
}

func TestRunCancellationClosesStreamSilently(t *testing.T) {
	h := newHarness(t, failingLLM{})
	h.mail.delay = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	ch := h.coordinator.Run(ctx, prepMeeting(), prepUser())

	// Let the run reach the harvest, then disconnect.
	time.Sleep(100 * time.Millisecond)
	cancel()

	events := collect(t, ch)
	for _, ev := range events {
		assert.NotEqual(t, EventError, ev.Type, "cancellation must not surface an error event")
		assert.NotEqual(t, EventComplete, ev.Type)
	}
}

func TestRunEmitsKeepaliveDuringSilence(t *testing.T) {
	h := newHarness(t, failingLLM{})
	h.coordinator.keepalive = 50 * time.Millisecond
	h.mail.delay = 400 * time.Millisecond

	events := collect(t, h.coordinator.Run(context.Background(), prepMeeting(), prepUser()))

	keepalives := 0
	for _, ev := range events {
		if ev.Type == EventKeepalive {
			keepalives++
			assert.NotEmpty(t, ev.Message)
		}
	}
	assert.GreaterOrEqual(t, keepalives, 1)
	assert.Equal(t, EventComplete, events[len(events)-1].Type)
}

func TestRunStreamClosesCleanlyUnderActiveWatchdog(t *testing.T) {
	// An aggressive keepalive interval keeps the watchdog mid-send while
	// runs finish; the stream must drain and close without a panic.
	for i := 0; i < 25; i++ {
		h := newHarness(t, failingLLM{})
		h.coordinator.keepalive = 4 * time.Millisecond
		h.mail.delay = 10 * time.Millisecond

		events := collect(t, h.coordinator.Run(context.Background(), prepMeeting(), prepUser()))
		require.NotEmpty(t, events)
		assert.Equal(t, EventComplete, events[len(events)-1].Type)
	}
}
