package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briefly-ai/briefly/pkg/config"
	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/prep"
	"github.com/briefly-ai/briefly/pkg/push"
)

type fakeUsers struct {
	users []*models.User
	err   error
}

func (f *fakeUsers) ListAll(ctx context.Context) ([]*models.User, error) {
	return f.users, f.err
}

type fakeAccounts struct {
	byUser map[string][]*models.Account
	errFor map[string]error
}

func (f *fakeAccounts) ListActiveByUser(ctx context.Context, userID string) ([]*models.Account, error) {
	if err := f.errFor[userID]; err != nil {
		return nil, err
	}
	return f.byUser[userID], nil
}

type fakeGuard struct{}

func (fakeGuard) EnsureAllValid(ctx context.Context, accts []*models.Account) ([]*models.Account, []models.AccountFailure, error) {
	return accts, nil, nil
}

type fakeCalendar struct {
	mu       sync.Mutex
	meetings []models.Meeting
	windows  [][2]time.Time
	err      error
}

func (f *fakeCalendar) ListMeetings(ctx context.Context, token string, from, to time.Time, max int) ([]models.Meeting, error) {
	f.mu.Lock()
	f.windows = append(f.windows, [2]time.Time{from, to})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Meeting
	for _, m := range f.meetings {
		if !m.Start.Before(from) && m.Start.Before(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeBriefs struct {
	mu       sync.Mutex
	existing map[string]bool
	upserted []*models.Brief
}

func (f *fakeBriefs) Exists(ctx context.Context, userID, meetingID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[userID+"/"+meetingID], nil
}

func (f *fakeBriefs) Upsert(ctx context.Context, brief *models.Brief) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, brief)
	return nil
}

type fakeDayPreps struct {
	mu       sync.Mutex
	upserted []*models.DayPrep
}

func (f *fakeDayPreps) Upsert(ctx context.Context, prep *models.DayPrep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, prep)
	return nil
}

type fakeReminders struct {
	mu   sync.Mutex
	sent map[string]bool
}

func (f *fakeReminders) MarkSent(ctx context.Context, userID, meetingID string, day time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := userID + "/" + meetingID + "/" + day.Format("2006-01-02")
	if f.sent == nil {
		f.sent = make(map[string]bool)
	}
	if f.sent[key] {
		return false, nil
	}
	f.sent[key] = true
	return true, nil
}

// fakeGenerator emits a complete event carrying a brief stamped with
// the meeting and user, or an error event when fail is set.
type fakeGenerator struct {
	mu   sync.Mutex
	runs []string
	fail bool
}

func (f *fakeGenerator) Run(ctx context.Context, meeting *models.Meeting, user *models.User) <-chan prep.Event {
	f.mu.Lock()
	f.runs = append(f.runs, user.ID+"/"+meeting.ID)
	f.mu.Unlock()
	ch := make(chan prep.Event, 1)
	if f.fail {
		ch <- prep.Event{Type: prep.EventError, Status: 500, Error: models.ErrKindTransientProvider}
	} else {
		ch <- prep.Event{Type: prep.EventComplete, Brief: &models.Brief{
			UserID:    user.ID,
			MeetingID: meeting.ID,
		}}
	}
	close(ch)
	return ch
}

// pushRecorder backs a real push.Service and captures delivered
// payloads.
type pushRecorder struct {
	mu       sync.Mutex
	payloads []map[string]any
	server   *httptest.Server
}

func newPushRecorder(t *testing.T) *pushRecorder {
	t.Helper()
	rec := &pushRecorder{}
	rec.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		rec.mu.Lock()
		rec.payloads = append(rec.payloads, payload)
		rec.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(rec.server.Close)
	return rec
}

func (r *pushRecorder) service() *push.Service {
	return push.NewService(&config.PushConfig{WebhookURL: r.server.URL})
}

func (r *pushRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.payloads {
		data, _ := p["data"].(map[string]any)
		kind, _ := data["type"].(string)
		out = append(out, kind)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	sched     *Scheduler
	users     *fakeUsers
	accounts  *fakeAccounts
	calendar  *fakeCalendar
	briefs    *fakeBriefs
	dayPreps  *fakeDayPreps
	reminders *fakeReminders
	generator *fakeGenerator
	pushes    *pushRecorder
	cfg       *config.SchedulerConfig
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		users: &fakeUsers{users: []*models.User{
			{ID: "u1", Email: "dana@acme.com", Timezone: "UTC"},
		}},
		accounts: &fakeAccounts{byUser: map[string][]*models.Account{
			"u1": {{ID: "a1", UserID: "u1", Email: "dana@acme.com", AccessToken: "tok", Status: models.AccountStatusActive}},
		}, errFor: map[string]error{}},
		calendar:  &fakeCalendar{},
		briefs:    &fakeBriefs{existing: map[string]bool{}},
		dayPreps:  &fakeDayPreps{},
		reminders: &fakeReminders{},
		generator: &fakeGenerator{},
		pushes:    newPushRecorder(t),
		cfg: &config.SchedulerConfig{
			Enabled:             true,
			DailySummaryHour:    9,
			ReminderLeadMinutes: 15,
		},
	}
	f.sched = New(f.users, f.accounts, fakeGuard{}, f.calendar, f.briefs,
		f.dayPreps, f.reminders, f.generator, f.pushes.service(), f.cfg, testLogger())
	f.sched.now = func() time.Time { return now }
	return f
}

func meetingAt(id string, start time.Time) models.Meeting {
	return models.Meeting{
		ID:    id,
		Title: "Sync " + id,
		Start: start,
		End:   start.Add(30 * time.Minute),
		Attendees: []models.Attendee{
			{Email: "dana@acme.com"},
			{Email: "alice@partner.io"},
		},
	}
}

func TestSweepGeneratesMissingBriefs(t *testing.T) {
	now := time.Date(2025, 4, 10, 14, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	inWindow := meetingAt("m1", now.Add(75*time.Minute))
	tooSoon := meetingAt("m2", now.Add(30*time.Minute))
	noAttendees := meetingAt("m3", now.Add(80*time.Minute))
	noAttendees.Attendees = nil
	allDay := meetingAt("m4", now.Add(70*time.Minute))
	allDay.AllDay = true
	f.calendar.meetings = []models.Meeting{inWindow, tooSoon, noAttendees, allDay}

	sum := f.sched.GenerateHourly(context.Background())

	assert.Equal(t, 1, sum.UsersChecked)
	assert.Equal(t, 1, sum.BriefsGenerated)
	assert.Equal(t, 2, sum.MeetingsSkipped)
	assert.Equal(t, []string{"u1/m1"}, f.generator.runs)
	require.Len(t, f.briefs.upserted, 1)
	assert.Equal(t, "m1", f.briefs.upserted[0].MeetingID)
	assert.Equal(t, []string{push.TypeBriefReady}, f.pushes.types())
}

func TestSweepSkipsExistingBriefs(t *testing.T) {
	now := time.Date(2025, 4, 10, 14, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.calendar.meetings = []models.Meeting{meetingAt("m1", now.Add(75*time.Minute))}
	f.briefs.existing["u1/m1"] = true

	sum := f.sched.GenerateHourly(context.Background())

	assert.Equal(t, 1, sum.MeetingsSkipped)
	assert.Zero(t, sum.BriefsGenerated)
	assert.Empty(t, f.generator.runs)
}

func TestSweepGenerationFailureNotPersisted(t *testing.T) {
	now := time.Date(2025, 4, 10, 14, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.calendar.meetings = []models.Meeting{meetingAt("m1", now.Add(75*time.Minute))}
	f.generator.fail = true

	sum := f.sched.GenerateHourly(context.Background())

	assert.Zero(t, sum.BriefsGenerated)
	assert.Empty(t, f.briefs.upserted)
	assert.Empty(t, f.pushes.types())
}

func TestHourlyTickMidnightBatchGated(t *testing.T) {
	now := time.Date(2025, 4, 10, 0, 5, 0, 0, time.UTC)
	f := newFixture(t, now)
	nextDay := meetingAt("m1", time.Date(2025, 4, 11, 10, 0, 0, 0, time.UTC))
	f.calendar.meetings = []models.Meeting{nextDay}

	f.sched.HourlyTick(context.Background())
	assert.Empty(t, f.generator.runs, "midnight batch disabled by default")

	f.cfg.MidnightBatch = true
	sum := f.sched.HourlyTick(context.Background())
	assert.Equal(t, 1, sum.BriefsGenerated)
	assert.Equal(t, []string{"u1/m1"}, f.generator.runs)
}

func TestHourlyTickDailySummary(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.calendar.meetings = []models.Meeting{
		meetingAt("m1", time.Date(2025, 4, 10, 11, 0, 0, 0, time.UTC)),
		meetingAt("m2", time.Date(2025, 4, 10, 15, 0, 0, 0, time.UTC)),
	}

	f.sched.HourlyTick(context.Background())

	assert.Contains(t, f.pushes.types(), push.TypeDailySummary)
	require.Len(t, f.dayPreps.upserted, 1)
	assert.Equal(t, "2025-04-10", f.dayPreps.upserted[0].Date)
	assert.Equal(t, "u1", f.dayPreps.upserted[0].UserID)
	assert.Contains(t, f.dayPreps.upserted[0].Narrative, "2 meetings")
}

func TestHourlyTickUsesUserTimezone(t *testing.T) {
	// 09:00 in Tokyo is 00:00 UTC; the Tokyo user gets a summary, the
	// UTC user does not.
	now := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.users.users = []*models.User{
		{ID: "u1", Email: "dana@acme.com", Timezone: "UTC"},
		{ID: "u2", Email: "kenji@acme.jp", Timezone: "Asia/Tokyo"},
	}
	f.accounts.byUser["u2"] = f.accounts.byUser["u1"]

	f.sched.HourlyTick(context.Background())

	require.Len(t, f.dayPreps.upserted, 1)
	assert.Equal(t, "u2", f.dayPreps.upserted[0].UserID)
}

func TestMinuteTickReminderDedupe(t *testing.T) {
	now := time.Date(2025, 4, 10, 14, 45, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.calendar.meetings = []models.Meeting{meetingAt("m1", now.Add(15*time.Minute))}

	f.sched.MinuteTick(context.Background())
	f.sched.MinuteTick(context.Background())

	assert.Equal(t, []string{push.TypeReminder}, f.pushes.types())
}

func TestMinuteTickIgnoresOutsideWindow(t *testing.T) {
	now := time.Date(2025, 4, 10, 14, 45, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.calendar.meetings = []models.Meeting{
		meetingAt("m1", now.Add(5*time.Minute)),
		meetingAt("m2", now.Add(45*time.Minute)),
	}

	f.sched.MinuteTick(context.Background())

	assert.Empty(t, f.pushes.types())
}

func TestUserFailureIsolation(t *testing.T) {
	now := time.Date(2025, 4, 10, 14, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.users.users = []*models.User{
		{ID: "u1", Email: "dana@acme.com", Timezone: "UTC"},
		{ID: "u2", Email: "lee@acme.com", Timezone: "UTC"},
	}
	f.accounts.byUser["u2"] = []*models.Account{
		{ID: "a2", UserID: "u2", Email: "lee@acme.com", AccessToken: "tok", Status: models.AccountStatusActive},
	}
	f.accounts.errFor["u1"] = errors.New("store down")
	f.calendar.meetings = []models.Meeting{meetingAt("m1", now.Add(75*time.Minute))}

	sum := f.sched.GenerateHourly(context.Background())

	assert.Equal(t, 2, sum.UsersChecked)
	assert.Equal(t, 1, sum.BriefsGenerated)
	assert.Equal(t, []string{"u2/m1"}, f.generator.runs)
}

func TestGenerateMidnightDeduplicatesAcrossAccounts(t *testing.T) {
	now := time.Date(2025, 4, 10, 14, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.accounts.byUser["u1"] = append(f.accounts.byUser["u1"],
		&models.Account{ID: "a2", UserID: "u1", Email: "dana@other.com", AccessToken: "tok2", Status: models.AccountStatusActive})
	f.calendar.meetings = []models.Meeting{meetingAt("m1", time.Date(2025, 4, 11, 10, 0, 0, 0, time.UTC))}

	sum := f.sched.GenerateMidnight(context.Background())

	assert.Equal(t, 1, sum.BriefsGenerated)
	assert.Equal(t, []string{"u1/m1"}, f.generator.runs)
}
