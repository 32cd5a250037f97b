// Package scheduler drives the periodic brief generation: an hourly
// tick for local-time batches and the near-term sweep, and a minute
// tick for meeting reminders. Failures are isolated per user; every
// write is an upsert, so re-running a bucket after a crash is safe.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/briefly-ai/briefly/pkg/config"
	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/prep"
	"github.com/briefly-ai/briefly/pkg/push"
)

// Sweep window for the hourly near-term generator.
const (
	sweepMin = 60 * time.Minute
	sweepMax = 90 * time.Minute
)

// tickTimeout bounds one full scheduler pass across all users.
const tickTimeout = 45 * time.Minute

// UserSource lists registered users.
type UserSource interface {
	ListAll(ctx context.Context) ([]*models.User, error)
}

// AccountSource lists a user's connected accounts.
type AccountSource interface {
	ListActiveByUser(ctx context.Context, userID string) ([]*models.Account, error)
}

// TokenSource validates account tokens before provider calls.
type TokenSource interface {
	EnsureAllValid(ctx context.Context, accts []*models.Account) ([]*models.Account, []models.AccountFailure, error)
}

// CalendarAPI is the slice of the calendar client the scheduler needs.
type CalendarAPI interface {
	ListMeetings(ctx context.Context, token string, from, to time.Time, max int) ([]models.Meeting, error)
}

// BriefStore persists generated briefs.
type BriefStore interface {
	Upsert(ctx context.Context, brief *models.Brief) error
	Exists(ctx context.Context, userID, meetingID string) (bool, error)
}

// DayPrepStore records the daily summary log row.
type DayPrepStore interface {
	Upsert(ctx context.Context, prep *models.DayPrep) error
}

// ReminderStore dedupes reminder pushes within a day.
type ReminderStore interface {
	MarkSent(ctx context.Context, userID, meetingID string, day time.Time) (bool, error)
}

// Generator runs one prep pipeline to completion.
type Generator interface {
	Run(ctx context.Context, meeting *models.Meeting, user *models.User) <-chan prep.Event
}

// Summary is the result of one scheduler pass, returned by the cron
// endpoints.
type Summary struct {
	UsersChecked    int `json:"users_checked"`
	BriefsGenerated int `json:"briefs_generated"`
	MeetingsSkipped int `json:"meetings_skipped"`
}

func (s *Summary) add(other Summary) {
	s.UsersChecked += other.UsersChecked
	s.BriefsGenerated += other.BriefsGenerated
	s.MeetingsSkipped += other.MeetingsSkipped
}

// Scheduler owns the cron wiring and the per-tick passes.
type Scheduler struct {
	users     UserSource
	accounts  AccountSource
	guard     TokenSource
	calendar  CalendarAPI
	briefs    BriefStore
	dayPreps  DayPrepStore
	reminders ReminderStore
	generator Generator
	notifier  *push.Service
	cfg       *config.SchedulerConfig
	logger    *slog.Logger

	cron *cron.Cron
	now  func() time.Time
}

func New(
	users UserSource,
	accounts AccountSource,
	guard TokenSource,
	calendar CalendarAPI,
	briefs BriefStore,
	dayPreps DayPrepStore,
	reminders ReminderStore,
	generator Generator,
	notifier *push.Service,
	cfg *config.SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	if users == nil || accounts == nil || guard == nil || calendar == nil ||
		briefs == nil || dayPreps == nil || reminders == nil || generator == nil || cfg == nil {
		panic("scheduler: all dependencies except the notifier are required")
	}
	return &Scheduler{
		users:     users,
		accounts:  accounts,
		guard:     guard,
		calendar:  calendar,
		briefs:    briefs,
		dayPreps:  dayPreps,
		reminders: reminders,
		generator: generator,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
	}
}

// Start registers the cron entries and begins ticking. No-op when the
// scheduler is disabled in config.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("scheduler disabled")
		return nil
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc("0 * * * *", func() { s.tick(s.HourlyTick) }); err != nil {
		return fmt.Errorf("failed to register hourly job: %w", err)
	}
	if _, err := s.cron.AddFunc("* * * * *", func() { s.tick(s.MinuteTick) }); err != nil {
		return fmt.Errorf("failed to register minute job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tick(pass func(context.Context) Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()
	pass(ctx)
}

// HourlyTick runs the local-hour-gated batches plus the near-term
// sweep for every user.
func (s *Scheduler) HourlyTick(ctx context.Context) Summary {
	var total Summary
	s.forEachUser(ctx, "hourly", func(user *models.User) Summary {
		var sum Summary
		local := s.now().In(user.Location())
		if local.Hour() == 0 && s.cfg.MidnightBatch {
			sum.add(s.midnightBatch(ctx, user, local))
		}
		if local.Hour() == s.cfg.DailySummaryHour {
			s.dailySummary(ctx, user, local)
		}
		sum.add(s.sweepUser(ctx, user))
		return sum
	}, &total)
	return total
}

// GenerateHourly is the near-term sweep across all users, ungated.
// Backs the /cron/generate-hourly-briefs endpoint.
func (s *Scheduler) GenerateHourly(ctx context.Context) Summary {
	var total Summary
	s.forEachUser(ctx, "hourly sweep", func(user *models.User) Summary {
		return s.sweepUser(ctx, user)
	}, &total)
	return total
}

// GenerateMidnight runs the next-day batch for all users, ungated.
// Backs the /cron/generate-midnight-briefs endpoint.
func (s *Scheduler) GenerateMidnight(ctx context.Context) Summary {
	var total Summary
	s.forEachUser(ctx, "midnight batch", func(user *models.User) Summary {
		return s.midnightBatch(ctx, user, s.now().In(user.Location()))
	}, &total)
	return total
}

// GenerateDaily sends the daily summary to all users, ungated. Backs
// the /cron/generate-daily-briefs endpoint.
func (s *Scheduler) GenerateDaily(ctx context.Context) Summary {
	var total Summary
	s.forEachUser(ctx, "daily summary", func(user *models.User) Summary {
		s.dailySummary(ctx, user, s.now().In(user.Location()))
		return Summary{}
	}, &total)
	return total
}

// forEachUser applies the pass with per-user failure isolation: a
// panic or error for one user never blocks the rest.
func (s *Scheduler) forEachUser(ctx context.Context, pass string, fn func(*models.User) Summary, total *Summary) {
	users, err := s.users.ListAll(ctx)
	if err != nil {
		s.logger.Error("failed to list users", "pass", pass, "error", err)
		return
	}
	for _, user := range users {
		if ctx.Err() != nil {
			return
		}
		total.UsersChecked++
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("user pass panicked", "pass", pass, "user", user.ID, "panic", r)
				}
			}()
			total.add(fn(user))
		}()
	}
}

// sweepUser generates briefs for meetings starting 60-90 minutes out
// that do not have one yet.
func (s *Scheduler) sweepUser(ctx context.Context, user *models.User) Summary {
	now := s.now()
	return s.generateFor(ctx, user, now.Add(sweepMin), now.Add(sweepMax))
}

// midnightBatch generates briefs for the next local day.
func (s *Scheduler) midnightBatch(ctx context.Context, user *models.User, local time.Time) Summary {
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location()).AddDate(0, 0, 1)
	return s.generateFor(ctx, user, dayStart, dayStart.AddDate(0, 0, 1))
}

// generateFor finds eligible meetings in [from, to) and generates any
// missing briefs. Eligible means non-zero attendees and a specific
// start time.
func (s *Scheduler) generateFor(ctx context.Context, user *models.User, from, to time.Time) Summary {
	var sum Summary
	meetings, err := s.upcomingMeetings(ctx, user, from, to)
	if err != nil {
		s.logger.Warn("failed to fetch upcoming meetings", "user", user.ID, "error", err)
		return sum
	}
	for i := range meetings {
		meeting := &meetings[i]
		if len(meeting.Attendees) == 0 || meeting.AllDay {
			sum.MeetingsSkipped++
			continue
		}
		exists, err := s.briefs.Exists(ctx, user.ID, meeting.ID)
		if err != nil {
			s.logger.Warn("brief existence check failed", "user", user.ID, "meeting", meeting.ID, "error", err)
			continue
		}
		if exists {
			sum.MeetingsSkipped++
			continue
		}
		if s.generateBrief(ctx, user, meeting) {
			sum.BriefsGenerated++
		}
	}
	return sum
}

// generateBrief runs the prep pipeline to completion and upserts the
// result. Returns false on a stream error or cancellation.
func (s *Scheduler) generateBrief(ctx context.Context, user *models.User, meeting *models.Meeting) bool {
	var brief *models.Brief
	for ev := range s.generator.Run(ctx, meeting, user) {
		switch ev.Type {
		case prep.EventComplete:
			brief = ev.Brief
		case prep.EventError:
			s.logger.Warn("scheduled generation failed",
				"user", user.ID, "meeting", meeting.ID, "kind", ev.Error, "status", ev.Status)
			return false
		}
	}
	if brief == nil {
		return false
	}
	if err := s.briefs.Upsert(ctx, brief); err != nil {
		s.logger.Error("failed to persist brief", "user", user.ID, "meeting", meeting.ID, "error", err)
		return false
	}
	s.notifier.Notify(ctx, user.ID, push.Payload{
		Title: "Brief ready",
		Body:  fmt.Sprintf("Your brief for %q is ready.", meeting.Title),
		Data:  map[string]any{"type": push.TypeBriefReady, "meeting_id": meeting.ID},
	})
	return true
}

// dailySummary counts the local day's meetings and pushes a summary.
func (s *Scheduler) dailySummary(ctx context.Context, user *models.User, local time.Time) {
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	meetings, err := s.upcomingMeetings(ctx, user, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		s.logger.Warn("daily summary fetch failed", "user", user.ID, "error", err)
		return
	}
	count := 0
	for _, m := range meetings {
		if !m.AllDay {
			count++
		}
	}
	body := fmt.Sprintf("You have %d meetings today.", count)
	s.notifier.Notify(ctx, user.ID, push.Payload{
		Title: "Today's schedule",
		Body:  body,
		Data: map[string]any{
			"type": push.TypeDailySummary,
			"date": dayStart.Format("2006-01-02"),
		},
	})
	if err := s.dayPreps.Upsert(ctx, &models.DayPrep{
		Date:      dayStart.Format("2006-01-02"),
		UserID:    user.ID,
		Narrative: body,
		Generated: s.now(),
	}); err != nil {
		s.logger.Warn("failed to record daily summary", "user", user.ID, "error", err)
	}
	s.logger.Info("daily summary sent", "user", user.ID, "meetings", count)
}

// MinuteTick sends reminders for meetings starting in the reminder lead
// window, deduped per meeting per day.
func (s *Scheduler) MinuteTick(ctx context.Context) Summary {
	var total Summary
	lead := time.Duration(s.cfg.ReminderLeadMinutes) * time.Minute
	s.forEachUser(ctx, "reminders", func(user *models.User) Summary {
		now := s.now()
		from := now.Add(lead).Truncate(time.Minute)
		meetings, err := s.upcomingMeetings(ctx, user, from, from.Add(time.Minute))
		if err != nil {
			s.logger.Warn("reminder fetch failed", "user", user.ID, "error", err)
			return Summary{}
		}
		for _, m := range meetings {
			if m.AllDay {
				continue
			}
			first, err := s.reminders.MarkSent(ctx, user.ID, m.ID, now)
			if err != nil {
				s.logger.Warn("reminder dedupe failed", "user", user.ID, "meeting", m.ID, "error", err)
				continue
			}
			if !first {
				continue
			}
			s.notifier.Notify(ctx, user.ID, push.Payload{
				Title: "Meeting soon",
				Body:  fmt.Sprintf("%q starts in %d minutes.", m.Title, s.cfg.ReminderLeadMinutes),
				Data:  map[string]any{"type": push.TypeReminder, "meeting_id": m.ID},
			})
		}
		return Summary{}
	}, &total)
	return total
}

// upcomingMeetings fetches [from, to) meetings across the user's valid
// accounts, deduplicated by event id.
func (s *Scheduler) upcomingMeetings(ctx context.Context, user *models.User, from, to time.Time) ([]models.Meeting, error) {
	accts, err := s.accounts.ListActiveByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accts) == 0 {
		return nil, nil
	}
	valid, _, err := s.guard.EnsureAllValid(ctx, accts)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []models.Meeting
	for _, acct := range valid {
		meetings, err := s.calendar.ListMeetings(ctx, acct.AccessToken, from, to, 100)
		if err != nil {
			s.logger.Warn("calendar fetch failed", "user", user.ID, "account", acct.Email, "error", err)
			continue
		}
		for _, m := range meetings {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}
