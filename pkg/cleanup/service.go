// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/briefly-ai/briefly/pkg/config"
	"github.com/briefly-ai/briefly/pkg/services"
)

// Service periodically enforces retention policies:
//   - Deletes briefs past the brief retention window
//   - Deletes day preps for days past the same window
//   - Prunes reminder dedupe rows past the reminder window
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config          *config.RetentionConfig
	briefService    *services.BriefService
	dayPrepService  *services.DayPrepService
	reminderService *services.ReminderService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	briefService *services.BriefService,
	dayPrepService *services.DayPrepService,
	reminderService *services.ReminderService,
) *Service {
	return &Service{
		config:          cfg,
		briefService:    briefService,
		dayPrepService:  dayPrepService,
		reminderService: reminderService,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"brief_retention_days", s.config.BriefRetentionDays,
		"reminder_retention_days", s.config.ReminderRetentionDays,
		"interval", s.config.CleanupInterval.Std())
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.deleteOldBriefs(ctx)
	s.deleteOldDayPreps(ctx)
	s.pruneReminders(ctx)
}

func (s *Service) deleteOldBriefs(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.BriefRetentionDays)
	count, err := s.briefService.DeleteGeneratedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: brief cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old briefs", "count", count)
	}
}

func (s *Service) deleteOldDayPreps(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.BriefRetentionDays).Format("2006-01-02")
	count, err := s.dayPrepService.DeleteBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: day prep cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old day preps", "count", count)
	}
}

func (s *Service) pruneReminders(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.ReminderRetentionDays)
	count, err := s.reminderService.DeleteBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: reminder cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned reminder ledger", "count", count)
	}
}
