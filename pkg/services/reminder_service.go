package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ReminderService records which meeting reminders have been pushed, so
// the per-minute scheduler job sends each at most once per day.
type ReminderService struct {
	db *sqlx.DB
}

// NewReminderService creates a new ReminderService.
func NewReminderService(db *sqlx.DB) *ReminderService {
	if db == nil {
		panic("NewReminderService: db must not be nil")
	}
	return &ReminderService{db: db}
}

// MarkSent records the reminder and reports whether this call was the
// first for (user, meeting, day). A false return means another sweep
// already sent it.
func (s *ReminderService) MarkSent(ctx context.Context, userID, meetingID string, day time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders_sent (user_id, meeting_id, sent_on)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, meeting_id, sent_on) DO NOTHING`,
		userID, meetingID, day.Format("2006-01-02"))
	if err != nil {
		return false, fmt.Errorf("failed to record reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read reminder result: %w", err)
	}
	return n == 1, nil
}

// DeleteBefore prunes dedupe rows for days strictly before the cutoff
// and returns how many rows were deleted.
func (s *ReminderService) DeleteBefore(ctx context.Context, day time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders_sent WHERE sent_on < $1`, day.Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old reminders: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n, nil
}
