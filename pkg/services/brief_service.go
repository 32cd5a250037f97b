package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/briefly-ai/briefly/pkg/models"
)

// BriefService persists generated briefs keyed by (user_id, meeting_id).
type BriefService struct {
	db *sqlx.DB
}

// NewBriefService creates a new BriefService.
func NewBriefService(db *sqlx.DB) *BriefService {
	if db == nil {
		panic("NewBriefService: db must not be nil")
	}
	return &BriefService{db: db}
}

// Upsert writes the brief, replacing any previous one for the same
// meeting. The one-liner column is denormalized for cheap list reads.
func (s *BriefService) Upsert(ctx context.Context, brief *models.Brief) error {
	if brief.UserID == "" || brief.MeetingID == "" {
		return NewValidationError("meeting_id", "user_id and meeting_id are required")
	}
	payload, err := json.Marshal(brief)
	if err != nil {
		return fmt.Errorf("failed to marshal brief: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO briefs (user_id, meeting_id, payload, one_liner, generated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, meeting_id) DO UPDATE SET
		   payload = EXCLUDED.payload,
		   one_liner = EXCLUDED.one_liner,
		   generated_at = EXCLUDED.generated_at`,
		brief.UserID, brief.MeetingID, payload, brief.OneLiner(), brief.Generated)
	if err != nil {
		return fmt.Errorf("failed to upsert brief: %w", err)
	}
	return nil
}

// Get loads one brief by its upsert key.
func (s *BriefService) Get(ctx context.Context, userID, meetingID string) (*models.Brief, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM briefs WHERE user_id = $1 AND meeting_id = $2`,
		userID, meetingID)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get brief: %w", err)
	}
	var brief models.Brief
	if err := json.Unmarshal(payload, &brief); err != nil {
		return nil, fmt.Errorf("failed to unmarshal brief: %w", err)
	}
	return &brief, nil
}

// Exists reports whether a brief has already been generated for the
// meeting. The scheduler sweep uses this to skip covered meetings.
func (s *BriefService) Exists(ctx context.Context, userID, meetingID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT count(*) FROM briefs WHERE user_id = $1 AND meeting_id = $2`,
		userID, meetingID)
	if err != nil {
		return false, fmt.Errorf("failed to check brief existence: %w", err)
	}
	return n > 0, nil
}

// BriefSummary is one row of the list view: key, one-liner, timestamp.
type BriefSummary struct {
	MeetingID   string    `db:"meeting_id" json:"meeting_id"`
	OneLiner    string    `db:"one_liner" json:"one_liner"`
	GeneratedAt time.Time `db:"generated_at" json:"generated_at"`
}

// DeleteGeneratedBefore removes briefs older than the cutoff and
// returns how many rows were deleted.
func (s *BriefService) DeleteGeneratedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM briefs WHERE generated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old briefs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n, nil
}

// ListGeneratedSince returns summaries of briefs generated at or after
// the given time, newest first.
func (s *BriefService) ListGeneratedSince(ctx context.Context, userID string, since time.Time) ([]BriefSummary, error) {
	var out []BriefSummary
	err := s.db.SelectContext(ctx, &out,
		`SELECT meeting_id, one_liner, generated_at FROM briefs
		 WHERE user_id = $1 AND generated_at >= $2
		 ORDER BY generated_at DESC`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list briefs: %w", err)
	}
	return out, nil
}
