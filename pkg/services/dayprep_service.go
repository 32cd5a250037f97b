package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/briefly-ai/briefly/pkg/models"
)

// DayPrepService persists day preps keyed by (user_id, date).
type DayPrepService struct {
	db *sqlx.DB
}

// NewDayPrepService creates a new DayPrepService.
func NewDayPrepService(db *sqlx.DB) *DayPrepService {
	if db == nil {
		panic("NewDayPrepService: db must not be nil")
	}
	return &DayPrepService{db: db}
}

// Upsert writes the day prep, replacing any previous one for the date.
func (s *DayPrepService) Upsert(ctx context.Context, prep *models.DayPrep) error {
	if prep.UserID == "" || prep.Date == "" {
		return NewValidationError("date", "user_id and date are required")
	}
	payload, err := json.Marshal(prep)
	if err != nil {
		return fmt.Errorf("failed to marshal day prep: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO day_preps (user_id, date, payload, generated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, date) DO UPDATE SET
		   payload = EXCLUDED.payload,
		   generated_at = EXCLUDED.generated_at`,
		prep.UserID, prep.Date, payload, prep.Generated)
	if err != nil {
		return fmt.Errorf("failed to upsert day prep: %w", err)
	}
	return nil
}

// DeleteBefore removes day preps for dates strictly before the given
// day (YYYY-MM-DD) and returns how many rows were deleted.
func (s *DayPrepService) DeleteBefore(ctx context.Context, date string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM day_preps WHERE date < $1`, date)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old day preps: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n, nil
}

// Get loads the day prep for one date (YYYY-MM-DD).
func (s *DayPrepService) Get(ctx context.Context, userID, date string) (*models.DayPrep, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM day_preps WHERE user_id = $1 AND date = $2`,
		userID, date)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get day prep: %w", err)
	}
	var prep models.DayPrep
	if err := json.Unmarshal(payload, &prep); err != nil {
		return nil, fmt.Errorf("failed to unmarshal day prep: %w", err)
	}
	return &prep, nil
}
