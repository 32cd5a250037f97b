package services

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/briefly-ai/briefly/pkg/models"
)

// UserService handles user lookup and creation.
type UserService struct {
	db *sqlx.DB
}

// NewUserService creates a new UserService.
func NewUserService(db *sqlx.DB) *UserService {
	if db == nil {
		panic("NewUserService: db must not be nil")
	}
	return &UserService{db: db}
}

// GetByID fetches a user by ID. The Emails slice is populated from the
// user's connected accounts.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user,
		`SELECT id, email, name, timezone, created_at FROM users WHERE id = $1`, id)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if err := s.attachEmails(ctx, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail fetches a user by primary email (case-insensitive).
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user,
		`SELECT id, email, name, timezone, created_at FROM users WHERE lower(email) = lower($1)`, email)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	if err := s.attachEmails(ctx, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Create inserts a new user.
func (s *UserService) Create(ctx context.Context, email, name, timezone string) (*models.User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, NewValidationError("email", "email is required")
	}
	if timezone == "" {
		timezone = "UTC"
	}
	var user models.User
	err := s.db.GetContext(ctx, &user,
		`INSERT INTO users (email, name, timezone) VALUES ($1, $2, $3)
		 RETURNING id, email, name, timezone, created_at`,
		strings.ToLower(email), name, timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.Emails = []string{user.Email}
	return &user, nil
}

// UpdateTimezone stores a new IANA timezone name for the user.
func (s *UserService) UpdateTimezone(ctx context.Context, id, timezone string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET timezone = $2 WHERE id = $1`, id, timezone)
	if err != nil {
		return fmt.Errorf("failed to update timezone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAll returns all users, emails attached. Used by the scheduler sweep.
func (s *UserService) ListAll(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	err := s.db.SelectContext(ctx, &users,
		`SELECT id, email, name, timezone, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	for _, u := range users {
		if err := s.attachEmails(ctx, u); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (s *UserService) attachEmails(ctx context.Context, user *models.User) error {
	var emails []string
	err := s.db.SelectContext(ctx, &emails,
		`SELECT email FROM accounts WHERE user_id = $1 ORDER BY is_primary DESC, email`, user.ID)
	if err != nil {
		return fmt.Errorf("failed to load account emails: %w", err)
	}
	if len(emails) == 0 {
		emails = []string{user.Email}
	}
	user.Emails = emails
	return nil
}
