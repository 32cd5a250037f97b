package services

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/briefly-ai/briefly/pkg/models"
)

// AccountService handles connected provider accounts and their tokens.
type AccountService struct {
	db *sqlx.DB
}

// NewAccountService creates a new AccountService.
func NewAccountService(db *sqlx.DB) *AccountService {
	if db == nil {
		panic("NewAccountService: db must not be nil")
	}
	return &AccountService{db: db}
}

const accountColumns = `id, user_id, provider, email, access_token, refresh_token,
	expires_at, scopes, is_primary, status, updated_at`

// GetByID fetches one account.
func (s *AccountService) GetByID(ctx context.Context, id string) (*models.Account, error) {
	var acct models.Account
	err := s.db.GetContext(ctx, &acct,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &acct, nil
}

// ListByUser returns all of a user's connected accounts, primary first.
func (s *AccountService) ListByUser(ctx context.Context, userID string) ([]*models.Account, error) {
	var accts []*models.Account
	err := s.db.SelectContext(ctx, &accts,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE user_id = $1 ORDER BY is_primary DESC, email`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accts, nil
}

// ListActiveByUser returns the user's non-revoked accounts, primary first.
func (s *AccountService) ListActiveByUser(ctx context.Context, userID string) ([]*models.Account, error) {
	var accts []*models.Account
	err := s.db.SelectContext(ctx, &accts,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE user_id = $1 AND status = $2 ORDER BY is_primary DESC, email`,
		userID, models.AccountStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}
	return accts, nil
}

// Connect upserts an account by (user_id, provider, email). A reconnect
// of a previously revoked account resets it to active.
func (s *AccountService) Connect(ctx context.Context, acct *models.Account) (*models.Account, error) {
	if strings.TrimSpace(acct.Email) == "" {
		return nil, NewValidationError("email", "account email is required")
	}
	if acct.Provider == "" {
		acct.Provider = "google"
	}
	var out models.Account
	err := s.db.GetContext(ctx, &out,
		`INSERT INTO accounts (user_id, provider, email, access_token, refresh_token,
		                       expires_at, scopes, is_primary, status, updated_at)
		 VALUES ($1, $2, lower($3), $4, $5, $6, $7, $8, $9, now())
		 ON CONFLICT (user_id, provider, email) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   expires_at = EXCLUDED.expires_at,
		   scopes = EXCLUDED.scopes,
		   status = EXCLUDED.status,
		   updated_at = now()
		 RETURNING `+accountColumns,
		acct.UserID, acct.Provider, acct.Email, acct.AccessToken, acct.RefreshToken,
		acct.ExpiresAt, acct.Scopes, acct.IsPrimary, models.AccountStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to connect account: %w", err)
	}
	return &out, nil
}

// UpdateTokens stores a refreshed token pair. An empty refresh token
// keeps the existing one (providers often omit it on refresh).
func (s *AccountService) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts
		 SET access_token = $2,
		     refresh_token = CASE WHEN $3 = '' THEN refresh_token ELSE $3 END,
		     expires_at = $4,
		     updated_at = now()
		 WHERE id = $1`,
		id, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRevoked flags the account so later runs skip it until reconnect.
func (s *AccountService) MarkRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET status = $2, updated_at = now() WHERE id = $1`,
		id, models.AccountStatusRevoked)
	if err != nil {
		return fmt.Errorf("failed to mark account revoked: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Disconnect removes the account entirely.
func (s *AccountService) Disconnect(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to disconnect account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
