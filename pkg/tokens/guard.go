// Package tokens keeps provider access tokens fresh. A Guard serializes
// refresh calls per account so concurrent pipeline runs never race a
// refresh, and maps provider invalid_grant responses onto revocation.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/briefly-ai/briefly/pkg/config"
	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/services"
)

// Skew is how far before actual expiry a token is treated as expired.
const Skew = 5 * time.Minute

// googleTokenURL is the default refresh endpoint when none is configured.
const googleTokenURL = "https://oauth2.googleapis.com/token"

// AccountStore is the slice of the account service the guard needs.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error
	MarkRevoked(ctx context.Context, id string) error
}

var _ AccountStore = (*services.AccountService)(nil)

// Guard serializes token refreshes per account.
type Guard struct {
	accounts AccountStore
	oauth    *oauth2.Config
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGuard creates a token guard backed by the account store.
func NewGuard(accounts AccountStore, cfg *config.OAuthConfig, logger *slog.Logger) *Guard {
	if accounts == nil {
		panic("NewGuard: accounts must not be nil")
	}
	tokenURL := googleTokenURL
	var clientID, clientSecret string
	if cfg != nil {
		clientID = cfg.ClientID
		clientSecret = cfg.ClientSecret
		if cfg.TokenURL != "" {
			tokenURL = cfg.TokenURL
		}
	}
	return &Guard{
		accounts: accounts,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		logger: logger.With("component", "token_guard"),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// EnsureValid returns the account with a usable access token, refreshing
// it first if expired or expiring within the skew. Returns
// models.ErrTokenRevoked when the provider rejects the refresh token.
func (g *Guard) EnsureValid(ctx context.Context, acct *models.Account) (*models.Account, error) {
	if acct.Status == models.AccountStatusRevoked {
		return nil, fmt.Errorf("account %s: %w", acct.Email, models.ErrTokenRevoked)
	}
	if !acct.TokenExpired(g.now(), Skew) {
		return acct, nil
	}

	lock := g.lockFor(acct.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read after acquiring the lock: another caller may have
	// refreshed while we waited.
	fresh, err := g.accounts.GetByID(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload account %s: %w", acct.Email, err)
	}
	if fresh.Status == models.AccountStatusRevoked {
		return nil, fmt.Errorf("account %s: %w", fresh.Email, models.ErrTokenRevoked)
	}
	if !fresh.TokenExpired(g.now(), Skew) {
		return fresh, nil
	}

	return g.refresh(ctx, fresh)
}

func (g *Guard) refresh(ctx context.Context, acct *models.Account) (*models.Account, error) {
	if acct.RefreshToken == "" {
		g.markRevoked(ctx, acct)
		return nil, fmt.Errorf("account %s has no refresh token: %w", acct.Email, models.ErrTokenRevoked)
	}

	src := g.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: acct.RefreshToken,
		Expiry:       g.now().Add(-time.Hour),
	})
	tok, err := fetchToken(ctx, src)
	if err != nil {
		if isInvalidGrant(err) {
			g.logger.Warn("refresh token rejected, marking account revoked",
				"account", acct.Email)
			g.markRevoked(ctx, acct)
			return nil, fmt.Errorf("account %s: %w", acct.Email, models.ErrTokenRevoked)
		}
		return nil, fmt.Errorf("failed to refresh token for %s: %w", acct.Email, err)
	}

	expiry := tok.Expiry
	if err := g.accounts.UpdateTokens(ctx, acct.ID, tok.AccessToken, tok.RefreshToken, &expiry); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token for %s: %w", acct.Email, err)
	}

	out := *acct
	out.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		out.RefreshToken = tok.RefreshToken
	}
	out.ExpiresAt = &expiry
	g.logger.Debug("refreshed access token", "account", acct.Email, "expires_at", expiry)
	return &out, nil
}

// fetchToken performs the refresh call, retrying a transient failure
// once with exponential backoff. invalid_grant is terminal and never
// retried.
func fetchToken(ctx context.Context, src oauth2.TokenSource) (*oauth2.Token, error) {
	var tok *oauth2.Token
	operation := func() error {
		t, err := src.Token()
		if err != nil {
			if isInvalidGrant(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		tok = t
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return tok, nil
}

// EnsureAllValid validates every account concurrently and partitions the
// results. When no account survives it returns the 401-equivalent
// pipeline error carrying per-account diagnostics.
func (g *Guard) EnsureAllValid(ctx context.Context, accts []*models.Account) ([]*models.Account, []models.AccountFailure, error) {
	valid := make([]*models.Account, len(accts))
	failures := make([]*models.AccountFailure, len(accts))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, acct := range accts {
		eg.Go(func() error {
			fresh, err := g.EnsureValid(egCtx, acct)
			if err != nil {
				failures[i] = &models.AccountFailure{
					Email:     acct.Email,
					IsRevoked: errors.Is(err, models.ErrTokenRevoked),
					Message:   err.Error(),
				}
				return nil
			}
			valid[i] = fresh
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	var out []*models.Account
	var failed []models.AccountFailure
	for i := range accts {
		if valid[i] != nil {
			out = append(out, valid[i])
		} else if failures[i] != nil {
			failed = append(failed, *failures[i])
		}
	}
	if len(out) == 0 && len(accts) > 0 {
		return nil, failed, models.NewNoValidAccountsError(failed)
	}
	return out, failed, nil
}

func (g *Guard) markRevoked(ctx context.Context, acct *models.Account) {
	if err := g.accounts.MarkRevoked(ctx, acct.ID); err != nil {
		g.logger.Error("failed to mark account revoked", "account", acct.Email, "error", err)
	}
}

func (g *Guard) lockFor(accountID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[accountID] = lock
	}
	return lock
}

// isInvalidGrant detects the terminal refresh failure. The oauth2
// package surfaces it as a *RetrieveError with the provider's JSON body.
func isInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return true
		}
		return strings.Contains(string(re.Body), "invalid_grant")
	}
	return false
}
