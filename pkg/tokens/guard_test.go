package tokens

import (
	"context"
	"fmt"
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
)

type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	updates  int
	revoked  []string
}

func newFakeStore(accts ...*models.Account) *fakeStore {
	s := &fakeStore{accounts: make(map[string]*models.Account)}
	for _, a := range accts {
		copied := *a
		s.accounts[a.ID] = &copied
	}
	return s
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s not found", id)
	}
	copied := *a
	return &copied, nil
}

func (s *fakeStore) UpdateTokens(_ context.Context, id, access, refresh string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[id]
	a.AccessToken = access
	if refresh != "" {
		a.RefreshToken = refresh
	}
	a.ExpiresAt = expiresAt
	s.updates++
	return nil
}

func (s *fakeStore) MarkRevoked(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id].Status = models.AccountStatusRevoked
	s.revoked = append(s.revoked, id)
	return nil
}

func testAccount(id string, expiresIn time.Duration) *models.Account {
	exp := time.Now().Add(expiresIn)
	return &models.Account{
		ID:           id,
		UserID:       "user-1",
		Email:        id + "@example.com",
		AccessToken:  "old-access",
		RefreshToken: "refresh-" + id,
		ExpiresAt:    &exp,
		Status:       models.AccountStatusActive,
	}
}

func newTestGuard(t *testing.T, store AccountStore, tokenURL string) *Guard {
	t.Helper()
	return NewGuard(store, &config.OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     tokenURL,
	}, slog.New(slog.NewTextHandler(&testWriter{t}, nil)))
}

type testWriter struct{ t *testing.T }

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func tokenServer(t *testing.T, status int, body string) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestEnsureValidFreshTokenPassthrough(t *testing.T) {
	acct := testAccount("a1", time.Hour)
	store := newFakeStore(acct)
	srv, calls := tokenServer(t, http.StatusOK, `{}`)
	guard := newTestGuard(t, store, srv.URL)

	got, err := guard.EnsureValid(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, "old-access", got.AccessToken)
	assert.Equal(t, 0, *calls, "fresh token must not trigger a refresh call")
}

func TestEnsureValidRefreshesWithinSkew(t *testing.T) {
	acct := testAccount("a1", 2*time.Minute)
	store := newFakeStore(acct)
	srv, calls := tokenServer(t, http.StatusOK,
		`{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`)
	guard := newTestGuard(t, store, srv.URL)

	got, err := guard.EnsureValid(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, 1, store.updates, "refreshed token must be persisted")
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.After(time.Now().Add(30*time.Minute)))
}

func TestEnsureValidRetriesTransientRefreshFailure(t *testing.T) {
	acct := testAccount("a1", -time.Minute)
	store := newFakeStore(acct)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"internal_failure"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	guard := newTestGuard(t, store, srv.URL)

	got, err := guard.EnsureValid(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, 2, calls, "a transient 5xx is retried once")
}

func TestEnsureValidInvalidGrantIsNotRetried(t *testing.T) {
	acct := testAccount("a1", -time.Minute)
	store := newFakeStore(acct)
	srv, calls := tokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	guard := newTestGuard(t, store, srv.URL)

	_, err := guard.EnsureValid(context.Background(), acct)
	require.ErrorIs(t, err, models.ErrTokenRevoked)
	assert.Equal(t, 1, *calls)
}

func TestEnsureValidDoubleCheckSkipsRefresh(t *testing.T) {
	stale := testAccount("a1", time.Minute)
	store := newFakeStore(stale)
	// Simulate another caller having refreshed while we waited.
	fresh := time.Now().Add(time.Hour)
	store.accounts["a1"].AccessToken = "already-refreshed"
	store.accounts["a1"].ExpiresAt = &fresh

	srv, calls := tokenServer(t, http.StatusOK, `{}`)
	guard := newTestGuard(t, store, srv.URL)

	got, err := guard.EnsureValid(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, "already-refreshed", got.AccessToken)
	assert.Equal(t, 0, *calls)
}

func TestEnsureValidInvalidGrantMarksRevoked(t *testing.T) {
	acct := testAccount("a1", -time.Minute)
	store := newFakeStore(acct)
	srv, _ := tokenServer(t, http.StatusBadRequest,
		`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	guard := newTestGuard(t, store, srv.URL)

	_, err := guard.EnsureValid(context.Background(), acct)
	require.ErrorIs(t, err, models.ErrTokenRevoked)
	assert.Equal(t, []string{"a1"}, store.revoked)
}

func TestEnsureValidRevokedAccountShortCircuits(t *testing.T) {
	acct := testAccount("a1", time.Hour)
	acct.Status = models.AccountStatusRevoked
	store := newFakeStore(acct)
	srv, calls := tokenServer(t, http.StatusOK, `{}`)
	guard := newTestGuard(t, store, srv.URL)

	_, err := guard.EnsureValid(context.Background(), acct)
	require.ErrorIs(t, err, models.ErrTokenRevoked)
	assert.Equal(t, 0, *calls)
}

func TestEnsureValidMissingRefreshToken(t *testing.T) {
	acct := testAccount("a1", -time.Minute)
	acct.RefreshToken = ""
	store := newFakeStore(acct)
	srv, calls := tokenServer(t, http.StatusOK, `{}`)
	guard := newTestGuard(t, store, srv.URL)

	_, err := guard.EnsureValid(context.Background(), acct)
	require.ErrorIs(t, err, models.ErrTokenRevoked)
	assert.Equal(t, 0, *calls)
	assert.Equal(t, []string{"a1"}, store.revoked)
}

func TestEnsureAllValidPartitionsFailures(t *testing.T) {
	good := testAccount("good", time.Hour)
	bad := testAccount("bad", -time.Minute)
	store := newFakeStore(good, bad)
	srv, _ := tokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	guard := newTestGuard(t, store, srv.URL)

	valid, failed, err := guard.EnsureAllValid(context.Background(), []*models.Account{good, bad})
	require.NoError(t, err)
	require.Len(t, valid, 1)
	assert.Equal(t, "good", valid[0].ID)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad@example.com", failed[0].Email)
	assert.True(t, failed[0].IsRevoked)
}

func TestEnsureAllValidAllRevoked(t *testing.T) {
	a := testAccount("a1", -time.Minute)
	b := testAccount("b1", -time.Minute)
	store := newFakeStore(a, b)
	srv, _ := tokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	guard := newTestGuard(t, store, srv.URL)

	valid, failed, err := guard.EnsureAllValid(context.Background(), []*models.Account{a, b})
	assert.Nil(t, valid)
	assert.Len(t, failed, 2)

	var perr *models.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrKindNoValidAccounts, perr.Kind)
	assert.Equal(t, 401, perr.Status)
	assert.True(t, perr.Revoked)
	require.ErrorIs(t, err, models.ErrNoValidAccounts)
}
