// Package harvest fans artifact fetches out across every valid account
// and merges the results. Merging deduplicates by provider id with
// first-seen-wins; one failing account never fails the batch as long as
// any account yields results.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/briefly-ai/briefly/pkg/config"
	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/provider"
)

// MailAPI is the slice of the mail client the harvester needs.
type MailAPI interface {
	ListMessages(ctx context.Context, token, query string, max int) ([]models.EmailArtifact, error)
}

// DriveAPI is the slice of the drive client the harvester needs.
type DriveAPI interface {
	ListFiles(ctx context.Context, token, query string, max int) ([]models.DocumentArtifact, error)
	FetchContent(ctx context.Context, token string, doc *models.DocumentArtifact) error
}

// CalendarAPI is the slice of the calendar client the harvester needs.
type CalendarAPI interface {
	ListHistory(ctx context.Context, token string, from, to time.Time, max int) ([]models.CalendarArtifact, error)
}

// Result carries the merged artifacts of one fan-out plus per-account
// status.
type Result[T any] struct {
	Items    []T
	Statuses []models.AccountFetchStatus
}

// Failed reports whether no account contributed results.
func (r *Result[T]) Failed() bool {
	for _, s := range r.Statuses {
		if s.OK {
			return false
		}
	}
	return len(r.Statuses) > 0
}

// AllRevoked reports whether every account failed with a revoked token.
func (r *Result[T]) AllRevoked() bool {
	if len(r.Statuses) == 0 {
		return false
	}
	for _, s := range r.Statuses {
		if s.OK || !s.Revoked {
			return false
		}
	}
	return true
}

// Harvester fans fetches out across accounts.
type Harvester struct {
	mail     MailAPI
	drive    DriveAPI
	calendar CalendarAPI
	cfg      *config.PipelineConfig
	logger   *slog.Logger
}

// NewHarvester creates a harvester over the three provider surfaces.
func NewHarvester(mail MailAPI, drive DriveAPI, calendar CalendarAPI, cfg *config.PipelineConfig, logger *slog.Logger) *Harvester {
	return &Harvester{
		mail:     mail,
		drive:    drive,
		calendar: calendar,
		cfg:      cfg,
		logger:   logger.With("component", "harvester"),
	}
}

// FetchEmails gathers emails for the meeting across all accounts,
// deduplicated by message id and filtered to the lookback window. A
// post-fetch filter drops anything dated after the meeting.
func (h *Harvester) FetchEmails(ctx context.Context, accounts []*models.Account, meeting *models.Meeting, user *models.User) (*Result[models.EmailArtifact], error) {
	query := buildMailQuery(meeting, user)
	h.logger.Debug("harvesting emails", "query", query, "accounts", len(accounts))

	result, err := fanOut(ctx, accounts, func(ctx context.Context, acct *models.Account) ([]models.EmailArtifact, error) {
		return h.mail.ListMessages(ctx, acct.AccessToken, query, h.cfg.MaxEmails)
	})
	if err != nil {
		return nil, err
	}

	merged := dedupe(result.Items, func(e models.EmailArtifact) string { return e.ID })
	filtered := merged[:0]
	earliest := meeting.Start.Add(-models.EmailLookback)
	for _, e := range merged {
		ts := e.Time()
		if !ts.IsZero() && (ts.After(meeting.Start) || ts.Before(earliest)) {
			continue
		}
		filtered = append(filtered, e)
	}
	if len(filtered) > h.cfg.MaxEmails {
		filtered = filtered[:h.cfg.MaxEmails]
	}
	result.Items = filtered
	return result, nil
}

// FetchFiles gathers documents for the meeting across all accounts,
// deduplicated by file id, and loads content for the most recently
// modified exportable files up to the analysis cap.
func (h *Harvester) FetchFiles(ctx context.Context, accounts []*models.Account, meeting *models.Meeting, user *models.User) (*Result[models.DocumentArtifact], error) {
	query := buildDriveQuery(meeting, user)
	h.logger.Debug("harvesting files", "query", query, "accounts", len(accounts))

	var mu sync.Mutex
	tokens := make(map[string]string)

	result, err := fanOut(ctx, accounts, func(ctx context.Context, acct *models.Account) ([]models.DocumentArtifact, error) {
		files, err := h.drive.ListFiles(ctx, acct.AccessToken, query, h.cfg.MaxFiles)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		for _, f := range files {
			if _, ok := tokens[f.ID]; !ok {
				tokens[f.ID] = acct.AccessToken
			}
		}
		mu.Unlock()
		return files, nil
	})
	if err != nil {
		return nil, err
	}

	merged := dedupe(result.Items, func(d models.DocumentArtifact) string { return d.ID })
	filtered := merged[:0]
	earliest := meeting.Start.Add(-models.EmailLookback)
	for _, d := range merged {
		if d.ModifiedTime.After(meeting.Start) || d.ModifiedTime.Before(earliest) {
			continue
		}
		filtered = append(filtered, d)
	}
	if len(filtered) > h.cfg.MaxFiles {
		filtered = filtered[:h.cfg.MaxFiles]
	}

	// Content only for the analysis window; the rest stays metadata.
	for i := range filtered {
		if i >= h.cfg.MaxAnalyzedDocs {
			break
		}
		token := tokens[filtered[i].ID]
		if err := h.drive.FetchContent(ctx, token, &filtered[i]); err != nil {
			h.logger.Warn("failed to fetch document content",
				"file", filtered[i].ID, "error", err)
		}
	}
	result.Items = filtered
	return result, nil
}

// FetchCalendar gathers calendar history in the 180-day lookback window
// across all accounts, deduplicated by event id.
func (h *Harvester) FetchCalendar(ctx context.Context, accounts []*models.Account, meeting *models.Meeting) (*Result[models.CalendarArtifact], error) {
	from := meeting.Start.Add(-models.CalendarLookback)
	result, err := fanOut(ctx, accounts, func(ctx context.Context, acct *models.Account) ([]models.CalendarArtifact, error) {
		return h.calendar.ListHistory(ctx, acct.AccessToken,
			from, meeting.Start, h.cfg.MaxCalendarEvents)
	})
	if err != nil {
		return nil, err
	}
	merged := dedupe(result.Items, func(c models.CalendarArtifact) string { return c.ID })
	if len(merged) > h.cfg.MaxCalendarEvents {
		merged = merged[:h.cfg.MaxCalendarEvents]
	}
	result.Items = merged
	return result, nil
}

// BatchError converts an all-accounts failure into the pipeline error
// the stream surfaces: 401-equivalent when every failure is a
// revocation, 503-equivalent otherwise. Returns nil when any account
// succeeded.
func BatchError[T any](r *Result[T]) error {
	if !r.Failed() {
		return nil
	}
	var failures []models.AccountFailure
	for _, s := range r.Statuses {
		failures = append(failures, models.AccountFailure{
			Email:     s.AccountEmail,
			IsRevoked: s.Revoked,
			Message:   s.Error,
		})
	}
	if r.AllRevoked() {
		return models.NewNoValidAccountsError(failures)
	}
	return &models.PipelineError{
		Kind:           models.ErrKindTransientProvider,
		Status:         503,
		Message:        "all connected accounts failed to fetch",
		FailedAccounts: failures,
	}
}

// fanOut runs fetch concurrently per account and collects results in
// account order along with per-account status.
func fanOut[T any](ctx context.Context, accounts []*models.Account, fetch func(context.Context, *models.Account) ([]T, error)) (*Result[T], error) {
	perAccount := make([][]T, len(accounts))
	statuses := make([]models.AccountFetchStatus, len(accounts))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, acct := range accounts {
		eg.Go(func() error {
			items, err := fetch(egCtx, acct)
			status := models.AccountFetchStatus{AccountEmail: acct.Email}
			if err != nil {
				status.Error = err.Error()
				status.Revoked = errors.Is(err, provider.ErrUnauthorized) ||
					errors.Is(err, models.ErrTokenRevoked)
			} else {
				status.OK = true
				status.Count = len(items)
				perAccount[i] = items
			}
			statuses[i] = status
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("harvest fan-out failed: %w", err)
	}

	result := &Result[T]{Statuses: statuses}
	for _, items := range perAccount {
		result.Items = append(result.Items, items...)
	}
	return result, nil
}

// dedupe keeps the first occurrence of each id.
func dedupe[T any](items []T, id func(T) string) []T {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, it := range items {
		key := id(it)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}
