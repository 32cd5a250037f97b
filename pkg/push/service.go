// Package push delivers notifications to a configured webhook.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/briefly-ai/briefly/pkg/config"
)

// DefaultTimeout bounds one webhook delivery.
const DefaultTimeout = 10 * time.Second

// Payload is the notification body. Data is opaque to the core; the
// consumer routes on data.type.
type Payload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// Notification types carried in Payload.Data["type"].
const (
	TypeBriefReady   = "brief_ready"
	TypeReminder     = "meeting_reminder"
	TypeDailySummary = "daily_summary"
)

// Service delivers push notifications.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	webhookURL string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewService creates a push service. Returns nil when no webhook URL is
// configured.
func NewService(cfg *config.PushConfig) *Service {
	if cfg == nil || cfg.WebhookURL == "" {
		return nil
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		webhookURL: cfg.WebhookURL,
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("component", "push-service"),
	}
}

// Notify delivers one notification for the user.
// Fail-open: errors are logged, never returned.
func (s *Service) Notify(ctx context.Context, userID string, payload Payload) {
	if s == nil {
		return
	}
	if err := s.post(ctx, userID, payload); err != nil {
		s.logger.Warn("push delivery failed", "user", userID, "title", payload.Title, "error", err)
		return
	}
	s.logger.Debug("push delivered", "user", userID, "title", payload.Title)
}

func (s *Service) post(ctx context.Context, userID string, payload Payload) error {
	body, err := json.Marshal(struct {
		UserID string `json:"user_id"`
		Payload
	}{UserID: userID, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push webhook returned %d", resp.StatusCode)
	}
	return nil
}
