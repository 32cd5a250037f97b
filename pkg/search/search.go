// Package search defines the optional web-search capability. The
// researcher takes a Provider as an injected dependency; a nil provider
// degrades attendee research to email-only facts.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/briefly-ai/briefly/pkg/config"
)

// DefaultTimeout bounds one search call across all queries.
const DefaultTimeout = 60 * time.Second

// Limits tunes one search invocation.
type Limits struct {
	MaxResults        int `json:"max_results,omitempty"`
	MaxCharsPerResult int `json:"max_chars_per_result,omitempty"`
}

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Excerpt string `json:"excerpt"`
}

// Response carries results across all queries plus partial-failure
// warnings.
type Response struct {
	Results  []Result `json:"results"`
	Warnings []string `json:"warnings,omitempty"`
}

// Provider runs several queries against a search backend in one call.
type Provider interface {
	Search(ctx context.Context, objective string, queries []string, limits Limits) (*Response, error)
}

// HTTPProvider implements Provider against a parallel-search endpoint.
type HTTPProvider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider from config. Returns nil when no
// endpoint is configured, which callers treat as search-disabled.
func NewHTTPProvider(cfg *config.SearchConfig) *HTTPProvider {
	if !cfg.Enabled() {
		return nil
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPProvider{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Objective string   `json:"objective"`
	Queries   []string `json:"search_queries"`
	Limits
}

// Search posts all queries in one request and returns merged results.
func (p *HTTPProvider) Search(ctx context.Context, objective string, queries []string, limits Limits) (*Response, error) {
	payload, err := json.Marshal(searchRequest{Objective: objective, Queries: queries, Limits: limits})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint returned %d", resp.StatusCode)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &out, nil
}
