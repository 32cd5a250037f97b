// Package llm provides the Anthropic-backed completion client used by
// every pipeline stage, plus the tolerant JSON reader for model output.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
)

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 60 * time.Second

// maxAttempts is the retry budget for rate-limit and 5xx failures.
const maxAttempts = 3

// ErrRateLimited marks a 429 that survived all retry attempts.
var ErrRateLimited = errors.New("llm rate limited")

// Request is a single tool-less completion request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Client is the completion surface the pipeline stages depend on.
// Implemented by AnthropicClient; tests substitute fakes.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// MessagesClient is the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService so tests can pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Config holds AnthropicClient settings.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int           // default completion cap when Request.MaxTokens is zero
	Timeout     time.Duration // per-call bound; DefaultTimeout when zero
	Temperature float64
}

// AnthropicClient implements Client over the Anthropic Messages API
// with bounded timeouts and exponential-backoff retry on 429/5xx.
type AnthropicClient struct {
	msg     MessagesClient
	model   string
	maxTok  int
	timeout time.Duration
	temp    float64
	logger  *slog.Logger
}

// NewAnthropicClient builds a client from an API key.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return NewAnthropicClientWithMessages(&ac.Messages, cfg)
}

// NewAnthropicClientWithMessages builds a client over a pre-built
// messages client. Useful for testing with a mock API.
func NewAnthropicClientWithMessages(msg MessagesClient, cfg Config) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("llm: messages client is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm: model identifier is required")
	}
	maxTok := cfg.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &AnthropicClient{
		msg:     msg,
		model:   cfg.Model,
		maxTok:  maxTok,
		timeout: timeout,
		temp:    cfg.Temperature,
		logger:  slog.Default().With("component", "llm-client"),
	}, nil
}

// Complete issues a Messages.New call and returns the concatenated text
// blocks. 429 and 5xx responses are retried up to maxAttempts with
// exponential backoff, honoring a provider-supplied retry-after.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	params := c.buildParams(req)

	var text string
	var serverWait time.Duration
	attempt := 0
	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		msg, err := c.msg.New(callCtx, params)
		if err != nil {
			retryable, wait := classify(err)
			if !retryable {
				return backoff.Permanent(err)
			}
			serverWait = wait
			return err
		}
		text = collectText(msg)
		return nil
	}

	delayed := &serverDelayBackOff{next: backoff.NewExponentialBackOff(), wait: &serverWait}
	policy := backoff.WithContext(backoff.WithMaxRetries(delayed, maxAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if retryable, _ := classify(err); retryable {
			c.logger.Warn("LLM rate limit retries exhausted", "attempts", attempt)
			return "", fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return "", fmt.Errorf("llm completion failed: %w", err)
	}
	return text, nil
}

// serverDelayBackOff overrides the exponential schedule with a
// provider-supplied retry-after delay when one is pending. The delay is
// consumed once; subsequent waits fall back to the wrapped schedule.
type serverDelayBackOff struct {
	next backoff.BackOff
	wait *time.Duration
}

func (b *serverDelayBackOff) NextBackOff() time.Duration {
	d := b.next.NextBackOff()
	if d == backoff.Stop {
		return backoff.Stop
	}
	if *b.wait > 0 {
		d = *b.wait
		*b.wait = 0
	}
	return d
}

func (b *serverDelayBackOff) Reset() { b.next.Reset() }

func (c *AnthropicClient) buildParams(req Request) sdk.MessageNewParams {
	maxTok := req.MaxTokens
	if maxTok <= 0 {
		maxTok = c.maxTok
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTok),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.temp
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	return params
}

func collectText(msg *sdk.Message) string {
	if msg == nil {
		return ""
	}
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// classify reports whether err is retryable (429 or 5xx) and extracts
// any provider-supplied retry-after delay.
func classify(err error) (retryable bool, wait time.Duration) {
	var apierr *sdk.Error
	if !errors.As(err, &apierr) {
		// Transport-level failures (timeouts, resets) are retryable.
		return !errors.Is(err, context.Canceled), 0
	}
	if apierr.StatusCode == 429 || apierr.StatusCode >= 500 {
		if apierr.Response != nil {
			if ra := apierr.Response.Header.Get("retry-after"); ra != "" {
				if secs, perr := strconv.Atoi(ra); perr == nil {
					wait = time.Duration(secs) * time.Second
				}
			}
		}
		return true, wait
	}
	return false, 0
}
