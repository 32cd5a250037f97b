package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMessages struct {
	calls      int
	failFirst  int
	err        error
	lastParams sdk.MessageNewParams
}

func (s *stubMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.calls++
	s.lastParams = body
	if s.calls <= s.failFirst {
		return nil, s.err
	}
	return &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "narrative text"}},
	}, nil
}

func testClient(t *testing.T, stub *stubMessages) *AnthropicClient {
	t.Helper()
	c, err := NewAnthropicClientWithMessages(stub, Config{Model: "claude-sonnet-4-20250514"})
	require.NoError(t, err)
	return c
}

func TestCompleteRetriesTransientErrors(t *testing.T) {
	stub := &stubMessages{failFirst: 2, err: errors.New("connection reset by peer")}
	c := testClient(t, stub)

	got, err := c.Complete(context.Background(), Request{Prompt: "summarize"})
	require.NoError(t, err)
	assert.Equal(t, "narrative text", got)
	assert.Equal(t, 3, stub.calls, "two transient failures then success")
}

func TestCompleteDoesNotRetryCancellation(t *testing.T) {
	stub := &stubMessages{failFirst: 10, err: context.Canceled}
	c := testClient(t, stub)

	_, err := c.Complete(context.Background(), Request{Prompt: "summarize"})
	require.Error(t, err)
	assert.Equal(t, 1, stub.calls, "cancellation must not be retried")
}

func TestCompleteExhaustedRetriesWrapRateLimited(t *testing.T) {
	stub := &stubMessages{failFirst: 10, err: errors.New("stream error: INTERNAL_ERROR")}
	c := testClient(t, stub)

	_, err := c.Complete(context.Background(), Request{Prompt: "summarize"})
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, maxAttempts, stub.calls)
}

func TestCompleteBuildsParams(t *testing.T) {
	stub := &stubMessages{}
	c := testClient(t, stub)

	_, err := c.Complete(context.Background(), Request{
		System:    "You prepare meeting briefs.",
		Prompt:    "summarize",
		MaxTokens: 512,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(512), stub.lastParams.MaxTokens)
	require.Len(t, stub.lastParams.System, 1)
	assert.Equal(t, "You prepare meeting briefs.", stub.lastParams.System[0].Text)
}

func TestServerDelayBackOffHonorsProviderWait(t *testing.T) {
	wait := 2 * time.Second
	b := &serverDelayBackOff{next: backoff.NewExponentialBackOff(), wait: &wait}

	assert.Equal(t, 2*time.Second, b.NextBackOff(), "pending retry-after wins over the schedule")
	assert.Equal(t, time.Duration(0), wait, "the provider delay is consumed once")
	assert.Less(t, b.NextBackOff(), time.Second, "later waits fall back to the exponential schedule")
}

func TestServerDelayBackOffPropagatesStop(t *testing.T) {
	wait := 2 * time.Second
	b := &serverDelayBackOff{next: &backoff.StopBackOff{}, wait: &wait}
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}
