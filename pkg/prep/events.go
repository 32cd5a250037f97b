package prep

import (
	"context"
	"sync"
	"time"

	"github.com/briefly-ai/briefly/pkg/models"
)

// Event types on the prep stream.
const (
	EventProgress  = "progress"
	EventKeepalive = "keepalive"
	EventComplete  = "complete"
	EventError     = "error"
)

// Pipeline step names, in emission order.
const (
	StepStarting              = "starting"
	StepFetchingContext       = "fetching_context"
	StepFetchingData          = "fetching_data"
	StepResearchingAttendees  = "researching_attendees"
	StepAnalyzingEmails       = "analyzing_emails"
	StepAnalyzingDocuments    = "analyzing_documents"
	StepAnalyzingRelations    = "analyzing_relationships"
	StepAnalyzingContribution = "analyzing_contributions"
	StepSynthesizingNarrative = "synthesizing_narrative"
	StepBuildingTimeline      = "building_timeline"
	StepGeneratingSummary     = "generating_summary"
	StepComplete              = "complete"
)

// Event is one NDJSON line on the prep stream.
type Event struct {
	Type           string         `json:"type"`
	Step           string         `json:"step,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	Data           map[string]any `json:"data,omitempty"`

	// Keepalive.
	Message string `json:"message,omitempty"`

	// Complete.
	Brief *models.Brief `json:"brief,omitempty"`

	// Error.
	Status         int                     `json:"status,omitempty"`
	Error          models.ErrorKind        `json:"error,omitempty"`
	RequestID      string                  `json:"requestId,omitempty"`
	Revoked        bool                    `json:"revoked,omitempty"`
	FailedAccounts []models.AccountFailure `json:"failed_accounts,omitempty"`
}

// emitter serializes events onto the stream and tracks the last
// emission time for the keepalive watchdog.
type emitter struct {
	ch        chan Event
	start     time.Time
	requestID string

	mu   sync.Mutex
	last time.Time
}

func newEmitter(requestID string) *emitter {
	now := time.Now()
	return &emitter{
		ch:        make(chan Event, 16),
		start:     now,
		requestID: requestID,
		last:      now,
	}
}

// send stamps and delivers the event. Delivery aborts when the consumer
// is gone.
func (e *emitter) send(ctx context.Context, ev Event) {
	now := time.Now()
	ev.Timestamp = now
	ev.ElapsedSeconds = now.Sub(e.start).Seconds()

	e.mu.Lock()
	e.last = now
	e.mu.Unlock()

	select {
	case e.ch <- ev:
	case <-ctx.Done():
	}
}

func (e *emitter) progress(ctx context.Context, step string, data map[string]any) {
	e.send(ctx, Event{Type: EventProgress, Step: step, Data: data})
}

func (e *emitter) sinceLast() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Since(e.last)
}

// watchdog emits a keepalive whenever the stream has been silent for
// the given interval. Runs until the context is cancelled.
func (e *emitter) watchdog(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval / 4)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if e.sinceLast() >= interval {
				e.send(ctx, Event{Type: EventKeepalive, Message: "still working"})
			}
		}
	}
}
