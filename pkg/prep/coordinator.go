// Package prep orchestrates one brief generation as a stream of NDJSON
// events: progress at each stage boundary, keepalives during long LLM
// calls, and a terminal complete or error event.
package prep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/briefly-ai/briefly/pkg/classify"
	"github.com/briefly-ai/briefly/pkg/harvest"
	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/purpose"
	"github.com/briefly-ai/briefly/pkg/relevance"
	"github.com/briefly-ai/briefly/pkg/research"
	"github.com/briefly-ai/briefly/pkg/synthesis"
	"github.com/briefly-ai/briefly/pkg/tokens"
)

// KeepaliveInterval is the silence threshold before a keepalive event
// is inserted into the stream.
const KeepaliveInterval = 10 * time.Second

// AccountSource lists the user's connected accounts.
type AccountSource interface {
	ListActiveByUser(ctx context.Context, userID string) ([]*models.Account, error)
}

// Coordinator drives the full prep pipeline for one meeting.
type Coordinator struct {
	accounts    AccountSource
	guard       *tokens.Guard
	harvester   *harvest.Harvester
	classifier  *classify.Classifier
	detector    *purpose.Detector
	pipeline    *relevance.Pipeline
	researcher  *research.Researcher
	synthesizer *synthesis.Synthesizer
	logger      *slog.Logger

	keepalive time.Duration
}

func NewCoordinator(
	accounts AccountSource,
	guard *tokens.Guard,
	harvester *harvest.Harvester,
	classifier *classify.Classifier,
	detector *purpose.Detector,
	pipeline *relevance.Pipeline,
	researcher *research.Researcher,
	synthesizer *synthesis.Synthesizer,
	logger *slog.Logger,
) *Coordinator {
	if accounts == nil || guard == nil || harvester == nil || classifier == nil ||
		detector == nil || pipeline == nil || researcher == nil || synthesizer == nil {
		panic("prep: all coordinator dependencies are required")
	}
	return &Coordinator{
		accounts:    accounts,
		guard:       guard,
		harvester:   harvester,
		classifier:  classifier,
		detector:    detector,
		pipeline:    pipeline,
		researcher:  researcher,
		synthesizer: synthesizer,
		logger:      logger.With("component", "prep"),
		keepalive:   KeepaliveInterval,
	}
}

// Run starts the prep pipeline and returns the event stream. The
// channel closes after the terminal complete or error event, or when
// ctx is cancelled (cancellation propagates silently, no error event).
func (c *Coordinator) Run(ctx context.Context, meeting *models.Meeting, user *models.User) <-chan Event {
	requestID := uuid.NewString()
	em := newEmitter(requestID)

	go func() {
		watchCtx, stopWatchdog := context.WithCancel(ctx)
		watchdogDone := make(chan struct{})
		go func() {
			defer close(watchdogDone)
			em.watchdog(watchCtx, c.keepalive)
		}()

		c.run(ctx, em, meeting, user)

		// The watchdog must be fully stopped before the channel closes,
		// or a late keepalive would send on a closed channel.
		stopWatchdog()
		<-watchdogDone
		close(em.ch)
	}()
	return em.ch
}

func (c *Coordinator) run(ctx context.Context, em *emitter, meeting *models.Meeting, user *models.User) {
	logger := c.logger.With("request_id", em.requestID, "meeting", meeting.ID, "user", user.ID)
	started := time.Now()

	em.progress(ctx, StepStarting, map[string]any{"request_id": em.requestID})

	if meeting.ID == "" || meeting.Start.IsZero() {
		c.fail(ctx, em, &models.PipelineError{
			Kind:    models.ErrKindInvalidMeeting,
			Status:  400,
			Message: "meeting is missing an id or start time",
		})
		return
	}

	// Accounts and tokens come first: a fully revoked user fails before
	// any provider call.
	em.progress(ctx, StepFetchingContext, nil)
	accts, err := c.accounts.ListActiveByUser(ctx, user.ID)
	if err != nil {
		c.fail(ctx, em, &models.PipelineError{
			Kind: models.ErrKindTransientProvider, Status: 503,
			Message: "failed to load accounts", Err: err,
		})
		return
	}
	if len(accts) == 0 {
		c.fail(ctx, em, models.NewNoValidAccountsError(nil))
		return
	}
	valid, failures, err := c.guard.EnsureAllValid(ctx, accts)
	if err != nil {
		c.fail(ctx, em, err)
		return
	}

	classification := c.classifier.Classify(ctx, meeting, user)
	if classification.PrepDepth != models.PrepDepthFull {
		logger.Info("non-meeting classification, emitting minimal brief",
			"type", classification.Type, "depth", classification.PrepDepth)
		em.send(ctx, Event{Type: EventComplete, Step: StepComplete,
			Brief: minimalBrief(meeting, user, &classification)})
		return
	}
	if ctx.Err() != nil {
		return
	}

	em.progress(ctx, StepFetchingData, map[string]any{"accounts": len(valid)})
	emails, files, history, err := c.harvestAll(ctx, valid, meeting, user)
	if err != nil {
		c.fail(ctx, em, err)
		return
	}
	if ctx.Err() != nil {
		return
	}

	detected := c.detector.Detect(ctx, meeting, emails.Items)
	mc := relevance.MeetingContext{
		Title:       meeting.Title,
		Purpose:     detected,
		UserCompany: userCompany(user),
	}

	// Attendee research and the relevance passes are independent; only
	// synthesis needs both.
	em.progress(ctx, StepResearchingAttendees,
		map[string]any{"attendees": len(meeting.OtherAttendees(user))})
	var profiles []models.AttendeeProfile
	var emailResult relevance.EmailFilterResult
	var docResult relevance.DocumentFilterResult
	var insights []models.DocumentInsight
	var staleness []models.StalenessWarning
	var docWarnings []string
	var emailNarrative string

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		profiles = c.researcher.ResearchAll(egCtx, meeting, user, &research.Corpus{
			Emails:  emails.Items,
			History: history.Items,
		})
		return nil
	})
	eg.Go(func() error {
		em.progress(egCtx, StepAnalyzingEmails, map[string]any{"emails": len(emails.Items)})
		emailResult = c.pipeline.FilterEmails(egCtx, mc, meeting, emails.Items)
		ec, warnings := c.pipeline.ExtractContext(egCtx, mc, emailResult.Relevant)
		emailResult.Context = ec
		emailResult.Warnings = append(emailResult.Warnings, warnings...)
		emailNarrative = c.pipeline.SynthesizeNarrative(egCtx, mc, user.Name, &emailResult.Context)

		em.progress(egCtx, StepAnalyzingDocuments, map[string]any{"documents": len(files.Items)})
		docResult = c.pipeline.FilterDocuments(egCtx, mc, files.Items)
		insights, staleness, docWarnings = c.pipeline.AnalyzeDocuments(
			egCtx, mc, meeting, docResult.Relevant)
		return nil
	})
	_ = eg.Wait()
	if ctx.Err() != nil {
		return
	}

	synth := c.synthesizer.Synthesize(ctx, &synthesis.Input{
		Meeting:        meeting,
		User:           user,
		Purpose:        detected,
		Profiles:       profiles,
		Emails:         emailResult.Relevant,
		EmailNarrative: emailNarrative,
		Context:        emailResult.Context,
		Documents:      docResult.Relevant,
		DocInsights:    insights,
		History:        history.Items,
	}, func(stage string) {
		switch stage {
		case synthesis.StageRelationships, synthesis.StageContributions,
			synthesis.StageNarrative, synthesis.StageTimeline, synthesis.StageSummary:
			em.progress(ctx, stage, nil)
		}
	})
	if ctx.Err() != nil {
		return
	}

	brief := assembleBrief(meeting, user, &detected, profiles, &emailResult, emailNarrative,
		&docResult, insights, staleness, docWarnings, synth, emails, files, history,
		failures, time.Since(started))

	logger.Info("brief generated",
		"emails_relevant", brief.Stats.EmailsRelevant,
		"documents_analyzed", brief.Stats.DocumentsAnalyzed,
		"duration_ms", brief.Stats.DurationMs)
	em.send(ctx, Event{Type: EventComplete, Step: StepComplete, Brief: brief})
}

// harvestAll runs the three fetches concurrently. An all-accounts
// failure on any surface terminates the run.
func (c *Coordinator) harvestAll(ctx context.Context, accts []*models.Account, meeting *models.Meeting, user *models.User) (
	emails *harvest.Result[models.EmailArtifact],
	files *harvest.Result[models.DocumentArtifact],
	history *harvest.Result[models.CalendarArtifact],
	err error,
) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var ferr error
		emails, ferr = c.harvester.FetchEmails(egCtx, accts, meeting, user)
		if ferr != nil {
			return ferr
		}
		return harvest.BatchError(emails)
	})
	eg.Go(func() error {
		var ferr error
		files, ferr = c.harvester.FetchFiles(egCtx, accts, meeting, user)
		if ferr != nil {
			return ferr
		}
		return harvest.BatchError(files)
	})
	eg.Go(func() error {
		var ferr error
		history, ferr = c.harvester.FetchCalendar(egCtx, accts, meeting)
		if ferr != nil {
			return ferr
		}
		return harvest.BatchError(history)
	})
	if werr := eg.Wait(); werr != nil {
		return nil, nil, nil, werr
	}
	return emails, files, history, nil
}

// fail emits the terminal error event. Cancellation never produces an
// error event.
func (c *Coordinator) fail(ctx context.Context, em *emitter, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	var perr *models.PipelineError
	if !errors.As(err, &perr) {
		perr = &models.PipelineError{
			Kind:    models.ErrKindTransientProvider,
			Status:  500,
			Message: err.Error(),
			Err:     err,
		}
	}
	c.logger.Error("prep failed", "request_id", em.requestID,
		"kind", perr.Kind, "status", perr.Status, "error", err)
	em.send(ctx, Event{
		Type:           EventError,
		Status:         perr.Status,
		Error:          perr.Kind,
		Message:        perr.Message,
		RequestID:      em.requestID,
		Revoked:        perr.Revoked,
		FailedAccounts: perr.FailedAccounts,
	})
}

// minimalBrief is the early-exit shape for non-meeting classifications.
func minimalBrief(meeting *models.Meeting, user *models.User, cls *models.Classification) *models.Brief {
	return &models.Brief{
		MeetingID:      meeting.ID,
		UserID:         user.ID,
		Generated:      time.Now().UTC(),
		Summary:        fmt.Sprintf("%s — no preparation needed (%s).", meeting.Title, cls.Type),
		Classification: cls,
		PrepDepth:      cls.PrepDepth,
	}
}

func assembleBrief(
	meeting *models.Meeting,
	user *models.User,
	detected *models.PurposeResult,
	profiles []models.AttendeeProfile,
	emailResult *relevance.EmailFilterResult,
	emailNarrative string,
	docResult *relevance.DocumentFilterResult,
	insights []models.DocumentInsight,
	staleness []models.StalenessWarning,
	docWarnings []string,
	synth *synthesis.Output,
	emails *harvest.Result[models.EmailArtifact],
	files *harvest.Result[models.DocumentArtifact],
	history *harvest.Result[models.CalendarArtifact],
	tokenFailures []models.AccountFailure,
	duration time.Duration,
) *models.Brief {
	extraction := &models.ExtractionData{
		EmailReasoning:    emailResult.Reasoning,
		DocumentReasoning: docResult.Reasoning,
		DocumentStaleness: staleness,
	}
	for _, w := range emailResult.Warnings {
		extraction.Warn(w)
	}
	for _, w := range append(docResult.Warnings, docWarnings...) {
		extraction.Warn(w)
	}
	for _, w := range synth.Warnings {
		extraction.Warn(w)
	}
	for _, f := range tokenFailures {
		extraction.Warn(fmt.Sprintf("account %s excluded: %s", f.Email, f.Message))
	}

	accountsUsed := 0
	for _, s := range emails.Statuses {
		if s.OK {
			accountsUsed++
		}
	}

	return &models.Brief{
		MeetingID:            meeting.ID,
		UserID:               user.ID,
		Generated:            time.Now().UTC(),
		Summary:              synth.Summary,
		Purpose:              detected.Purpose,
		Agenda:               detected.Agenda,
		Attendees:            profiles,
		EmailAnalysis:        emailNarrative,
		DocumentInsights:     insights,
		RelationshipAnalysis: synth.RelationshipAnalysis,
		ContributionAnalysis: synth.ContributionAnalysis,
		BroaderNarrative:     synth.BroaderNarrative,
		Timeline:             synth.Timeline,
		Recommendations:      synth.Recommendations,
		ActionItems:          synth.ActionItems,
		Stats: models.BriefStats{
			EmailsFetched:     len(emails.Items),
			EmailsRelevant:    len(emailResult.Relevant),
			DocumentsFetched:  len(files.Items),
			DocumentsAnalyzed: len(insights),
			CalendarEvents:    len(history.Items),
			AccountsUsed:      accountsUsed,
			AccountsFailed:    len(emails.Statuses) - accountsUsed + len(tokenFailures),
			DurationMs:        duration.Milliseconds(),
			Trend:             synth.Trend,
		},
		ExtractionData: extraction,
	}
}

// userCompany derives a company label from the user's primary address
// for the relevance prompts.
func userCompany(user *models.User) string {
	_, domain, ok := strings.Cut(strings.ToLower(user.Email), "@")
	if !ok {
		return ""
	}
	base, _, _ := strings.Cut(domain, ".")
	if base == "" {
		return ""
	}
	return strings.ToUpper(base[:1]) + base[1:]
}
