// Package api exposes the prep pipeline over HTTP: an NDJSON streaming
// prep endpoint, day-prep and purpose endpoints, brief retrieval, and
// the cron trigger endpoints used by external schedulers.
package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/briefly-ai/briefly/pkg/config"
	"github.com/briefly-ai/briefly/pkg/harvest"
	"github.com/briefly-ai/briefly/pkg/models"
	"github.com/briefly-ai/briefly/pkg/prep"
	"github.com/briefly-ai/briefly/pkg/scheduler"
	"github.com/briefly-ai/briefly/pkg/tools"
)

// Generator runs one prep pipeline, streaming events.
type Generator interface {
	Run(ctx context.Context, meeting *models.Meeting, user *models.User) <-chan prep.Event
}

// DayAggregator folds a day's briefs into a DayPrep.
type DayAggregator interface {
	Aggregate(ctx context.Context, user *models.User, date string, briefs []models.Brief) *models.DayPrep
}

// PurposeDetector infers why a meeting exists.
type PurposeDetector interface {
	Detect(ctx context.Context, meeting *models.Meeting, emails []models.EmailArtifact) models.PurposeResult
}

// EmailSource fetches meeting-scoped emails across accounts.
type EmailSource interface {
	FetchEmails(ctx context.Context, accounts []*models.Account, meeting *models.Meeting, user *models.User) (*harvest.Result[models.EmailArtifact], error)
}

// CronRunner triggers the scheduler passes on demand.
type CronRunner interface {
	GenerateHourly(ctx context.Context) scheduler.Summary
	GenerateMidnight(ctx context.Context) scheduler.Summary
	GenerateDaily(ctx context.Context) scheduler.Summary
}

// BriefStore loads and persists briefs keyed by (user, meeting).
type BriefStore interface {
	Get(ctx context.Context, userID, meetingID string) (*models.Brief, error)
	Upsert(ctx context.Context, brief *models.Brief) error
}

// DayPrepWriter persists day preps.
type DayPrepWriter interface {
	Upsert(ctx context.Context, prep *models.DayPrep) error
}

// Server wires the HTTP surface.
type Server struct {
	auth      *Authenticator
	generator Generator
	calendars *tools.Handlers
	aggregate DayAggregator
	purpose   PurposeDetector
	emails    EmailSource
	cron      CronRunner
	briefs    BriefStore
	dayPreps  DayPrepWriter
	db        *sql.DB
	cfg       *config.SystemConfig
	logger    *slog.Logger

	httpServer *http.Server
}

func NewServer(
	auth *Authenticator,
	generator Generator,
	calendars *tools.Handlers,
	aggregate DayAggregator,
	purpose PurposeDetector,
	emails EmailSource,
	cron CronRunner,
	briefs BriefStore,
	dayPreps DayPrepWriter,
	db *sql.DB,
	cfg *config.SystemConfig,
	logger *slog.Logger,
) *Server {
	if auth == nil || generator == nil || calendars == nil || aggregate == nil ||
		purpose == nil || emails == nil || cron == nil || briefs == nil || dayPreps == nil || cfg == nil {
		panic("api: all dependencies except db are required")
	}
	return &Server{
		auth:      auth,
		generator: generator,
		calendars: calendars,
		aggregate: aggregate,
		purpose:   purpose,
		emails:    emails,
		cron:      cron,
		briefs:    briefs,
		dayPreps:  dayPreps,
		db:        db,
		cfg:       cfg,
		logger:    logger.With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders(), corsOrigins(s.cfg.AllowedOrigins))

	r.GET("/health", s.handleHealth)

	v1 := r.Group("/api/v1", s.auth.RequireUser())
	v1.POST("/prep", s.handlePrep)
	v1.POST("/day-prep", s.handleDayPrep)
	v1.POST("/purpose", s.handlePurpose)
	v1.GET("/briefs/:meeting_id", s.handleGetBrief)

	cron := r.Group("/cron", requireCronSecret(s.cfg.CronSecret))
	cron.POST("/generate-hourly-briefs", s.handleCron(s.cron.GenerateHourly))
	cron.POST("/generate-midnight-briefs", s.handleCron(s.cron.GenerateMidnight))
	cron.POST("/generate-daily-briefs", s.handleCron(s.cron.GenerateDaily))

	return r
}

// Start begins serving on the configured address. Blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", s.cfg.ListenAddr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
