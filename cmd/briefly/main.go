// Briefly server — harvests mail, drive and calendar context across a
// user's accounts and generates meeting preparation briefs, on demand
// over HTTP and on a timezone-aware schedule.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/briefly-ai/briefly/pkg/api"
	"github.com/briefly-ai/briefly/pkg/classify"
	"github.com/briefly-ai/briefly/pkg/cleanup"
	"github.com/briefly-ai/briefly/pkg/config"
	"github.com/briefly-ai/briefly/pkg/database"
	"github.com/briefly-ai/briefly/pkg/dayprep"
	"github.com/briefly-ai/briefly/pkg/harvest"
	"github.com/briefly-ai/briefly/pkg/llm"
	"github.com/briefly-ai/briefly/pkg/prep"
	"github.com/briefly-ai/briefly/pkg/provider"
	"github.com/briefly-ai/briefly/pkg/purpose"
	"github.com/briefly-ai/briefly/pkg/push"
	"github.com/briefly-ai/briefly/pkg/relevance"
	"github.com/briefly-ai/briefly/pkg/research"
	"github.com/briefly-ai/briefly/pkg/scheduler"
	"github.com/briefly-ai/briefly/pkg/search"
	"github.com/briefly-ai/briefly/pkg/services"
	"github.com/briefly-ai/briefly/pkg/synthesis"
	"github.com/briefly-ai/briefly/pkg/tokens"
	"github.com/briefly-ai/briefly/pkg/tools"
	"github.com/briefly-ai/briefly/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Configuration loaded", "config_dir", *configDir)

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Persistence services
	userService := services.NewUserService(dbClient.DB)
	accountService := services.NewAccountService(dbClient.DB)
	briefService := services.NewBriefService(dbClient.DB)
	dayPrepService := services.NewDayPrepService(dbClient.DB)
	reminderService := services.NewReminderService(dbClient.DB)

	// 4. LLM client
	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	llmClient, err := llm.NewAnthropicClient(llm.Config{
		APIKey:      apiKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout.Std(),
	})
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized", "model", cfg.LLM.Model)

	// 5. Provider clients and token guard
	logger := slog.Default()
	httpClient := &http.Client{Timeout: 30 * time.Second}
	mailClient := provider.NewMailClient(httpClient, logger)
	driveClient := provider.NewDriveClient(httpClient, logger)
	calendarClient := provider.NewCalendarClient(httpClient, logger)
	guard := tokens.NewGuard(accountService, cfg.OAuth, logger)

	// 6. Pipeline stages
	harvester := harvest.NewHarvester(mailClient, driveClient, calendarClient, cfg.Pipeline, logger)
	classifier := classify.NewClassifier(llmClient, logger)
	detector := purpose.NewDetector(llmClient, logger)
	pipeline := relevance.NewPipeline(llmClient, cfg.Pipeline, logger)
	searcher := search.NewHTTPProvider(cfg.Search)
	var searchProvider search.Provider
	if searcher != nil {
		searchProvider = searcher
		slog.Info("Web search enabled", "endpoint", cfg.Search.Endpoint)
	} else {
		slog.Info("Web search disabled, research degrades to email evidence")
	}
	researcher := research.NewResearcher(llmClient, searchProvider, cfg.Pipeline, logger)
	synthesizer := synthesis.NewSynthesizer(llmClient, logger)
	coordinator := prep.NewCoordinator(accountService, guard, harvester, classifier,
		detector, pipeline, researcher, synthesizer, logger)
	aggregator := dayprep.NewAggregator(llmClient, logger)

	// 7. Push notifications (nil service disables them)
	notifier := push.NewService(cfg.Push)
	if notifier == nil {
		slog.Info("Push notifications disabled")
	}

	// 8. Scheduler
	sched := scheduler.New(userService, accountService, guard, calendarClient,
		briefService, dayPrepService, reminderService, coordinator, notifier,
		cfg.Scheduler, logger)
	if err := sched.Start(); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// 9. Retention sweep
	cleanupService := cleanup.NewService(cfg.Retention, briefService,
		dayPrepService, reminderService)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 10. HTTP server
	toolHandlers := tools.NewHandlers(accountService, guard, calendarClient,
		briefService, coordinator, searchProvider, logger)
	auth := api.NewAuthenticator(userService, cfg.System.SessionSecret,
		cfg.System.DeploymentEnv == "production")
	httpServer := api.NewServer(auth, coordinator, toolHandlers, aggregator,
		detector, harvester, sched, briefService, dayPrepService,
		dbClient.Conn(), cfg.System, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()
	slog.Info("Briefly started", "version", version.Full(), "addr", cfg.System.ListenAddr)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
