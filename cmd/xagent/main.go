// xagent server - runs the scheduled content pipeline, the reviewer/admin
// HTTP surface, and the background workers.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/songyu-ren/xagent/pkg/agent"
	"github.com/songyu-ren/xagent/pkg/agent/orchestrator"
	"github.com/songyu-ren/xagent/pkg/api"
	"github.com/songyu-ren/xagent/pkg/cleanup"
	"github.com/songyu-ren/xagent/pkg/config"
	"github.com/songyu-ren/xagent/pkg/database"
	"github.com/songyu-ren/xagent/pkg/llm"
	"github.com/songyu-ren/xagent/pkg/notify"
	"github.com/songyu-ren/xagent/pkg/publish"
	"github.com/songyu-ren/xagent/pkg/queue"
	"github.com/songyu-ren/xagent/pkg/scheduler"
	"github.com/songyu-ren/xagent/pkg/services"
	"github.com/songyu-ren/xagent/pkg/sources"
	"github.com/songyu-ren/xagent/pkg/twitter"
	"github.com/songyu-ren/xagent/pkg/version"
)

func main() {
	envPath := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", *envPath, err)
		log.Printf("Continuing with existing environment variables...")
	}

	settings, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	gin.SetMode(settings.GinMode)

	slog.Info("Starting xagent", "version", version.Version, "commit", version.Commit,
		"http_port", settings.HTTPPort, "dry_run", settings.DryRun)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL, schema up to date")

	svc := orchestrator.Services{
		Runs:      services.NewRunService(dbClient),
		Drafts:    services.NewDraftService(dbClient),
		Posts:     services.NewPostService(dbClient),
		Tokens:    services.NewTokenService(dbClient),
		Styles:    services.NewStyleService(dbClient),
		Reports:   services.NewReportService(dbClient),
		AppConfig: services.NewConfigService(dbClient),
	}
	userService := services.NewUserService(dbClient)

	var chatter llm.Chatter
	if settings.AnthropicAPIKey != "" {
		chatter = llm.NewClient(settings.AnthropicAPIKey, settings.LLMModel)
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set; generation stages run on deterministic fallbacks")
	}

	stages := orchestrator.Stages{
		Collector:     agent.NewCollector(settings.GitRepoPath, settings.DevlogPath, buildSources(settings)),
		Curator:       agent.NewCurator(chatter),
		ThreadPlanner: agent.NewThreadPlanner(chatter),
		Writer:        agent.NewWriter(chatter),
		Critic:        agent.NewCritic(chatter),
		Policy:        agent.NewPolicyEngine(nil),
		StyleAnalyst:  agent.NewStyleAnalyst(chatter),
		WeeklyAnalyst: agent.NewWeeklyAnalyst(chatter),
	}

	var emailChannel, slackChannel notify.Channel
	emailChannel = notify.NewEmailChannel(
		settings.SMTPServer, settings.SMTPPort, settings.SMTPUsername, settings.SMTPPassword,
		settings.EmailFrom, settings.EmailTo, settings.BasePublicURL)
	if settings.EnableSlack && settings.SlackToken != "" {
		slackChannel = notify.NewSlackChannel(settings.SlackToken, settings.SlackChannel, settings.BasePublicURL)
	}
	notifier := notify.NewNotifier(settings.BasePublicURL, emailChannel, slackChannel)

	social := twitter.NewHTTPClient(settings.TwitterBearerToken)
	coordinator := publish.NewCoordinator(dbClient, svc.Posts, social, settings.DryRun)

	orch := orchestrator.New(settings, svc, stages, notifier, coordinator)

	pool := queue.NewWorkerPool(settings.WorkerCount, settings.QueueSize, orch)
	pool.Start(ctx)
	defer pool.Stop()

	cron, err := scheduler.New(settings, pool, orch, orch)
	if err != nil {
		log.Fatalf("Failed to build scheduler: %v", err)
	}
	cron.Start()
	defer cron.Stop()

	retention := cleanup.NewService(settings.CleanupInterval, svc.Tokens)
	retention.Start(ctx)
	defer retention.Stop()

	server := api.NewServer(dbClient, orch, pool, svc.Drafts, userService)
	httpServer := &http.Server{
		Addr:              ":" + settings.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
}

// buildSources instantiates the enabled evidence source adapters.
func buildSources(settings *config.Settings) []sources.Source {
	var srcs []sources.Source
	if settings.EnableSourceGitHub && settings.GitHubRepo != "" {
		gh, err := sources.NewGitHubSource(settings.GitHubToken, settings.GitHubRepo)
		if err != nil {
			slog.Error("Invalid GitHub source config, skipping", "error", err)
		} else {
			srcs = append(srcs, gh)
		}
	}
	if settings.EnableSourceRSS && len(settings.RSSFeedURLs) > 0 {
		srcs = append(srcs, sources.NewRSSSource(settings.RSSFeedURLs))
	}
	return srcs
}
