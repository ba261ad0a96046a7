// Command harvester runs the full event harvesting service: the
// coordinator that schedules sources, the stage worker pool, the recipe
// healer, the maintenance janitor, and the operational HTTP surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/stadspuls/harvester/pkg/api"
	"github.com/stadspuls/harvester/pkg/cleanup"
	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/coordinator"
	"github.com/stadspuls/harvester/pkg/database"
	"github.com/stadspuls/harvester/pkg/embedder"
	"github.com/stadspuls/harvester/pkg/enrich"
	"github.com/stadspuls/harvester/pkg/extract"
	"github.com/stadspuls/harvester/pkg/heal"
	"github.com/stadspuls/harvester/pkg/llm"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/persist"
	"github.com/stadspuls/harvester/pkg/pipeline"
	"github.com/stadspuls/harvester/pkg/queue"
	"github.com/stadspuls/harvester/pkg/slack"
	"github.com/stadspuls/harvester/pkg/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Harvester exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configDir := envOr("CONFIG_DIR", "./config")
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database configuration: %w", err)
	}
	db, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	// Stores and queue primitives.
	sources := store.NewSourceStore(db.DB())
	events := store.NewEventStore(db.DB())
	insights := store.NewInsightStore(db.DB())
	healingLog := store.NewHealingStore(db.DB())
	geocache := store.NewGeoCacheStore(db.DB(), cfg.Geocode.CacheTTL)

	manager := queue.NewManager(db.DB(), cfg.Queue)
	sig := queue.NewSignal()

	// The LLM client is optional: without it the AI extraction fallback,
	// embeddings, and recipe healing are disabled but the pipeline runs.
	var llmClient llm.Client
	if client, err := llm.NewOpenAIClient(cfg.LLM); err != nil {
		slog.Warn("LLM client disabled", "reason", err)
	} else {
		llmClient = client
	}

	fetchers := pipeline.NewFetchers(cfg.Fetch)
	geocoder := enrich.NewGeocoder(cfg.Geocode, geocache)
	images, err := enrich.NewImageRelocator(ctx, cfg.Images)
	if err != nil {
		return fmt.Errorf("failed to set up image relocation: %w", err)
	}

	vec := embedder.NewEmbedder(llmClient, events)
	persister := persist.NewPersister(events, vec)
	notifier := slack.NewNotifier(cfg)

	var healer *heal.Healer
	if llmClient != nil {
		healer = heal.NewHealer(cfg.Healing, sources, healingLog, llmClient, fetchers, notifier)
		healer.Start(ctx)
		defer healer.Stop()
	}

	aiStrategy := &extract.AIStrategy{Cfg: cfg.Extract}
	if llmClient != nil {
		aiStrategy.Client = llmClient
	}

	extractExec := newExtractExecutor(cfg, sources, manager, insights, fetchers, aiStrategy, healer)
	executors := []queue.StageExecutor{
		pipeline.NewFetchExecutor(models.StageDiscovered, sources, fetchers),
		pipeline.NewFetchExecutor(models.StageAwaitingFetch, sources, fetchers),
		extractExec,
		pipeline.NewEnrichExecutor(models.StageEnriching, sources, geocoder, images),
		pipeline.NewEnrichExecutor(models.StageGeoIncomplete, sources, geocoder, images),
		pipeline.NewPersistExecutor(cfg.Extract, persister),
	}

	pool := queue.NewPool(podID(), manager, cfg.Queue, sig, executors)
	if err := pool.Start(ctx); err != nil {
		return err
	}
	defer pool.Stop()

	coord := coordinator.NewCoordinator(cfg.Coordinator, sources, manager, sig)
	coord.Start(ctx)
	defer coord.Stop()

	janitor := cleanup.NewJanitor(cfg.Retention, manager, geocache, vec)
	janitor.Start(ctx)
	defer janitor.Stop()

	server := api.NewServer(envOr("HTTP_ADDR", ":8080"), api.Deps{
		DB:          db,
		Pool:        pool,
		Manager:     manager,
		Coordinator: coord,
		Healer:      healer,
		Sources:     sources,
		HealingLog:  healingLog,
		Insights:    insights,
	})
	serverErr := server.Start()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutdown signal received, draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	return nil
}

// newExtractExecutor exists to keep the healer hook untyped when healing
// is disabled: a nil *heal.Healer must not end up inside a non-nil
// interface value.
func newExtractExecutor(
	cfg *config.Config, sources *store.SourceStore, manager *queue.Manager,
	insights *store.InsightStore, fetchers *pipeline.Fetchers,
	ai extract.Strategy, healer *heal.Healer,
) *pipeline.ExtractExecutor {
	if healer != nil {
		return pipeline.NewExtractExecutor(cfg.Extract, cfg.Healing, sources, manager, insights, fetchers, ai, healer)
	}
	return pipeline.NewExtractExecutor(cfg.Extract, cfg.Healing, sources, manager, insights, fetchers, ai, nil)
}

func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// podID identifies this process's queue claims. It must be stable
// across restarts of the same pod: startup releases stale claims by
// prefix-matching this ID, so a crashed run's claims are picked back up
// by its replacement.
func podID() string {
	if id := os.Getenv("POD_NAME"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "harvester-" + uuid.New().String()[:8]
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
