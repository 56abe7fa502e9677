package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/yangwenmai/draftflow/internal/config"
	"github.com/yangwenmai/draftflow/internal/docstore"
	"github.com/yangwenmai/draftflow/internal/engine"
	"github.com/yangwenmai/draftflow/internal/fsutil"
	"github.com/yangwenmai/draftflow/internal/lifecycle"
	"github.com/yangwenmai/draftflow/internal/logging"
	"github.com/yangwenmai/draftflow/internal/migrate"
	"github.com/yangwenmai/draftflow/internal/output"
	"github.com/yangwenmai/draftflow/internal/refine"
	"github.com/yangwenmai/draftflow/internal/render"
	"github.com/yangwenmai/draftflow/internal/store"
	"github.com/yangwenmai/draftflow/internal/worker"
)

// app is the wired process: stores, collaborators, job pool and service.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	db     *sql.DB
	items  *store.Store
	docs   *docstore.Store
	pool   *worker.Pool
	svc    *lifecycle.Service

	jobLock *fsutil.Lock
}

// openApp loads configuration, opens the stores and runs migrations. No
// command reads items before the migration runner has finished.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	for _, dir := range []string{cfg.DataDir, cfg.DocsDir(), cfg.ArtifactsDir(), cfg.OutputDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	db, err := store.OpenSQLite(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	items, err := store.New(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}

	rep, err := migrate.NewRunner(items,
		migrate.WithStateFile(cfg.LegacyStatePath),
		migrate.WithLogger(logger),
	).Run(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(rep.Renamed) > 0 || rep.Imported > 0 || rep.StateRewritten {
		logger.Info("migration applied", "renamed", rep.Renamed, "imported", rep.Imported, "state_rewritten", rep.StateRewritten)
	}

	docs, err := docstore.New(cfg.DocsDir())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init docstore: %w", err)
	}

	client, extractor := buildCollaborators(cfg, logger)

	var classifier render.Classifier = engine.NewLLMClassifier(client)
	if cfg.UseStubs() {
		classifier = render.RuleClassifier{}
	}
	renderer, err := render.NewHTMLRenderer(cfg.ArtifactsDir(), render.WithHTMLLogger(logger))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init renderer: %w", err)
	}

	pool := worker.New(
		worker.WithMaxConcurrent(cfg.MaxJobs),
		worker.WithJobTimeout(cfg.JobTimeout),
		worker.WithLogger(logger),
	)

	svc := lifecycle.New(lifecycle.Deps{
		Items:     items,
		Docs:      docs,
		Refiner:   refine.New(docs, engine.NewLLMGenerator(client), engine.NewLLMJudge(client), refine.WithLogger(logger)),
		Producer:  render.NewProducer(classifier, renderer, render.WithTemplate(cfg.RenderTemplate), render.WithLogger(logger)),
		Jobs:      pool,
		Output:    output.NewWriter(cfg.OutputDir()),
		Extractor: extractor,
	}, lifecycle.WithLogger(logger))

	return &app{cfg: cfg, logger: logger, db: db, items: items, docs: docs, pool: pool, svc: svc}, nil
}

// buildCollaborators picks the model client for the configured provider,
// falling back to deterministic stubs when no key is set.
func buildCollaborators(cfg config.Config, logger *slog.Logger) (engine.ModelClient, engine.ContentExtractor) {
	extractor := engine.NewHTTPExtractor(engine.WithMaxTextLength(cfg.MaxTextLength))
	if cfg.UseStubs() {
		logger.Info("no API key for provider, using stub model client", "provider", cfg.LLMProvider)
		return &engine.StubModelClient{}, extractor
	}

	timeout := engine.WithHTTPTimeout(cfg.HTTPTimeout)
	switch cfg.LLMProvider {
	case "claude":
		logger.Info("using Claude model client", "model", cfg.AnthropicModel)
		return engine.NewClaudeClient(cfg.AnthropicKey, engine.WithModel(cfg.AnthropicModel), timeout), extractor
	case "gemini":
		logger.Info("using Gemini model client", "model", cfg.GeminiModel)
		return engine.NewGeminiClient(cfg.GeminiKey, engine.WithModel(cfg.GeminiModel), timeout), extractor
	case "ollama":
		logger.Info("using Ollama model client", "model", cfg.OllamaModel, "url", cfg.OllamaURL)
		return engine.NewOllamaClient(cfg.OllamaURL, engine.WithModel(cfg.OllamaModel), timeout), extractor
	default:
		logger.Info("using OpenAI-compatible model client", "model", cfg.OpenAIModel, "base_url", cfg.OpenAIBaseURL)
		return engine.NewOpenAIClient(cfg.OpenAIKey,
			engine.WithModel(cfg.OpenAIModel),
			engine.WithBaseURL(cfg.OpenAIBaseURL),
			timeout,
		), extractor
	}
}

// claimJobs takes the data dir's job lock before this process runs
// background jobs. Only the holder runs jobs, so jobs still marked in flight
// when the lock is taken belong to a process that is gone and are reset.
// Fails with fsutil.ErrLocked while another process holds it.
func (a *app) claimJobs(ctx context.Context) error {
	lock, err := fsutil.TryLock(a.cfg.JobLockPath())
	if err != nil {
		if errors.Is(err, fsutil.ErrLocked) {
			return fmt.Errorf("another draftflow process is running jobs on %s: %w", a.cfg.DataDir, err)
		}
		return err
	}
	a.jobLock = lock
	if _, err := a.svc.Recover(ctx, a.items); err != nil {
		a.logger.Warn("recover interrupted jobs", "error", err)
	}
	return nil
}

// Close drains background jobs, releases the job lock and closes the
// database.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.pool.Shutdown(ctx); err != nil {
		a.logger.Warn("job pool shutdown", "error", err)
	}
	if a.jobLock != nil {
		if err := a.jobLock.Unlock(); err != nil {
			a.logger.Warn("release job lock", "error", err)
		}
		a.jobLock = nil
	}
	return a.db.Close()
}
