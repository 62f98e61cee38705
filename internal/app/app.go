package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"AsmrPipeline/internal/config"
	"AsmrPipeline/internal/infrastructure/generator"
	"AsmrPipeline/internal/infrastructure/media"
	"AsmrPipeline/internal/infrastructure/publisher"
	"AsmrPipeline/internal/infrastructure/storage"
	"AsmrPipeline/internal/logging"
	"AsmrPipeline/internal/usecase"
)

// Application wires config to use cases and lifecycle orchestration.
type Application struct {
	cfg          config.Config
	db           *sql.DB
	scheduler    *usecase.Scheduler
	orchestrator *usecase.Orchestrator
	sweeper      *usecase.Sweeper
	logger       *slog.Logger
}

// New builds a runnable application instance. It validates configuration,
// connects storage, and wires every collaborator; a config error here means
// the process must not start scheduling.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect storage: %w", err)
	}

	store := storage.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare storage: %w", err)
	}

	gen := generator.NewCatalogGenerator(nil,
		cfg.Generator.CatalogURL,
		store,
		cfg.Generator.MaxRecentThemes,
		baseLogger.With("component", "generator"))

	mediaOpts := media.Options{
		FFmpegPath:      cfg.Media.FFmpegPath,
		FFprobePath:     cfg.Media.FFprobePath,
		WorkDir:         cfg.Media.WorkDir,
		ClipDuration:    cfg.Media.ClipDuration.Std(),
		FrameSize:       cfg.Media.FrameSize,
		BackgroundColor: cfg.Media.BackgroundColor,
		StageTimeout:    cfg.Media.StageTimeout.Std(),
	}
	synth := media.NewFFmpegSynthesizer(mediaOpts, baseLogger.With("component", "synthesizer"))
	renderer := media.NewFFmpegRenderer(mediaOpts, baseLogger.With("component", "renderer"))

	uploader := publisher.NewYouTubeClient(
		cfg.Publisher.Endpoint,
		cfg.Publisher.Token,
		cfg.Publisher.Category,
		baseLogger.With("component", "publisher"))

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Generator:   gen,
		Synthesizer: synth,
		Renderer:    renderer,
		Publisher:   uploader,
		Runs:        store,
		Retry:       usecase.NewRetryPolicy(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoff.Std()),
		Metadata: usecase.MetadataOptions{
			Tags:     cfg.Publisher.Tags,
			Category: cfg.Publisher.Category,
			Privacy:  cfg.Publisher.Privacy,
		},
		Logger: baseLogger.With("component", "orchestrator"),
	})

	scheduler := usecase.NewScheduler(usecase.SchedulerDeps{
		Runs:   store,
		State:  store,
		Logger: baseLogger.With("component", "scheduler"),
	})

	sweeper := usecase.NewSweeper(store,
		cfg.Media.WorkDir,
		cfg.Retention.MaxRuns,
		baseLogger.With("component", "sweeper"))

	return &Application{
		cfg:          cfg,
		db:           db,
		scheduler:    scheduler,
		orchestrator: orchestrator,
		sweeper:      sweeper,
		logger:       baseLogger.With("component", "app"),
	}, nil
}

// Run starts the sweep ticker and blocks in the scheduling loop until ctx
// is done.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		if err := a.db.Close(); err != nil {
			a.logger.Error("close storage", "error", err)
		}
	}()

	go a.sweepLoop(ctx)

	a.logger.Info("pipeline started",
		"interval", a.cfg.Scheduler.Interval,
		"timezone", a.cfg.Scheduler.Location().String())

	return a.scheduler.Start(ctx, a.cfg.Scheduler.Interval.Std(), a.orchestrator.RunOnce)
}

// sweepLoop runs the orphan sweep independently of the pipeline.
func (a *Application) sweepLoop(ctx context.Context) {
	interval := a.cfg.Retention.SweepInterval.Std()
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.sweeper.Sweep(ctx); err != nil {
				a.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
