package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/canopy-survey/internal/config"
	"github.com/kirillkom/canopy-survey/internal/core/ports"
	"github.com/kirillkom/canopy-survey/internal/core/usecase"
	"github.com/kirillkom/canopy-survey/internal/infrastructure/queue/nats"
	"github.com/kirillkom/canopy-survey/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/canopy-survey/internal/infrastructure/resilience"
	"github.com/kirillkom/canopy-survey/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	Queue       ports.DetectionQueue
	Repo        ports.SurveyRepository
	IngestUC    ports.SurveyIngestor
	CatalogUC   ports.SurveyCatalog
	DetectionUC ports.DetectionRequester
	OutcomeUC   ports.DetectionOutcomeApplier

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	repo := postgres.NewSurveyRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	resilienceCfg := resilience.DefaultConfig()
	resilienceCfg.BreakerEnabled = cfg.BreakerEnabled
	executor := resilience.NewExecutor(resilienceCfg, logger)

	queue, err := nats.New(cfg.NATSURL, nats.Options{
		DetectSubject:      cfg.NATSDetectSubject,
		ResultSubject:      cfg.NATSResultSubject,
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	return &App{
		Config: cfg,
		Queue:  queue,
		Repo:   repo,

		IngestUC:    usecase.NewIngestSurveyUseCase(repo, storage, cfg.MaxUploadBytes),
		CatalogUC:   usecase.NewSurveyCatalogUseCase(repo, storage),
		DetectionUC: usecase.NewRequestDetectionUseCase(repo, queue),
		OutcomeUC:   usecase.NewApplyDetectionOutcomeUseCase(repo),

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
