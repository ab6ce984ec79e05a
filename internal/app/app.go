package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"S2CoastalBot/internal/coastal"
	"S2CoastalBot/internal/config"
	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/infrastructure/cdse"
	"S2CoastalBot/internal/infrastructure/geocode"
	"S2CoastalBot/internal/infrastructure/imaging"
	"S2CoastalBot/internal/infrastructure/lock"
	"S2CoastalBot/internal/infrastructure/scheduler"
	"S2CoastalBot/internal/infrastructure/social"
	"S2CoastalBot/internal/infrastructure/status"
	"S2CoastalBot/internal/infrastructure/storage"
	"S2CoastalBot/internal/logging"
	"S2CoastalBot/internal/ports"
	"S2CoastalBot/internal/retry"
	"S2CoastalBot/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	repository ports.PostedRepository
	pipeline   *usecase.Pipeline
}

// New builds every adapter named in cfg and the pipeline on top of them.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	policy := retry.FromConfig(cfg.Retry)

	index, err := coastal.LoadIndex(cfg.CoastalDataset)
	if err != nil {
		return nil, err
	}
	baseLogger.Debug("coastal index loaded", "tiles", index.Len())

	catalog := cdse.NewCatalog(
		cfg.Search.CatalogEndpoint,
		&http.Client{Timeout: cfg.Search.Timeout.Duration()},
		policy,
		baseLogger.With("component", "catalog"),
	).WithPaging(cfg.Search.PageSize, cfg.Search.PageLimit)

	source := cdse.NewTileSource(catalog, index, cdse.SourceOptions{
		TilesPerRun:   cfg.Search.TilesPerRun,
		MaxCloudCover: cfg.Search.MaxCloudCover,
		Window:        cfg.Search.MinRecency.Duration(),
		ProductType:   cfg.Search.ProductType,
	}, baseLogger.With("component", "source"))

	pp := cfg.Postprocessing
	processor := imaging.NewProcessor(
		&http.Client{Timeout: pp.Timeout.Duration()},
		imaging.Options{
			WorkDir:           pp.WorkDir,
			OutputWidth:       pp.OutputWidth,
			SubsetWidth:       pp.SubsetWidth,
			SubsetHeight:      pp.SubsetHeight,
			Gain:              pp.Gain,
			MaxNodataFraction: pp.MaxNodataFraction,
		},
		policy,
		baseLogger.With("component", "imaging"),
	)

	geocoder := geocode.NewClient(
		cfg.Geocoder.Endpoint,
		cfg.Geocoder.Referer,
		cfg.Geocoder.UserAgent,
		cfg.Geocoder.MaxAttempts,
		baseLogger.With("component", "geocoder"),
	)

	publishers, err := buildPublishers(ctx, cfg, baseLogger)
	if err != nil {
		return nil, err
	}

	repository, locker, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:     source,
		Repository: repository,
		Index:      index,
		Processor:  processor,
		Geocoder:   geocoder,
		Publishers: publishers,
		Locker:     locker,
		Logger:     baseLogger.With("component", "pipeline"),
		Options: usecase.PipelineOptions{
			MaxCloudCover: cfg.Search.MaxCloudCover,
			MinRecency:    cfg.Search.MinRecency.Duration(),
			MaxAttempts:   pp.MaxAttempts,
			Cleaning:      pp.Cleaning,
			Retry:         policy,
		},
		IsLocked: func(err error) bool { return errors.Is(err, lock.ErrLocked) },
	})

	return &Application{cfg: cfg, logger: baseLogger, repository: repository, pipeline: pipeline}, nil
}

// OpenStore opens the configured posted-record backend and the run lock
// that goes with it.
func OpenStore(ctx context.Context, cfg config.Config) (ports.PostedRepository, ports.RunLocker, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		repo, err := storage.OpenPostgres(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, lock.NewPostgresLock(repo.DB(), lock.AdvisoryKey), nil
	case "sqlite", "":
		repo, err := storage.OpenSQLite(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, lock.NewFileLock(cfg.Lock.Path), nil
	default:
		return nil, nil, fmt.Errorf("%w: storage driver %q", config.ErrInvalid, cfg.Storage.Driver)
	}
}

func buildPublishers(ctx context.Context, cfg config.Config, log *slog.Logger) ([]ports.Publisher, error) {
	registry := social.NewRegistry()

	for _, name := range cfg.Publishers {
		switch name {
		case string(domain.PlatformMastodon):
			server, token := cfg.Mastodon.Server, cfg.Mastodon.Token()
			if token == "" {
				location := cfg.Mastodon.SecretURI
				if location == "" {
					location = cfg.Mastodon.SecretFile
				}
				secret, err := social.ReadSecret(ctx, location)
				if err != nil {
					return nil, fmt.Errorf("mastodon secret: %w", err)
				}
				token = secret.Token
				if secret.Server != "" {
					server = secret.Server
				}
			}
			registry.Register(social.NewMastodon(server, token, cfg.Mastodon.Visibility, nil, log.With("component", "publisher.mastodon")))
		case string(domain.PlatformTwitter):
			registry.Register(social.NewTwitter(ctx, cfg.Twitter, log.With("component", "publisher.twitter")))
		}
	}

	return registry.Enabled(cfg.Publishers)
}

// Repository exposes the posted-record store to CLI commands.
func (a *Application) Repository() ports.PostedRepository {
	return a.repository
}

// Run performs a single pipeline execution under a fresh run id.
func (a *Application) Run(ctx context.Context) (usecase.RunResult, error) {
	return a.pipeline.Run(ctx, uuid.NewString())
}

// Serve runs the pipeline on the configured cron schedule and exposes the
// status endpoint until ctx ends.
func (a *Application) Serve(ctx context.Context) error {
	driver := scheduler.NewCronScheduler(
		a.cfg.Scheduler.CronExpression,
		a.cfg.Scheduler.Location(),
		a.logger.With("component", "scheduler"),
	)
	runner := usecase.NewScheduler(driver, func(ctx context.Context, _ time.Time) error {
		_, err := a.Run(ctx)
		return err
	}, a.logger.With("component", "scheduler"))

	if err := runner.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := runner.Stop(stopCtx); err != nil {
			a.logger.Warn("scheduler stop", "error", err)
		}
	}()

	if a.cfg.Status.Addr == "" {
		<-ctx.Done()
		return nil
	}

	srv := status.NewServer(a.repository, a.cfg.Status.StaleAfter.Duration(), a.logger.With("component", "status"))
	return srv.ListenAndServe(ctx, a.cfg.Status.Addr)
}

// Close releases the store.
func (a *Application) Close() error {
	if a.repository == nil {
		return nil
	}
	return a.repository.Close()
}
