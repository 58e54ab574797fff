// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/omu-rag/newsingest/internal/api"
	"github.com/omu-rag/newsingest/internal/attachments"
	"github.com/omu-rag/newsingest/internal/config"
	"github.com/omu-rag/newsingest/internal/crawler"
	"github.com/omu-rag/newsingest/internal/dates"
	"github.com/omu-rag/newsingest/internal/discovery"
	"github.com/omu-rag/newsingest/internal/extract"
	"github.com/omu-rag/newsingest/internal/fetcher"
	"github.com/omu-rag/newsingest/internal/metrics"
	"github.com/omu-rag/newsingest/internal/orchestrator"
	"github.com/omu-rag/newsingest/internal/pipeline"
	"github.com/omu-rag/newsingest/internal/policy/ratelimit"
	pubsubpublisher "github.com/omu-rag/newsingest/internal/publisher/pubsub"
	"github.com/omu-rag/newsingest/internal/storage"
	"github.com/omu-rag/newsingest/internal/storage/local"
	"github.com/omu-rag/newsingest/internal/storage/memory"
	mongostore "github.com/omu-rag/newsingest/internal/storage/mongo"
	"github.com/omu-rag/newsingest/internal/storage/postgres"
	"github.com/omu-rag/newsingest/internal/telemetry"
)

// App holds the shared, long-lived services for one process. It is built once
// at startup by the root command and closed when the command finishes.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     crawler.Clock
	store     crawler.PageStore
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	closers   []io.Closer
	processor *pipeline.Processor
	discover  *discovery.Discoverer
	tracker   *api.Tracker
	tracing   *sdktrace.TracerProvider
}

// Option customizes NewApp.
type Option func(*App)

// WithClock overrides the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithPageStore injects a page store instead of building one from config.
func WithPageStore(s crawler.PageStore) Option {
	return func(a *App) { a.store = s }
}

// WithPublisher injects the ingest event publisher.
func WithPublisher(p crawler.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// NewApp creates and initializes the services described by cfg. It fails fast
// if any critical service cannot be initialized.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		clock:   crawler.SystemClock{},
		tracker: &api.Tracker{},
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, w := range cfg.Warnings {
		logger.Warn("configuration warning", zap.String("detail", w))
	}

	metrics.Init()
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracing = tp

	// abort releases whatever was built before a later service failed.
	abort := func(err error) (*App, error) {
		if cerr := a.Close(ctx); cerr != nil {
			logger.Warn("cleanup after failed start-up", zap.Error(cerr))
		}
		return nil, err
	}

	if a.store == nil {
		store, err := a.openStore(ctx)
		if err != nil {
			return abort(err)
		}
		a.store = store
	}

	blobs, err := local.New(local.Config{BaseDir: cfg.Attachments.Root})
	if err != nil {
		return abort(fmt.Errorf("init attachment store: %w", err))
	}
	a.blobs = blobs

	if a.publisher == nil && cfg.PubSub.Topic != "" {
		pub, err := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID, logger)
		if err != nil {
			return abort(fmt.Errorf("init publisher: %w", err))
		}
		a.publisher = pub
		a.closers = append(a.closers, pub)
		logger.Info("publishing ingest events", zap.String("topic", cfg.PubSub.Topic))
	}

	gate := ratelimit.New(ratelimit.Config{
		DefaultRPS:         cfg.HTTP.RequestsPerSecond,
		DefaultBurst:       cfg.HTTP.Burst,
		PerHostConcurrency: cfg.HTTP.PerHostConcurrency,
	}, logger)
	transport := fetcher.NewTransport(gate)

	fetch := fetcher.New(fetcher.Config{
		UserAgent:       cfg.Crawler.UserAgent,
		PageTimeout:     cfg.HTTP.PageTimeout,
		DownloadTimeout: cfg.HTTP.DownloadTimeout,
		MaxPageBytes:    cfg.HTTP.MaxPageBytes,
	}, transport, logger)

	a.discover = discovery.New(discovery.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.HTTP.ListingTimeout,
		Parallelism: cfg.Crawler.ListingParallelism,
		Delay:       cfg.Crawler.ListingDelay,
	}, transport, logger)

	extractor := extract.New(logger, dates.New(logger, dates.WithClock(a.clock)))
	harvester := attachments.New(attachments.Config{
		Extensions:     cfg.Attachments.Extensions,
		ExcludeMarkers: cfg.Attachments.ExcludeMarkers,
		AllowedHosts:   cfg.Attachments.AllowedHosts,
	}, fetch, a.blobs, a.clock, logger)

	a.processor = pipeline.New(a.store, fetch, extractor, harvester, a.publisher, a.clock,
		pipeline.Config{Topic: cfg.PubSub.Topic}, logger)

	logger.Info("application services initialized",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("attachments_root", cfg.Attachments.Root),
		zap.Int("departments", len(cfg.Departments)),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (crawler.PageStore, error) {
	backend, err := storage.ParseBackend(a.cfg.Storage.Backend)
	if err != nil {
		return nil, err
	}
	switch backend {
	case storage.BackendMongo:
		a.logger.Info("connecting to MongoDB", zap.String("database", a.cfg.Mongo.Database))
		store, err := mongostore.New(ctx, mongostore.Config{
			URI:                   a.cfg.Mongo.URI,
			Database:              a.cfg.Mongo.Database,
			PagesCollection:       a.cfg.Mongo.PagesCollection,
			AttachmentsCollection: a.cfg.Mongo.AttachmentsCollection,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init mongo store: %w", err)
		}
		return store, nil
	case storage.BackendMemory:
		a.logger.Warn("using in-memory storage; records are discarded on exit")
		return memory.NewPageStore(), nil
	default:
		pgCfg := PostgresConfig(a.cfg.DB)
		if a.cfg.DB.AutoMigrate {
			if err := postgres.MigrateUp(pgCfg, a.logger); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		a.logger.Info("connecting to PostgreSQL")
		store, err := postgres.NewPageStore(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return store, nil
	}
}

// PostgresConfig maps the db section onto the Postgres store config.
func PostgresConfig(db config.DBConfig) postgres.Config {
	return postgres.Config{
		DSN:             db.DSN,
		Host:            db.Host,
		Port:            db.Port,
		User:            db.User,
		Password:        db.Password,
		Name:            db.Name,
		SSLMode:         db.SSLMode,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
		Tables:          postgres.Tables{Pages: db.PagesTable, Attachments: db.AttachmentTable},
	}
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Store returns the page store.
func (a *App) Store() crawler.PageStore {
	return a.store
}

// Tracker returns the crawl status tracker served by the API.
func (a *App) Tracker() *api.Tracker {
	return a.tracker
}

// Orchestrator builds a crawl orchestrator for the given pagination depth.
func (a *App) Orchestrator(pagination int) *orchestrator.Orchestrator {
	return orchestrator.New(a.cfg.DepartmentList(), a.discover, a.processor, a.clock, orchestrator.Config{
		Concurrency: a.cfg.Crawler.Concurrency,
		Pagination:  pagination,
	}, a.logger)
}

// Crawl runs one full crawl. When metrics.addr is set the observability
// server runs for the duration of the crawl.
func (a *App) Crawl(ctx context.Context, pagination int) orchestrator.Report {
	if addr := a.cfg.Metrics.Addr; addr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := api.NewServer(a.cfg.DepartmentList(), a.tracker, a.logger).Serve(srvCtx, addr); err != nil {
				a.logger.Error("observability server failed", zap.Error(err))
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	a.tracker.Begin(a.clock.Now())
	report := a.Orchestrator(pagination).Run(ctx)
	a.tracker.Finish(report)
	return report
}

// Close gracefully shuts down all services. It is called by a Cobra hook
// after the command finishes.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	var errs []error
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close page store: %w", err))
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}
