// Package app wires the configured store, services and job queue together
// for the api, worker and cli binaries.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/api/handlers"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/gcsuploader"
	infraBQ "github.com/dvloznov/finance-ledger/internal/infra/bigquery"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
	"github.com/dvloznov/finance-ledger/internal/positions"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
	"github.com/dvloznov/finance-ledger/internal/store/sqlstore"
	"github.com/rs/zerolog"
)

// App holds every long lived component of a process.
type App struct {
	Config *config.Config

	Repo      store.Repository
	Ledger    *ledger.Ledger
	Positions *positions.Accountant
	Imports   *pipeline.ImportService

	// Storage is nil when no statements bucket is configured.
	Storage *gcsuploader.Client

	JobStore  *inmemory.Store
	Queue     *inmemory.Queue
	Processor *jobs.Processor

	closers []func() error
}

// OpenRepository opens the storage backend named by the config.
func OpenRepository(ctx context.Context, cfg *config.Config) (store.Repository, func() error, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return memory.New(), func() error { return nil }, nil
	case config.BackendBigQuery:
		s, err := infraBQ.New(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset)
		if err != nil {
			return nil, nil, fmt.Errorf("OpenRepository: %w", err)
		}
		return s, s.Close, nil
	case config.BackendSQLite:
		s, err := sqlstore.Open(sqlstore.Options{
			Path:   cfg.Storage.Path,
			LogSQL: cfg.Log.Level == "debug" || cfg.Log.Level == "trace",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("OpenRepository: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("OpenRepository: unknown storage backend %q", cfg.Storage.Backend)
	}
}

// New builds the services on top of the configured backend. The job queue
// is created but not started.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg}

	repo, closeRepo, err := OpenRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Repo = repo
	a.closers = append(a.closers, closeRepo)

	conv, err := cfg.Converter()
	if err != nil {
		a.Close()
		return nil, err
	}

	// A nil *gcsuploader.Client must not reach the Fetcher interface.
	var fetcher pipeline.Fetcher
	if cfg.GCS.Bucket != "" {
		client, err := gcsuploader.NewClient(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.Storage = client
		a.closers = append(a.closers, client.Close)
		fetcher = client
	} else {
		log.Warn().Msg("No GCS bucket configured - statement uploads will be disabled")
	}

	a.Ledger = ledger.New(repo, conv, nil)
	a.Positions = positions.NewAccountant(repo, nil)
	a.Imports = pipeline.NewImportService(pipeline.NewImporter(repo, conv, nil), a.Ledger, fetcher)

	a.JobStore = inmemory.NewStore()
	a.Queue = inmemory.NewQueue(cfg.Queue.Buffer, cfg.Queue.Workers, a.JobStore)
	if cfg.Queue.MaxRetries > 0 {
		a.Queue.SetMaxRetries(cfg.Queue.MaxRetries)
	}
	a.Processor = jobs.NewProcessor(a.Imports, a.Ledger)

	log.Info().
		Str("backend", cfg.Storage.Backend).
		Str("bucket", cfg.GCS.Bucket).
		Int("workers", cfg.Queue.Workers).
		Msg("Services initialized")
	return a, nil
}

// Services returns what the HTTP layer needs.
func (a *App) Services() handlers.Services {
	svc := handlers.Services{
		Ledger:     a.Ledger,
		Positions:  a.Positions,
		Imports:    a.Imports,
		Bucket:     a.Config.GCS.Bucket,
		Publisher:  a.Queue,
		JobStore:   a.JobStore,
		Settlement: a.Config.Currency.Settlement,
	}
	if a.Storage != nil {
		svc.Storage = a.Storage
	}
	return svc
}

// Close releases the resources opened by New in reverse order.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
