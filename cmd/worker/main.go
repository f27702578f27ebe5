package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/rs/zerolog"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("LEDGER_CONFIG"), "Path to the YAML config file (or set LEDGER_CONFIG env)")
		owners     = flag.String("owners", "", "Comma separated owner ids whose balances are snapshotted")
		interval   = flag.Duration("snapshot-interval", 24*time.Hour, "How often to enqueue balance snapshots")
		importURI  = flag.String("import-uri", "", "gs:// URI of a statement to import once at startup")
		ownerID    = flag.String("owner", "", "Owner of the -import-uri statement")
		accountID  = flag.String("account", "", "Account of the -import-uri statement")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l := logger.New()
		l.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger
	log := logger.Configure(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	log.Info().Msg("Starting worker service")

	// Start consuming jobs
	if err := a.Queue.Start(ctx, a.Processor.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	if *importURI != "" {
		job := &jobs.Job{
			Type:      jobs.JobTypeImportStatement,
			OwnerID:   *ownerID,
			AccountID: *accountID,
			GCSURI:    *importURI,
		}
		if err := a.Queue.Publish(ctx, job); err != nil {
			log.Fatal().Err(err).Msg("Failed to enqueue import job")
		}
		log.Info().Str("job_id", job.JobID).Str("gcs_uri", *importURI).Msg("Import job enqueued")
	}

	snapshotOwners := splitOwners(*owners)
	if len(snapshotOwners) > 0 {
		go scheduleSnapshots(ctx, a.Queue, snapshotOwners, *interval, log)
	}

	log.Info().Int("snapshot_owners", len(snapshotOwners)).Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Worker service exited")
}

func splitOwners(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// scheduleSnapshots enqueues a snapshot job per owner now and then on every tick.
func scheduleSnapshots(ctx context.Context, pub jobs.Publisher, owners []string, every time.Duration, log zerolog.Logger) {
	enqueue := func() {
		for _, owner := range owners {
			job := &jobs.Job{Type: jobs.JobTypeSnapshotBalances, OwnerID: owner}
			if err := pub.Publish(ctx, job); err != nil {
				log.Error().Err(err).Str("owner_id", owner).Msg("Failed to enqueue snapshot job")
			}
		}
	}

	enqueue()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enqueue()
		}
	}
}
