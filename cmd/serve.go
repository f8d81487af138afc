package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/scrapekit/internal/api"
	"github.com/JakeFAU/scrapekit/internal/clock/system"
	"github.com/JakeFAU/scrapekit/internal/config"
	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/dispatcher"
	"github.com/JakeFAU/scrapekit/internal/hash/sha256"
	"github.com/JakeFAU/scrapekit/internal/id/uuid"
	"github.com/JakeFAU/scrapekit/internal/metrics"
	"github.com/JakeFAU/scrapekit/internal/progress"
	"github.com/JakeFAU/scrapekit/internal/progress/sinks"
	pubmemory "github.com/JakeFAU/scrapekit/internal/publisher/memory"
	"github.com/JakeFAU/scrapekit/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/scrapekit/internal/queue/memory"
	"github.com/JakeFAU/scrapekit/internal/storage/gcs"
	"github.com/JakeFAU/scrapekit/internal/storage/local"
	"github.com/JakeFAU/scrapekit/internal/storage/memory"
	"github.com/JakeFAU/scrapekit/internal/storage/postgres"
	"github.com/JakeFAU/scrapekit/internal/worker"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the crawl job workers",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().IntP("port", "p", 0, "listen port")
	cmd.Flags().Int("workers", 0, "number of crawl job workers")
	bindFlag(cmd, "server.port", "port")
	bindFlag(cmd, "workers.count", "workers")
	return cmd
}

// backends holds the job infrastructure and how to release it.
type backends struct {
	jobs      crawler.JobStore
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	ready     []api.ReadyFunc
	closers   []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := e.cfg, e.logger
	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, cleanup, err := buildScraper(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	clock := system.New()
	b, err := openBackends(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	defer b.close()

	progressSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}
	if ps, ok := b.jobs.(sinks.ProgressStore); ok {
		progressSinks = append(progressSinks, sinks.NewJobSink(ps, logger.Named("progress")))
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")}, progressSinks...)

	queue := queueMemory.NewQueue(cfg.Workers.QueueDepth)
	registry := worker.NewRegistry()
	workerCfg := worker.Config{
		BlobPrefix:         cfg.Storage.Prefix,
		Topic:              cfg.Publisher.PubSub.TopicID,
		PersistConcurrency: cfg.Workers.PersistConcurrency,
		Progress:           hub,
	}
	workers := make([]dispatcher.Runner, 0, cfg.Workers.Count)
	for i := 0; i < cfg.Workers.Count; i++ {
		workers = append(workers, worker.New(
			queue,
			b.jobs,
			b.blobs,
			b.publisher,
			sha256.New(),
			clock,
			svc,
			registry,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers, registry)

	apiServer := api.NewServer(svc, b.jobs, dispatch, uuid.New(), clock, cfg, logger.Named("api"), b.ready...)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		return dispatch.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		queue.Close()
		return nil
	})

	err = g.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if cerr := hub.Close(closeCtx); cerr != nil {
		logger.Warn("progress hub close failed", zap.Error(cerr))
	}
	logger.Info("shutdown complete")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openBackends(ctx context.Context, cfg config.Config, clock crawler.Clock, logger *zap.Logger) (*backends, error) {
	b := &backends{}
	fail := func(err error) (*backends, error) {
		b.close()
		return nil, err
	}

	if cfg.Postgres.DSN != "" {
		store, err := postgres.NewJobStore(ctx, postgres.Config{
			DSN:        cfg.Postgres.DSN,
			JobsTable:  cfg.Postgres.JobsTable,
			PagesTable: cfg.Postgres.PagesTable,
			MaxConns:   cfg.Postgres.MaxConns,
		})
		if err != nil {
			return fail(fmt.Errorf("open job store: %w", err))
		}
		b.closers = append(b.closers, store.Close)
		if cfg.Postgres.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return fail(err)
			}
		}
		b.jobs = store
		b.ready = append(b.ready, store.Ping)
	} else {
		b.jobs = memory.NewJobStore(clock)
	}

	switch cfg.Storage.Backend {
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.Local.BaseDir})
		if err != nil {
			return fail(fmt.Errorf("open local storage: %w", err))
		}
		b.blobs = store
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Storage.GCS.Bucket})
		if err != nil {
			return fail(fmt.Errorf("open gcs storage: %w", err))
		}
		b.closers = append(b.closers, closeLogged(logger, "gcs client", store.Close))
		b.blobs = store
	default:
		b.blobs = memory.NewBlobStore()
	}

	switch cfg.Publisher.Backend {
	case "pubsub":
		pub, err := pubsub.Open(ctx, cfg.Publisher.PubSub.ProjectID)
		if err != nil {
			return fail(fmt.Errorf("open publisher: %w", err))
		}
		b.closers = append(b.closers, closeLogged(logger, "pubsub client", pub.Close))
		b.publisher = pub
	case "memory":
		b.publisher = pubmemory.New(logger.Named("publisher"))
	}

	logger.Info("backends ready",
		zap.Bool("postgres", cfg.Postgres.DSN != ""),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("publisher", cfg.Publisher.Backend),
	)
	return b, nil
}

func closeLogged(logger *zap.Logger, what string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			logger.Warn("close failed", zap.String("resource", what), zap.Error(err))
		}
	}
}
