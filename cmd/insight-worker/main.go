// Command insight-worker consumes document lifecycle events off the broker
// and drives a document through ingest, embed, and index, keeping the
// object store and search index converged on the relational database.
//
// Usage:
//
//	insight-worker process-messages   Consume the queue and run stage handlers (default)
//	insight-worker create-index       Create the search index if it does not exist
//	insight-worker delete-index       Delete the search index
//	insight-worker rebuild-index      Mark every inode unindexed and re-dispatch index_inode
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/resolve-works/insight-worker/internal/broker"
	"github.com/resolve-works/insight-worker/internal/config"
	"github.com/resolve-works/insight-worker/internal/embed"
	"github.com/resolve-works/insight-worker/internal/objectstore"
	"github.com/resolve-works/insight-worker/internal/pdfproc"
	"github.com/resolve-works/insight-worker/internal/pipeline"
	"github.com/resolve-works/insight-worker/internal/search"
	"github.com/resolve-works/insight-worker/internal/store"
	"github.com/resolve-works/insight-worker/pkg/metrics"
	"github.com/resolve-works/insight-worker/pkg/mid"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	command := "process-messages"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	if err := run(command, cfg, logger); err != nil {
		logger.Error("insight-worker exited with error", "command", command, "error", err)
		os.Exit(1)
	}
}

// deps bundles the concrete adapters every subcommand needs. Not every
// subcommand uses every field.
type deps struct {
	store     *store.Store
	objects   *objectstore.Store
	searchIdx *search.Index
	embedder  *embed.Client
	broker    *broker.Conn
	metrics   *metrics.Registry
}

func connect(ctx context.Context, cfg config.Config, logger *slog.Logger, needBroker bool) (*deps, func(), error) {
	st, err := store.Connect(ctx, cfg.PostgresURI)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := st.CheckSchema(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("check schema: %w", err)
	}

	objects, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:  cfg.StorageEndpoint,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		Bucket:    cfg.StorageBucket,
		Region:    cfg.StorageRegion,
	})
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("connect object store: %w", err)
	}

	searchIdx, err := search.New(search.Config{
		Endpoint: cfg.OpenSearchEndpoint,
		User:     cfg.OpenSearchUser,
		Password: cfg.OpenSearchPassword,
		CACert:   cfg.OpenSearchCACert,
	})
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("connect search index: %w", err)
	}

	embedder := embed.New("", cfg.OpenAIAPIKey, cfg.EmbeddingModel)

	d := &deps{
		store:     st,
		objects:   objects,
		searchIdx: searchIdx,
		embedder:  embedder,
		metrics:   metrics.New(),
	}

	cleanup := func() { st.Close() }

	if needBroker {
		conn, err := broker.Connect(broker.Config{
			Host:     cfg.RabbitMQHost,
			User:     cfg.RabbitMQUser,
			Password: cfg.RabbitMQPassword,
			SSL:      cfg.RabbitMQSSL,
			Queue:    cfg.Queue,
		})
		if err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("connect broker: %w", err)
		}
		d.broker = conn
		cleanup = func() {
			conn.Close()
			st.Close()
		}
	}

	return d, cleanup, nil
}

func run(command string, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "create-index":
		d, cleanup, err := connect(ctx, cfg, logger, false)
		if err != nil {
			return err
		}
		defer cleanup()
		return d.searchIdx.CreateIndex(ctx)

	case "delete-index":
		d, cleanup, err := connect(ctx, cfg, logger, false)
		if err != nil {
			return err
		}
		defer cleanup()
		return d.searchIdx.DeleteIndex(ctx)

	case "rebuild-index":
		d, cleanup, err := connect(ctx, cfg, logger, true)
		if err != nil {
			return err
		}
		defer cleanup()
		return rebuildIndex(ctx, d, logger)

	case "process-messages":
		d, cleanup, err := connect(ctx, cfg, logger, true)
		if err != nil {
			return err
		}
		defer cleanup()
		return processMessages(ctx, cfg, d, logger)

	default:
		return fmt.Errorf("unknown command %q (want create-index, delete-index, rebuild-index, process-messages)", command)
	}
}

// rebuildIndex marks every inode unindexed and re-publishes index_inode for
// each, converging the search index on the database without reprocessing
// ingest or embed.
func rebuildIndex(ctx context.Context, d *deps, logger *slog.Logger) error {
	if err := d.store.SetIndexedFalseAll(ctx); err != nil {
		return fmt.Errorf("reset is_indexed: %w", err)
	}

	ids, err := d.store.ListAllInodeIDs(ctx)
	if err != nil {
		return fmt.Errorf("list inode ids: %w", err)
	}

	for _, id := range ids {
		var payload broker.AfterEvent
		payload.After.ID = id
		if err := d.broker.PublishJSON(ctx, broker.TaskExchange, broker.RoutingIndex, payload); err != nil {
			logger.Error("publish index_inode during rebuild failed", "inode_id", id, "error", err)
		}
	}
	logger.Info("rebuild-index dispatched", "count", len(ids))
	return nil
}

// processMessages is the worker's steady-state mode: consume the queue,
// dispatch every delivery to its stage handler, and serve /metrics
// alongside it until the process receives a shutdown signal.
func processMessages(ctx context.Context, cfg config.Config, d *deps, logger *slog.Logger) error {
	if err := d.searchIdx.CreateIndex(ctx); err != nil {
		return fmt.Errorf("ensure search index: %w", err)
	}

	handlers := &pipeline.Handlers{
		Store:     d.store,
		Objects:   d.objects,
		Search:    pipeline.NewSearchIndex(d.searchIdx),
		Embedder:  d.embedder,
		PDF:       pipeline.NewPDFToolchain(pdfproc.DefaultOCROptions),
		Publisher: d.broker,
		Log:       logger,
	}
	dispatcher := &pipeline.Dispatcher{Handlers: handlers, Metrics: d.metrics, Log: logger}

	deliveries, err := d.broker.Consume(cfg.Queue)
	if err != nil {
		return fmt.Errorf("consume queue %q: %w", cfg.Queue, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := mid.Chain(mux, mid.Recover(logger), mid.Logger(logger))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("metrics server starting", "port", cfg.MetricsPort)
		srvErr <- srv.ListenAndServe()
	}()

	dispatchErr := make(chan error, 1)
	go func() {
		dispatchErr <- dispatcher.Run(ctx, deliveries)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-dispatchErr:
		if err != nil && err != context.Canceled {
			logger.Error("dispatcher exited", "error", err)
		}
	case err := <-srvErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", "error", err)
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
