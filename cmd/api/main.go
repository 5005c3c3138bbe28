// Package main implements the ShopAssist ingestion and search API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/shopassist-ai/engine/engine/embed"
	"github.com/shopassist-ai/engine/engine/enrich"
	"github.com/shopassist-ai/engine/engine/scraper"
	"github.com/shopassist-ai/engine/engine/search"
	"github.com/shopassist-ai/engine/engine/semantic"
	"github.com/shopassist-ai/engine/engine/status"
	"github.com/shopassist-ai/engine/engine/store"
	"github.com/shopassist-ai/engine/engine/vsync"
	"github.com/shopassist-ai/engine/pkg/config"
	"github.com/shopassist-ai/engine/pkg/metrics"
	"github.com/shopassist-ai/engine/pkg/natsutil"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfgPath := flag.String("config", os.Getenv("SHOPASSIST_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Metadata store ---
	var st store.Store
	if cfg.Mongo.URI != "" {
		m, client, err := store.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return fmt.Errorf("mongo connect: %w", err)
		}
		defer client.Disconnect(context.Background())
		st = m
	} else {
		logger.Warn("no mongo.uri configured, using in-memory metadata store")
		st = store.NewMemory()
	}

	// --- Vector index ---
	vectors, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx, embed.Dims); err != nil {
		return fmt.Errorf("qdrant collection: %w", err)
	}

	// --- Job event publishing ---
	trackerOpts := []status.Option{status.WithLogger(logger)}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		trackerOpts = append(trackerOpts, status.WithPublisher(&natsPublisher{nc: nc, logger: logger}))
	}
	tracker := status.NewTracker(trackerOpts...)

	// --- Clients and services ---
	reg := metrics.New()
	token := cfg.Vertex.AccessToken

	embedder := embed.NewHTTPClient(embed.Opts{
		BaseURL:  cfg.Vertex.BaseURL,
		Project:  cfg.Vertex.Project,
		Location: cfg.Vertex.Location,
		Model:    cfg.Vertex.EmbedModel,
		Token: func(context.Context) (string, error) {
			return token, nil
		},
	})
	annotator := enrich.NewGeminiClient(enrich.GeminiOpts{
		BaseURL:  cfg.Vertex.BaseURL,
		Project:  cfg.Vertex.Project,
		Location: cfg.Vertex.Location,
		Model:    cfg.Vertex.GeminiModel,
		Token: func(context.Context) (string, error) {
			return token, nil
		},
		RequestsPerSecond: cfg.Vertex.RequestsPerSecond,
	})
	rapid := scraper.NewRapidClient(scraper.RapidOpts{
		Host:              cfg.Scraper.Host,
		APIKey:            cfg.Scraper.APIKey,
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
	})

	syncer := vsync.NewEngine(st, embedder, vectors, logger, reg)
	srv := &server{
		scraper:         scraper.New(rapid, st, tracker, logger, reg),
		processor:       enrich.NewProcessor(st, annotator, tracker, logger, reg),
		syncer:          syncer,
		searcher:        search.New(embedder, vectors, search.Options{}, logger, reg),
		tracker:         tracker,
		logger:          logger,
		reg:             reg,
		defaultMaxPosts: cfg.Scraper.DefaultMaxPosts,
		jobs:            ctx,
	}

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.handler(cfg.Server.CORSOrigin),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Server.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// natsPublisher forwards job lifecycle events to NATS. Publish failures
// are logged and dropped: job state is authoritative in the tracker.
type natsPublisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func (p *natsPublisher) PublishJobEvent(ev status.JobEvent) {
	subject := status.EventSubject(ev.Phase, ev.State)
	if err := natsutil.Publish(context.Background(), p.nc, subject, ev); err != nil {
		p.logger.Error("job event publish failed", "subject", subject, "error", err)
	}
}
