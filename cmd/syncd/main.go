// Package main implements the background vector sync daemon. It re-syncs
// every profile on a fixed interval and reacts immediately to completed
// analysis jobs published over NATS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/shopassist-ai/engine/engine/embed"
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
	once := flag.Bool("once", false, "run one full sync and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, *once, logger); err != nil {
		logger.Error("syncd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, once bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	vectors, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx, embed.Dims); err != nil {
		return fmt.Errorf("qdrant collection: %w", err)
	}

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

	reg := metrics.New()
	engine := vsync.NewEngine(st, embedder, vectors, logger, reg)

	if once {
		return engine.SyncAll(ctx)
	}

	// React to completed analysis jobs instead of waiting for the next tick.
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()

		subject := status.EventSubject(status.PhaseAI, status.StateCompleted)
		sub, err := natsutil.Subscribe(nc, subject, func(evCtx context.Context, ev status.JobEvent) {
			logger.Info("analysis completed, syncing", "username", ev.Username)
			if _, err := engine.Sync(evCtx, ev.Username); err != nil {
				logger.Error("event-driven sync failed", "username", ev.Username, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer sub.Unsubscribe()
	}

	reg.ServeAsync(9091)

	interval := cfg.Sync.Interval()
	logger.Info("syncd starting", "interval", interval)

	// One pass at startup, then the steady cadence.
	if err := engine.SyncAll(ctx); err != nil {
		logger.Error("initial sync failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			return nil
		case <-ticker.C:
			if err := engine.SyncAll(ctx); err != nil {
				logger.Error("scheduled sync failed", "error", err)
			}
		}
	}
}
