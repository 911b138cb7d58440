package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/building-motion-etl/internal/adapter/filesystem"
	httpadapter "github.com/couchcryptid/building-motion-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/building-motion-etl/internal/adapter/kafka"
	"github.com/couchcryptid/building-motion-etl/internal/adapter/websocket"
	"github.com/couchcryptid/building-motion-etl/internal/config"
	"github.com/couchcryptid/building-motion-etl/internal/observability"
	"github.com/couchcryptid/building-motion-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	source := filesystem.NewSource(cfg.DataDir, cfg.MappingFile, logger)
	hub := websocket.NewHub(logger, metrics)

	opts := []pipeline.Option{
		pipeline.WithBroadcaster(hub),
		pipeline.WithReloadInterval(cfg.ReloadInterval),
	}

	// Frame publishing is feature-flagged via KAFKA_ENABLED / KAFKA_BROKERS.
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger, metrics)
		opts = append(opts, pipeline.WithPublisher(writer))
		logger.Info("kafka frame publishing enabled", "topic", cfg.KafkaTopic, "batch_size", cfg.PublishBatchSize)
	} else {
		logger.Info("kafka frame publishing disabled")
	}

	p := pipeline.New(source, pipeline.NewBuilder(logger), logger, metrics, opts...)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger, metrics, httpadapter.Options{
		Progress:       hub,
		FrameCacheSize: cfg.FrameCacheSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ingestion pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
