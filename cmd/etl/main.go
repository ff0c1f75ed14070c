package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	csvadapter "github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/csv"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/engine"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/geojson"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/grid"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/landslide-rainfall-etl/internal/adapter/kafka"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/config"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/observability"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	var client *engine.Client
	if cfg.FeatureStore == config.BackendEngine || cfg.RasterArchive == config.BackendEngine {
		client = engine.NewClient(cfg.EngineURL, cfg.EngineToken, cfg.EngineTimeout, logger, metrics)
		logger.Info("analysis engine enabled", "url", cfg.EngineURL, "cache_size", cfg.EngineCacheSize)
	}

	var store domain.FeatureStore = geojson.NewStore(cfg.FeatureDir, logger)
	if cfg.FeatureStore == config.BackendEngine {
		store = client
	}

	var archive domain.RasterArchive = grid.NewArchive(cfg.RasterDir, logger, metrics)
	if cfg.RasterArchive == config.BackendEngine {
		archive = engine.NewCachedArchive(client, cfg.EngineCacheSize, metrics)
	}

	if cfg.HasExport(config.FormatKafka) {
		logger.Info("kafka export enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	}
	sinks, closers := buildSinks(cfg, logger)

	resolver := domain.NewDateResolver(cfg.DateFields, cfg.TimezoneOffset, logger)
	stage := domain.NewRainfallStage(archive, resolver, cfg.MaxPixels)
	driver := pipeline.New(store, stage, resolver, sinks, pipeline.Options{
		Concurrency:    cfg.Concurrency,
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		RateLimit:      cfg.RateLimit,
		Join:           cfg.Join,
	}, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, driver, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Serve health and metrics while the batch runs.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	logger.Info("pipeline starting",
		"target_asset", cfg.TargetAsset,
		"counterpart_asset", cfg.CounterpartAsset,
		"feature_store", cfg.FeatureStore,
		"raster_archive", cfg.RasterArchive,
		"windows", len(cfg.Windows),
		"exports", cfg.ExportFormats,
	)
	runErr := driver.Execute(ctx, cfg.TargetAsset, cfg.CounterpartAsset, cfg.Windows)
	if runErr != nil {
		logger.Error("pipeline failed", "error", runErr)
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("exporter close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

func buildSinks(cfg *config.Config, logger *slog.Logger) ([]pipeline.Sink, []io.Closer) {
	var (
		sinks   []pipeline.Sink
		closers []io.Closer
	)
	for _, format := range cfg.ExportFormats {
		switch format {
		case config.FormatCSV:
			sinks = append(sinks, pipeline.Sink{Format: format, Exporter: csvadapter.NewExporter(cfg.ExportDir, logger)})
		case config.FormatGeoJSON:
			sinks = append(sinks, pipeline.Sink{Format: format, Exporter: geojson.NewExporter(cfg.ExportDir, logger)})
		case config.FormatKafka:
			w := kafkaadapter.NewWriter(cfg, logger)
			sinks = append(sinks, pipeline.Sink{Format: format, Exporter: w})
			closers = append(closers, w)
		}
	}
	return sinks, closers
}
