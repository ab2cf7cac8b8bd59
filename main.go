package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rainguard/config"
	"rainguard/db"
	qhttp "rainguard/http"
	"rainguard/ml"
	"rainguard/monitoring"
	"rainguard/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := monitoring.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("exiting")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	clock := clockwork.NewRealClock()

	// 2. Open the database and seed it from the CSV on first start
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	logger.Info("database ready", zap.String("path", cfg.Database.Path))

	if cfg.Dataset.ImportOnStart {
		ingester := pipeline.NewDataIngester(pipeline.IngestionConfig{}, store, pipeline.NewDataCleaner(logger), logger, clock)
		n, err := ingester.ImportIfEmpty(ctx, cfg.Dataset.Path)
		switch {
		case err != nil:
			logger.Warn("dataset import failed, rainfall history will be empty",
				zap.String("path", cfg.Dataset.Path), zap.Error(err))
		case n > 0:
			logger.Info("dataset imported", zap.Int("records", n), zap.Int64("quality_issues", ingester.Stats().QualityIssues))
		}
	}

	// 3. Metrics and model
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	model := ml.NewModelHandle(cfg.ML.ModelPath, cfg.ML.ModelType, cfg.ML.PredictorOptions(), logger)
	model.OnLoad(func(*ml.Predictor) { metrics.ObserveModelLoad() })
	model.OnLoadError(func(error) { metrics.ObserveModelLoadFailure(model.Loaded()) })
	if _, err := model.Predictor(); err != nil {
		logger.Warn("model not loaded, prediction endpoints return 503 until an artifact is trained",
			zap.String("path", cfg.ML.ModelPath), zap.Error(err))
	}

	// 4. Event sink
	var publisher pipeline.Publisher = pipeline.NopPublisher{}
	if cfg.Kafka.Enabled {
		kp, err := pipeline.NewKafkaPublisher(cfg.Kafka.PublisherConfig(), logger)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		publisher = kp
		logger.Info("publishing predictions", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer publisher.Close()

	// 5. HTTP server with graceful shutdown
	handlers := qhttp.NewHandlers(qhttp.Deps{
		Model:     model,
		Store:     store,
		Publisher: publisher,
		Metrics:   metrics,
		Clock:     clock,
		Logger:    logger,
	})
	server := qhttp.NewServer(cfg.HTTP.ServerConfig(), handlers, metrics, registry, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})
	if cfg.ML.WatchModel {
		g.Go(func() error {
			if err := model.Watch(gctx); err != nil {
				logger.Warn("model watch disabled", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}
