package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"rainguard/config"
	"rainguard/db"
	"rainguard/ml"
	"rainguard/monitoring"
	"rainguard/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	dataPath := flag.String("data", "", "rainfall CSV (overrides dataset.path)")
	modelPath := flag.String("model_path", "", "artifact output path (overrides ml.model_path)")
	modelType := flag.String("model_type", "", "random_forest or decision_tree (overrides ml.model_type)")
	nEstimators := flag.Int("n_estimators", 0, "number of trees (overrides ml.n_estimators)")
	seed := flag.Int64("seed", 0, "random seed (overrides ml.seed)")
	includeAnnual := flag.Bool("include_annual", false, "train on ANNUAL as well")
	record := flag.Bool("record", false, "also append the run to the training log in the database")
	fromDB := flag.Bool("from_db", false, "train on the records imported into the database instead of the CSV")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.Dataset.Path = *dataPath
		case "model_path":
			cfg.ML.ModelPath = *modelPath
		case "model_type":
			cfg.ML.ModelType = *modelType
		case "n_estimators":
			cfg.ML.NEstimators = *nEstimators
		case "seed":
			cfg.ML.Seed = *seed
		case "include_annual":
			cfg.ML.IncludeAnnual = *includeAnnual
		}
	})
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := monitoring.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *fromDB, *record, logger); err != nil {
		logger.Error("training failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, fromDB, record bool, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, source, err := loadRecords(ctx, cfg, fromDB)
	if err != nil {
		return err
	}
	report := pipeline.NewDataCleaner(logger).Inspect(records)
	logger.Info("dataset loaded",
		zap.String("source", source),
		zap.Int("records", len(records)),
		zap.Int("flagged", report.Flagged),
		zap.Any("issues_by_rule", report.ByRule),
	)

	trainer := ml.NewTrainer(cfg.ML.TrainerConfig(), logger, clockwork.NewRealClock())
	result, err := trainer.Train(ctx, records)
	if err != nil {
		return err
	}

	fmt.Println("Class distribution:")
	for _, label := range ml.ClassOrder {
		fmt.Printf("  %-20s %5d  (weight %.4f)\n", label, result.ClassCounts[label], result.ClassWeights[label])
	}
	fmt.Println()
	fmt.Print(result.Report.String())

	if err := ml.SaveArtifact(cfg.ML.ModelPath, result.Artifact); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	fmt.Printf("\nModel saved as %s\n", cfg.ML.ModelPath)

	if !record {
		return nil
	}
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		logger.Warn("training log not recorded", zap.Error(err))
		return nil
	}
	defer store.Close()
	err = store.SaveTrainingLog(ctx, db.TrainingLog{
		ModelType:    result.Artifact.ModelType,
		Accuracy:     result.Report.Accuracy,
		MacroF1:      result.Report.MacroAvg.F1,
		TrainRows:    result.TrainSize,
		TestRows:     result.TestSize,
		ArtifactPath: cfg.ML.ModelPath,
		TrainedAt:    result.Artifact.TrainedAt,
	})
	if err != nil {
		logger.Warn("training log not recorded", zap.Error(err))
	}
	return nil
}

// loadRecords reads the training rows from the CSV or, with fromDB, from the
// rainfall table the server imports on start.
func loadRecords(ctx context.Context, cfg *config.Config, fromDB bool) ([]ml.RainfallRecord, string, error) {
	if !fromDB {
		records, err := pipeline.LoadRainfallFile(cfg.Dataset.Path)
		return records, cfg.Dataset.Path, err
	}
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	records, err := store.LoadRecords(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("load records: %w", err)
	}
	if len(records) == 0 {
		return nil, "", fmt.Errorf("no rainfall records in %s, import the dataset first", cfg.Database.Path)
	}
	return records, cfg.Database.Path, nil
}
