package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	qhttp "rainguard/http"
	"rainguard/ml"
	"rainguard/monitoring"
	"rainguard/pipeline"
)

// EnvPrefix prefixes every environment override, e.g. RAINGUARD_HTTP_PORT.
const EnvPrefix = "RAINGUARD"

type Config struct {
	Dataset  DatasetConfig        `yaml:"dataset" envconfig:"DATASET"`
	Database DatabaseConfig       `yaml:"database" envconfig:"DATABASE"`
	HTTP     HTTPConfig           `yaml:"http" envconfig:"HTTP"`
	Log      monitoring.LogConfig `yaml:"log" envconfig:"LOG"`
	ML       MLConfig             `yaml:"ml" envconfig:"ML"`
	Kafka    KafkaConfig          `yaml:"kafka" envconfig:"KAFKA"`
}

type DatasetConfig struct {
	Path          string `yaml:"path" split_words:"true" validate:"required"`
	ImportOnStart bool   `yaml:"import_on_start" split_words:"true"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" split_words:"true" validate:"required"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port" split_words:"true" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true" validate:"gt=0"`
	RequestTimeout  time.Duration `yaml:"request_timeout" split_words:"true" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true" validate:"gt=0"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" split_words:"true" validate:"gt=0"`
	AllowedOrigins  []string      `yaml:"allowed_origins" split_words:"true"`
}

type MLConfig struct {
	ModelPath       string  `yaml:"model_path" split_words:"true" validate:"required"`
	ModelType       string  `yaml:"model_type" split_words:"true" validate:"oneof=random_forest decision_tree"`
	NEstimators     int     `yaml:"n_estimators" split_words:"true" validate:"min=1"`
	Seed            int64   `yaml:"seed" split_words:"true"`
	TestRatio       float64 `yaml:"test_ratio" split_words:"true" validate:"gt=0,lt=1"`
	MaxDepth        int     `yaml:"max_depth" split_words:"true" validate:"gte=0"`
	MinSamplesSplit int     `yaml:"min_samples_split" split_words:"true" validate:"min=2"`
	MaxFeatures     string  `yaml:"max_features" split_words:"true"`
	IncludeAnnual   bool    `yaml:"include_annual" split_words:"true"`
	Jobs            int     `yaml:"jobs" split_words:"true" validate:"min=1"`
	CacheSize       int     `yaml:"cache_size" split_words:"true" validate:"gte=0"`
	WatchModel      bool    `yaml:"watch_model" split_words:"true"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled" split_words:"true"`
	Brokers      []string      `yaml:"brokers" split_words:"true" validate:"required_if=Enabled true"`
	Topic        string        `yaml:"topic" split_words:"true" validate:"required_if=Enabled true"`
	WriteTimeout time.Duration `yaml:"write_timeout" split_words:"true" validate:"gte=0"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	trainer := ml.DefaultTrainerConfig()
	return &Config{
		Dataset: DatasetConfig{
			Path:          "data/rainfall_area-wt_India_1901-2015.csv",
			ImportOnStart: true,
		},
		Database: DatabaseConfig{Path: "data/rainguard.db"},
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			AllowedOrigins:  []string{"*"},
		},
		Log: monitoring.LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		ML: MLConfig{
			ModelPath:       "models/water_scarcity_model.zst",
			ModelType:       trainer.ModelType,
			NEstimators:     trainer.NEstimators,
			Seed:            trainer.Seed,
			TestRatio:       trainer.TestRatio,
			MinSamplesSplit: trainer.MinSamplesSplit,
			MaxFeatures:     trainer.MaxFeatures,
			Jobs:            trainer.Jobs,
			CacheSize:       1024,
		},
		Kafka: KafkaConfig{
			Topic:        "rainguard.predictions",
			WriteTimeout: 5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when absent), a .env file and RAINGUARD_* environment variables, in that
// order of precedence, and validates the result.
func Load(path string) (*Config, error) {
	// .env never overrides variables already set in the environment
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.UnmarshalStrict(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the max_features setting.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return errors.New("invalid configuration: kafka enabled without brokers")
	}
	if _, err := ml.ResolveMaxFeatures(cfg.ML.MaxFeatures, len(ml.TrainingFeatures(cfg.ML.IncludeAnnual))); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// TrainerConfig maps the ml section onto the trainer's parameters.
func (c MLConfig) TrainerConfig() ml.TrainerConfig {
	return ml.TrainerConfig{
		ModelType:       c.ModelType,
		NEstimators:     c.NEstimators,
		Seed:            c.Seed,
		TestRatio:       c.TestRatio,
		MaxDepth:        c.MaxDepth,
		MinSamplesSplit: c.MinSamplesSplit,
		MaxFeatures:     c.MaxFeatures,
		IncludeAnnual:   c.IncludeAnnual,
		Jobs:            c.Jobs,
	}
}

func (c MLConfig) PredictorOptions() ml.PredictorOptions {
	return ml.PredictorOptions{CacheSize: c.CacheSize}
}

func (c KafkaConfig) PublisherConfig() pipeline.KafkaConfig {
	return pipeline.KafkaConfig{
		Brokers:      c.Brokers,
		Topic:        c.Topic,
		WriteTimeout: c.WriteTimeout,
	}
}

func (c HTTPConfig) ServerConfig() qhttp.ServerConfig {
	return qhttp.ServerConfig{
		Port:           c.Port,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		RequestTimeout: c.RequestTimeout,
		MaxBodyBytes:   c.MaxBodyBytes,
		AllowedOrigins: c.AllowedOrigins,
	}
}
