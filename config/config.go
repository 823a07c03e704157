// Package config loads service and training settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"flightdelay/features"
	"flightdelay/lifecycle"
	"flightdelay/logging"
	"flightdelay/ml"
)

// EnvPrefix prefixes every environment override, e.g. FLIGHTDELAY_HTTP_PORT.
const EnvPrefix = "FLIGHTDELAY"

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       logging.Config  `yaml:"log"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Database  DatabaseConfig  `yaml:"database"`
	Data      DataConfig      `yaml:"data"`
	Schema    SchemaConfig    `yaml:"schema"`
	Training  TrainingConfig  `yaml:"training"`
	Search    ml.SearchConfig `yaml:"search"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins" split_words:"true"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" split_words:"true"`
	CacheSize      int           `yaml:"cache_size" split_words:"true"`
}

type ArtifactsConfig struct {
	Dir       string         `yaml:"dir"`
	ModelType string         `yaml:"model_type" split_words:"true"`
	ONNX      ml.ONNXOptions `yaml:"onnx"`
}

type DatabaseConfig struct {
	Path           string `yaml:"path"`
	LogPredictions bool   `yaml:"log_predictions" split_words:"true"`
}

type DataConfig struct {
	Path      string `yaml:"path"`
	Encoding  string `yaml:"encoding"`
	Delimiter string `yaml:"delimiter"`
}

type SchemaConfig struct {
	// File is an optional allow-list YAML; empty means the canonical schema.
	File string `yaml:"file"`
}

type TrainingConfig struct {
	DelayThreshold      float64 `yaml:"delay_threshold" split_words:"true"`
	TestRatio           float64 `yaml:"test_ratio" split_words:"true"`
	EarlyStoppingRounds int     `yaml:"early_stopping_rounds" split_words:"true"`
	Seed                int64   `yaml:"seed"`
}

// Default returns the settings used when neither file nor environment say otherwise.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:         8080,
			Timeout:      10 * time.Second,
			MaxBodyBytes: 1 << 20,
			CacheSize:    4096,
		},
		Log: logging.Config{
			Level:      "info",
			Env:        "development",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Artifacts: ArtifactsConfig{Dir: "artifacts", ModelType: ml.KindGBDT},
		Database:  DatabaseConfig{Path: "flightdelay.db"},
		Data:      DataConfig{Path: "data/data.csv", Encoding: "utf-8"},
		Training: TrainingConfig{
			DelayThreshold:      features.DefaultDelayThreshold,
			TestRatio:           0.2,
			EarlyStoppingRounds: 10,
			Seed:                42,
		},
		Search: ml.DefaultSearchConfig(),
	}
}

// Load reads path over the defaults (a missing file is allowed when path is empty), loads
// .env when present, applies FLIGHTDELAY_* overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Port <= 0 || c.HTTP.Port > 65535:
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	case c.HTTP.Timeout <= 0:
		return errors.New("http.timeout must be positive")
	case c.HTTP.MaxBodyBytes <= 0:
		return errors.New("http.max_body_bytes must be positive")
	case c.HTTP.CacheSize < 0:
		return errors.New("http.cache_size must not be negative")
	case c.Artifacts.Dir == "":
		return errors.New("artifacts.dir is required")
	case c.Training.DelayThreshold < 0:
		return errors.New("training.delay_threshold must not be negative")
	case c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1:
		return fmt.Errorf("training.test_ratio %.3f must be in (0, 1)", c.Training.TestRatio)
	case c.Training.EarlyStoppingRounds < 0:
		return errors.New("training.early_stopping_rounds must not be negative")
	case c.Search.NIter <= 0:
		return errors.New("search.n_iter must be positive")
	case c.Search.Folds < 2:
		return errors.New("search.folds must be at least 2")
	case len([]rune(c.Data.Delimiter)) > 1:
		return fmt.Errorf("data.delimiter %q must be a single character", c.Data.Delimiter)
	}
	if _, err := ml.ModelFile(c.Artifacts.ModelType); err != nil {
		return fmt.Errorf("artifacts.model_type: %w", err)
	}
	return c.Search.Space.Validate()
}

// DelimiterRune returns the CSV delimiter, zero for the default comma.
func (d DataConfig) DelimiterRune() rune {
	for _, r := range d.Delimiter {
		return r
	}
	return 0
}

// Lifecycle translates the training and search sections into lifecycle options.
func (c *Config) Lifecycle() lifecycle.Options {
	opts := lifecycle.DefaultOptions()
	opts.TestRatio = c.Training.TestRatio
	opts.EarlyStoppingRounds = c.Training.EarlyStoppingRounds
	opts.Seed = c.Training.Seed
	opts.Search = c.Search
	return opts
}
