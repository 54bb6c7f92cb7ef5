// Package config loads the processing core's layered configuration:
// config/default.yaml merged with config/<env>.yaml, the environment
// selected by MEDICAL_ASSISTANT_ENV.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// APIConfig holds provider call timeout, retry, and circuit-breaker defaults.
type APIConfig struct {
	TimeoutSeconds          int     `yaml:"timeout"`
	MaxRetries              int     `yaml:"max_retries"`
	InitialRetryDelayMS     int     `yaml:"initial_retry_delay_ms"`
	BackoffFactor           float64 `yaml:"backoff_factor"`
	MaxRetryDelaySeconds    int     `yaml:"max_retry_delay"`
	CircuitBreakerThreshold int     `yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeoutS  int     `yaml:"circuit_breaker_timeout"`
}

// StorageConfig holds filesystem and connection-pool sizing.
type StorageConfig struct {
	BaseFolder   string `yaml:"base_folder"`
	DatabaseName string `yaml:"database_name"`
	DBPoolSize   int    `yaml:"db_pool_size"`
	DBTimeoutS   int    `yaml:"db_timeout"`
}

// Config is the fully merged, environment-selected configuration.
type Config struct {
	Env                   string        `yaml:"-"`
	API                   APIConfig     `yaml:"api"`
	Storage               StorageConfig `yaml:"storage"`
	MaxBackgroundWorkers  int           `yaml:"max_background_workers"`
	AutoRetryFailed       bool          `yaml:"auto_retry_failed"`
	MaxRetryAttempts      int           `yaml:"max_retry_attempts"`
	LogLevel              string        `yaml:"log_level"`
	SentryDSN             string        `yaml:"-"`
}

// ScaledAPITimeout returns the larger of the base timeout and a
// per-kilobyte allowance, so large recordings aren't cut off by a
// timeout sized for a short dictation.
func (c Config) ScaledAPITimeout(audioKB int64) time.Duration {
	base := time.Duration(c.API.TimeoutSeconds) * time.Second
	scaled := time.Duration(float64(audioKB)/500.0*60.0) * time.Second
	if scaled > base {
		return scaled
	}
	return base
}

func defaultConfig() Config {
	return Config{
		API: APIConfig{
			TimeoutSeconds:          30,
			MaxRetries:              3,
			InitialRetryDelayMS:     500,
			BackoffFactor:           2.0,
			MaxRetryDelaySeconds:    30,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeoutS:  60,
		},
		Storage: StorageConfig{
			BaseFolder:   "./data/recordings",
			DatabaseName: "dictation_core.db",
			DBPoolSize:   5,
			DBTimeoutS:   10,
		},
		MaxBackgroundWorkers: 4,
		AutoRetryFailed:      true,
		MaxRetryAttempts:     3,
		LogLevel:             "info",
	}
}

// EnvName resolves MEDICAL_ASSISTANT_ENV, defaulting to "development".
func EnvName() string {
	env := strings.TrimSpace(os.Getenv("MEDICAL_ASSISTANT_ENV"))
	switch env {
	case "production", "testing":
		return env
	default:
		return "development"
	}
}

// Load reads config/default.yaml, overlays config/<env>.yaml if present,
// and applies SENTRY_DSN/LOG_LEVEL env overrides. Missing files are not an
// error — the compiled-in defaults stand in.
func Load(configDir string) (Config, error) {
	godotenv.Load()

	cfg := defaultConfig()
	cfg.Env = EnvName()

	if err := mergeYAMLFile(&cfg, configDir+"/default.yaml"); err != nil {
		return cfg, err
	}
	if err := mergeYAMLFile(&cfg, configDir+"/"+cfg.Env+".yaml"); err != nil {
		return cfg, err
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	cfg.SentryDSN = os.Getenv("SENTRY_DSN")

	return cfg, nil
}

func mergeYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}
