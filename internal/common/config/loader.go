// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Known backend identifiers. Every breaker, limiter, and cache namespace is
// keyed by one of these, so defaults are applied for all of them even when the
// config file omits a section.
const (
	BackendStructured = "structured"
	BackendMarketData = "market_data"
	BackendSentiment  = "sentiment"
	BackendPrediction = "prediction"
	BackendWebSearch  = "web_search"
	BackendAlerts     = "alerts"
)

// KnownBackends lists every backend the process manages state for.
var KnownBackends = []string{
	BackendStructured,
	BackendMarketData,
	BackendSentiment,
	BackendPrediction,
	BackendWebSearch,
	BackendAlerts,
}

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like SERVER_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, ignored when absent.
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from the working directory or the project root so
// tests running from package directories see the same environment.
func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// ApplyDefaults fills in every setting the config file omitted. Exported so
// tests can build a fully-defaulted Config without a config file.
func ApplyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "dividend-orchestrator"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.OpsAddress == "" {
		cfg.Server.OpsAddress = ":9090"
	}
	if cfg.Server.RequestDeadline <= 0 {
		cfg.Server.RequestDeadline = 60000
	}

	if cfg.Resilience.FailureThreshold <= 0 {
		cfg.Resilience.FailureThreshold = 5
	}
	if cfg.Resilience.Cooldown <= 0 {
		cfg.Resilience.Cooldown = 10000
	}
	if cfg.Resilience.RateWait <= 0 {
		cfg.Resilience.RateWait = 5000
	}
	if cfg.Resilience.BackoffBase <= 0 {
		cfg.Resilience.BackoffBase = 100
	}
	if cfg.Resilience.BackoffCap <= 0 {
		cfg.Resilience.BackoffCap = 2000
	}

	if cfg.Health.ProbeInterval <= 0 {
		cfg.Health.ProbeInterval = 30000
	}
	if cfg.Health.ProbeTimeout <= 0 {
		cfg.Health.ProbeTimeout = 3000
	}

	if cfg.GenAI.Timeout <= 0 {
		cfg.GenAI.Timeout = 10000
	}

	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "news-sentiment"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Backends == nil {
		cfg.Backends = make(map[string]BackendConfig)
	}
	for _, id := range KnownBackends {
		bc := cfg.Backends[id]
		if bc.Timeout <= 0 {
			bc.Timeout = 30000
		}
		if bc.MaxAttempts <= 0 {
			bc.MaxAttempts = 3
		}
		if bc.RateCapacity <= 0 {
			bc.RateCapacity = 10
		}
		if bc.RateRefill <= 0 {
			bc.RateRefill = 5
		}
		if bc.CacheTTL < 0 {
			bc.CacheTTL = 0
		}
		cfg.Backends[id] = bc
	}

	// Backend-specific overrides where the generic defaults are wrong.
	applyBackendDefault(cfg, BackendPrediction, func(bc *BackendConfig) {
		if bc.Timeout == 30000 {
			bc.Timeout = 300000 // forecasts can be slow
		}
		if bc.CacheTTL == 0 {
			bc.CacheTTL = 900
		}
	})
	applyBackendDefault(cfg, BackendMarketData, func(bc *BackendConfig) {
		if bc.CacheTTL == 0 {
			bc.CacheTTL = 30 // quotes go stale fast
		}
	})
	applyBackendDefault(cfg, BackendStructured, func(bc *BackendConfig) {
		if bc.CacheTTL == 0 {
			bc.CacheTTL = 3600
		}
	})
	applyBackendDefault(cfg, BackendSentiment, func(bc *BackendConfig) {
		if bc.CacheTTL == 0 {
			bc.CacheTTL = 600
		}
	})
	applyBackendDefault(cfg, BackendWebSearch, func(bc *BackendConfig) {
		if bc.CacheTTL == 0 {
			bc.CacheTTL = 300
		}
	})
}

func applyBackendDefault(cfg *Config, id string, fn func(*BackendConfig)) {
	bc := cfg.Backends[id]
	fn(&bc)
	cfg.Backends[id] = bc
}

func validateConfig(cfg *Config) error {
	if cfg.Server.APIKey == "" {
		return fmt.Errorf("server.api_key is required")
	}
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if cfg.Resilience.FailureThreshold < 1 {
		return fmt.Errorf("resilience.failure_threshold must be at least 1")
	}
	return nil
}
