// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig                `mapstructure:"app"`
	Server     ServerConfig             `mapstructure:"server"`
	Database   DatabaseConfig           `mapstructure:"database"`
	Backends   map[string]BackendConfig `mapstructure:"backends"`
	Resilience ResilienceConfig         `mapstructure:"resilience"`
	Health     HealthConfig             `mapstructure:"health"`
	GenAI      GenAIConfig              `mapstructure:"genai"`
	Alerts     AlertsConfig             `mapstructure:"alerts"`
	Logging    LoggingConfig            `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	OpsAddress      string `mapstructure:"ops_address"`
	APIKey          string `mapstructure:"api_key"`
	RequestDeadline int    `mapstructure:"request_deadline"` // milliseconds
}

func (s ServerConfig) RequestDeadlineDuration() time.Duration {
	return time.Duration(s.RequestDeadline) * time.Millisecond
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Backend Configuration ---

// BackendConfig holds the per-backend settings consumed by the resilience
// envelope and the gateway implementations.
type BackendConfig struct {
	BaseURL      string  `mapstructure:"base_url"`
	APIKey       string  `mapstructure:"api_key"`
	EngineID     string  `mapstructure:"engine_id"` // web search only
	Timeout      int     `mapstructure:"timeout"`   // milliseconds, per attempt
	MaxAttempts  int     `mapstructure:"max_attempts"`
	RateCapacity int     `mapstructure:"rate_capacity"` // token bucket burst
	RateRefill   float64 `mapstructure:"rate_refill"`   // tokens per second
	CacheTTL     int     `mapstructure:"cache_ttl"`     // seconds, 0 disables caching
}

func (b BackendConfig) TimeoutDuration() time.Duration {
	return time.Duration(b.Timeout) * time.Millisecond
}

func (b BackendConfig) CacheTTLDuration() time.Duration {
	return time.Duration(b.CacheTTL) * time.Second
}

// ResilienceConfig holds the shared circuit breaker and retry settings.
type ResilienceConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"` // consecutive failures
	Cooldown         int `mapstructure:"cooldown"`          // milliseconds
	RateWait         int `mapstructure:"rate_wait"`         // milliseconds, bounded queue time
	BackoffBase      int `mapstructure:"backoff_base"`      // milliseconds
	BackoffCap       int `mapstructure:"backoff_cap"`       // milliseconds
}

func (r ResilienceConfig) CooldownDuration() time.Duration {
	return time.Duration(r.Cooldown) * time.Millisecond
}

func (r ResilienceConfig) RateWaitDuration() time.Duration {
	return time.Duration(r.RateWait) * time.Millisecond
}

func (r ResilienceConfig) BackoffBaseDuration() time.Duration {
	return time.Duration(r.BackoffBase) * time.Millisecond
}

func (r ResilienceConfig) BackoffCapDuration() time.Duration {
	return time.Duration(r.BackoffCap) * time.Millisecond
}

// HealthConfig holds the background probe loop settings.
type HealthConfig struct {
	ProbeInterval int `mapstructure:"probe_interval"` // milliseconds
	ProbeTimeout  int `mapstructure:"probe_timeout"`  // milliseconds
}

func (h HealthConfig) ProbeIntervalDuration() time.Duration {
	return time.Duration(h.ProbeInterval) * time.Millisecond
}

func (h HealthConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(h.ProbeTimeout) * time.Millisecond
}

// GenAIConfig holds settings for the prose generation service.
type GenAIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

func (g GenAIConfig) TimeoutDuration() time.Duration {
	return time.Duration(g.Timeout) * time.Millisecond
}

// AlertsConfig holds settings for dividend alert delivery.
type AlertsConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Region         string   `mapstructure:"region"`
	FromEmail      string   `mapstructure:"from_email"`
	Recipients     []string `mapstructure:"recipients"`
	SMSSenderID    string   `mapstructure:"sms_sender_id"`
	WatchedTickers []string `mapstructure:"watched_tickers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
