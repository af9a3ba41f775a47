// Package config handles loading and validating Sauti configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Sauti.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root. Default: ~/.sauti/workspace. Override: SAUTI_WORKSPACE env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`     // nil = SQLite default (derived from workspace)
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Gateway       GatewayConfig        `json:"gateway" yaml:"gateway"`
	Voice         *VoiceConfig         `json:"voice,omitempty" yaml:"voice,omitempty"`                 // nil = voice endpoints disabled
	Reaper        *ReaperConfig        `json:"reaper,omitempty" yaml:"reaper,omitempty"`               // nil = reaper disabled
	Server        ServerConfig         `json:"server" yaml:"server"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the workspace.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from workspace.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Can be overridden by SAUTI_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// SandboxConfig configures per-user agent sandboxes.
type SandboxConfig struct {
	Image       string  `json:"image" yaml:"image"`                   // Agent container image.
	MaxMemoryMB int     `json:"max_memory_mb" yaml:"max_memory_mb"`   // Default: 512.
	CPUCores    float64 `json:"cpu_cores" yaml:"cpu_cores"`           // Default: 1.0.
	PIDsLimit   int     `json:"pids_limit" yaml:"pids_limit"`         // Default: 256.
	AgentPort   int     `json:"agent_port" yaml:"agent_port"`         // Port the agent listens on. Default: 8088.
	Network     string  `json:"network" yaml:"network"`               // Private bridge network. Default: "sauti".
	HealthPollS int     `json:"health_poll_s" yaml:"health_poll_s"`   // Health poll interval. Default: 2.
	HealthTries int     `json:"health_tries" yaml:"health_tries"`     // Health attempt budget. Default: 30.
}

// HealthPollInterval returns the health polling interval with a default of 2s.
func (s *SandboxConfig) HealthPollInterval() time.Duration {
	if s.HealthPollS > 0 {
		return time.Duration(s.HealthPollS) * time.Second
	}
	return 2 * time.Second
}

// HealthAttempts returns the health polling attempt budget with a default of 30.
func (s *SandboxConfig) HealthAttempts() int {
	if s.HealthTries > 0 {
		return s.HealthTries
	}
	return 30
}

// GatewayConfig configures the shared routing gateway: where to reach it and
// how its binding registry is maintained.
type GatewayConfig struct {
	URL           string `json:"url" yaml:"url"` // Base URL of the routing gateway. Can be overridden by SAUTI_GATEWAY_URL env var.
	Model         string `json:"model" yaml:"model"`                     // Model requested from the gateway. Default: "default".
	Binding       string `json:"binding" yaml:"binding"`                 // Channel binding recorded in registry entries. Default: "api".
	RegistryPath  string `json:"registry_path" yaml:"registry_path"`     // Shared registry file. Default: derived from workspace.
	DebounceS     int    `json:"debounce_s" yaml:"debounce_s"`           // Reload debounce window. Default: 5.
	ReloadCommand string `json:"reload_command" yaml:"reload_command"`   // Shell command run to reload the gateway. Empty = log only.
}

// Debounce returns the reload debounce window with a default of 5s.
func (g *GatewayConfig) Debounce() time.Duration {
	if g.DebounceS > 0 {
		return time.Duration(g.DebounceS) * time.Second
	}
	return 5 * time.Second
}

// GatewayModel returns the model with a default of "default".
func (g *GatewayConfig) GatewayModel() string {
	if g.Model != "" {
		return g.Model
	}
	return "default"
}

// GatewayBinding returns the channel binding with a default of "api".
func (g *GatewayConfig) GatewayBinding() string {
	if g.Binding != "" {
		return g.Binding
	}
	return "api"
}

// VoiceConfig configures the voice streaming pipeline.
// When nil, the voice endpoints are disabled.
type VoiceConfig struct {
	TTS        TTSConfig `json:"tts" yaml:"tts"`
	CreditCost float64   `json:"credit_cost" yaml:"credit_cost"` // Fixed per-request cost. Default: 1.
	BatchSize  int       `json:"batch_size" yaml:"batch_size"`   // Synthesis batch size. Default: 3.
}

// Cost returns the per-request credit cost with a default of 1.
func (v *VoiceConfig) Cost() float64 {
	if v != nil && v.CreditCost > 0 {
		return v.CreditCost
	}
	return 1
}

// SynthBatchSize returns the synthesis batch size with a default of 3.
func (v *VoiceConfig) SynthBatchSize() int {
	if v != nil && v.BatchSize > 0 {
		return v.BatchSize
	}
	return 3
}

// TTSConfig configures the speech synthesis backend.
type TTSConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"` // OpenAI-compatible endpoint. Default: https://api.openai.com.
	APIKey  string `json:"api_key" yaml:"api_key"`   // Can be overridden by TTS_API_KEY or OPENAI_API_KEY env vars.
	Model   string `json:"model" yaml:"model"`       // Default: "tts-1".
	Voice   string `json:"voice" yaml:"voice"`       // Default: "alloy".
	Format  string `json:"format" yaml:"format"`     // mp3 (default), opus, aac, flac, wav.
}

// ReaperConfig configures the idle-sandbox reaper.
// When nil, the reaper never runs in server mode.
type ReaperConfig struct {
	Schedule          string `json:"schedule" yaml:"schedule"`                       // Cron expression. Default: "0 */6 * * *".
	FreeThresholdDays int    `json:"free_threshold_days" yaml:"free_threshold_days"` // Default: 7.
	PaidThresholdDays int    `json:"paid_threshold_days" yaml:"paid_threshold_days"` // Default: 30.
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr      string            `json:"addr" yaml:"addr"`             // Listen address. Default: ":8080".
	APIKeys   []string          `json:"api_keys" yaml:"api_keys"`     // Bearer keys accepted on /v1. Can be extended by SAUTI_API_KEY env var.
	RateLimit *RateLimitConfig  `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"` // nil = rate limiting disabled.
}

// ListenAddr returns the listen address with a default of ":8080".
func (s *ServerConfig) ListenAddr() string {
	if s.Addr != "" {
		return s.Addr
	}
	return ":8080"
}

// RateLimitConfig configures per-user token-bucket rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // Default: 60.
	Burst             int `json:"burst" yaml:"burst"`                             // Default: 10.
}

// PerMinute returns the refill rate with a default of 60.
func (r *RateLimitConfig) PerMinute() int {
	if r != nil && r.RequestsPerMinute > 0 {
		return r.RequestsPerMinute
	}
	return 60
}

// BurstSize returns the bucket size with a default of 10.
func (r *RateLimitConfig) BurstSize() int {
	if r != nil && r.Burst > 0 {
		return r.Burst
	}
	return 10
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "sauti"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB      bool `json:"include_db" yaml:"include_db"`
	IncludeSandbox bool `json:"include_sandbox" yaml:"include_sandbox"`
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Secrets and addresses can be set in the config file or
// overridden by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if envWS := os.Getenv("SAUTI_WORKSPACE"); envWS != "" {
		c.Workspace = envWS
	}
	if envURL := os.Getenv("SAUTI_GATEWAY_URL"); envURL != "" {
		c.Gateway.URL = envURL
	}
	if envDSN := os.Getenv("SAUTI_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
	if envKey := os.Getenv("SAUTI_API_KEY"); envKey != "" {
		c.Server.APIKeys = append(c.Server.APIKeys, envKey)
	}
	if c.Voice != nil {
		if envKey := os.Getenv("TTS_API_KEY"); envKey != "" {
			c.Voice.TTS.APIKey = envKey
		} else if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" && c.Voice.TTS.APIKey == "" {
			c.Voice.TTS.APIKey = envKey
		}
	}
}

func (c *Config) validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required (set SAUTI_GATEWAY_URL env var)")
	}
	if c.Sandbox.MaxMemoryMB < 0 {
		return fmt.Errorf("sandbox.max_memory_mb must not be negative")
	}
	if c.Sandbox.CPUCores < 0 {
		return fmt.Errorf("sandbox.cpu_cores must not be negative")
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set SAUTI_DB_DSN env var)")
		}
	}
	if c.Voice != nil && c.Voice.CreditCost < 0 {
		return fmt.Errorf("voice.credit_cost must not be negative")
	}
	if c.Reaper != nil {
		if c.Reaper.FreeThresholdDays < 0 || c.Reaper.PaidThresholdDays < 0 {
			return fmt.Errorf("reaper thresholds must not be negative")
		}
	}
	return nil
}

// DefaultConfigPath returns the default config file path (~/.sauti/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/sauti.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".sauti", "config.yaml")
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
