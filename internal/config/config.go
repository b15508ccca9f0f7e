// Package config loads RelayConfig from an optional YAML file overlaid
// with environment variables, matching the two-layer loading idiom of a
// config file for defaults plus env for deployment-specific overrides
// (secrets, ports) and a local .env file in development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RelayConfig holds every tunable the relay's components accept.
type RelayConfig struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`

	CleanupIntervalSeconds int    `yaml:"cleanup_interval_seconds"`
	RetentionPeriodSeconds int64  `yaml:"retention_period_seconds"`
	RetryIntervalSeconds   int64  `yaml:"retry_interval_seconds"`
	MaxDeliveryAttempts    int    `yaml:"max_delivery_attempts"`
	DeliveryThreads        int    `yaml:"delivery_threads"`
	SMTPPort               string `yaml:"smtp_port"`
	StaticMXConfig         string `yaml:"static_mx_config"`
	ClientsFile            string `yaml:"clients_file"`

	// Shard is the raw "i/N" expression; ShardIndex/ShardCount are its
	// parsed, 0-based form (see parseShard).
	Shard      string `yaml:"shard"`
	ShardIndex int    `yaml:"-"`
	ShardCount int    `yaml:"-"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// StoreConfig holds the envelope store's connection settings.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
}

const (
	defaultCleanupIntervalSeconds = 300
	defaultRetentionPeriodSeconds = 2 * 3 * 3600
	defaultRetryIntervalSeconds   = 600
	defaultMaxDeliveryAttempts    = 4
	defaultDeliveryThreads        = 5
	defaultSMTPPort               = "25"
	defaultShard                  = "1/1"
	defaultClientsFile            = "/conf/clients"
	defaultHTTPPort               = 5000
)

// Load reads and parses the configuration file at path. A missing file is
// not an error: every field simply keeps its zero value, and defaults are
// applied afterward.
func Load(path string) (*RelayConfig, error) {
	var cfg RelayConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)

	if err := parseShard(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *RelayConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultHTTPPort
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.CleanupIntervalSeconds == 0 {
		cfg.CleanupIntervalSeconds = defaultCleanupIntervalSeconds
	}
	if cfg.RetentionPeriodSeconds == 0 {
		cfg.RetentionPeriodSeconds = defaultRetentionPeriodSeconds
	}
	if cfg.RetryIntervalSeconds == 0 {
		cfg.RetryIntervalSeconds = defaultRetryIntervalSeconds
	}
	if cfg.MaxDeliveryAttempts == 0 {
		cfg.MaxDeliveryAttempts = defaultMaxDeliveryAttempts
	}
	if cfg.DeliveryThreads == 0 {
		cfg.DeliveryThreads = defaultDeliveryThreads
	}
	if cfg.SMTPPort == "" {
		cfg.SMTPPort = defaultSMTPPort
	}
	if cfg.Shard == "" {
		cfg.Shard = defaultShard
	}
	if cfg.ClientsFile == "" {
		cfg.ClientsFile = defaultClientsFile
	}
}

// parseShard parses the 1-based "i/N" expression into 0-based ShardIndex
// and ShardCount, per the SHARD environment variable's documented format.
func parseShard(cfg *RelayConfig) error {
	parts := strings.SplitN(cfg.Shard, "/", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid shard expression %q: expected \"i/N\"", cfg.Shard)
	}
	i, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("invalid shard expression %q: %w", cfg.Shard, err)
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("invalid shard expression %q: %w", cfg.Shard, err)
	}
	if n <= 0 || i <= 0 || i > n {
		return fmt.Errorf("invalid shard expression %q: want 1 <= i <= N", cfg.Shard)
	}
	cfg.ShardIndex = i - 1
	cfg.ShardCount = n
	return nil
}

// LoadFromEnv loads path the way Load does, then overlays recognized
// environment variables (loading a local .env file first, if present, so
// secrets can live there in development and in the real environment on a
// real deployment).
func LoadFromEnv(path string) (*RelayConfig, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CLEANUP_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CleanupIntervalSeconds = n
		}
	}
	if v := os.Getenv("RETENTION_PERIOD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RetentionPeriodSeconds = n
		}
	}
	if v := os.Getenv("RETRY_INTERVAL"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RetryIntervalSeconds = n
		}
	}
	if v := os.Getenv("SHARD"); v != "" {
		cfg.Shard = v
		if err := parseShard(cfg); err != nil {
			return nil, err
		}
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		cfg.SMTPPort = v
	}
	if v := os.Getenv("STATIC_MX_CONFIG"); v != "" {
		cfg.StaticMXConfig = v
	}
	if v := os.Getenv("CLIENTS_FILE"); v != "" {
		cfg.ClientsFile = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	return cfg, nil
}
