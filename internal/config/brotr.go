// Package config implements bigbrotr's per-service YAML configuration:
// shared Pool/Store settings in brotr.yaml, plus one config type per
// service, each validated on load.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BrotrConfig is the shared Pool/Store configuration every service loads
// alongside its own service-specific file.
type BrotrConfig struct {
	Pool    PoolConfig    `yaml:"pool"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
	Network NetworkConfig `yaml:"network"`
}

type PoolConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	Database            string `yaml:"database"`
	User                string `yaml:"user"`
	MinSize             int    `yaml:"min_size"`
	MaxSize             int    `yaml:"max_size"`
	AcquireTimeoutMs    int    `yaml:"acquire_timeout_ms"`
	HealthCheckTimeoutMs int   `yaml:"health_check_timeout_ms"`
	ApplicationName     string `yaml:"application_name"`
	Timezone            string `yaml:"timezone"`
	Retry               RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts          int  `yaml:"max_attempts"`
	InitialDelayMs       int  `yaml:"initial_delay_ms"`
	MaxDelayMs           int  `yaml:"max_delay_ms"`
	ExponentialBackoff   bool `yaml:"exponential_backoff"`
}

type StoreConfig struct {
	MaxBatchSize int `yaml:"max_batch_size"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type NetworkConfig struct {
	ClearnetMaxConcurrent int    `yaml:"clearnet_max_concurrent"`
	ClearnetTimeoutMs     int    `yaml:"clearnet_timeout_ms"`
	TorMaxConcurrent      int    `yaml:"tor_max_concurrent"`
	TorTimeoutMs          int    `yaml:"tor_timeout_ms"`
	TorProxyURL           string `yaml:"tor_proxy_url"`
	I2PMaxConcurrent      int    `yaml:"i2p_max_concurrent"`
	I2PTimeoutMs          int    `yaml:"i2p_timeout_ms"`
	I2PProxyURL           string `yaml:"i2p_proxy_url"`
	LokiMaxConcurrent     int    `yaml:"loki_max_concurrent"`
	LokiTimeoutMs         int    `yaml:"loki_timeout_ms"`
	LokiProxyURL          string `yaml:"loki_proxy_url"`
	AllowInsecureTLS      bool   `yaml:"allow_insecure_tls"`
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// DefaultBrotrConfig mirrors spec.md's stated defaults (10s/30s/45s/30s
// per-network timeouts, max_batch_size 10000).
func DefaultBrotrConfig() BrotrConfig {
	return BrotrConfig{
		Pool: PoolConfig{
			Port:                 5432,
			MinSize:              2,
			MaxSize:              10,
			AcquireTimeoutMs:     5000,
			HealthCheckTimeoutMs: 2000,
			ApplicationName:      "bigbrotr",
			Timezone:             "UTC",
			Retry: RetryConfig{
				MaxAttempts:        5,
				InitialDelayMs:     200,
				MaxDelayMs:         10000,
				ExponentialBackoff: true,
			},
		},
		Store: StoreConfig{MaxBatchSize: 10000},
		Logging: LoggingConfig{Level: "info"},
		Network: NetworkConfig{
			ClearnetMaxConcurrent: 32,
			ClearnetTimeoutMs:     10000,
			TorMaxConcurrent:      8,
			TorTimeoutMs:          30000,
			I2PMaxConcurrent:      8,
			I2PTimeoutMs:          45000,
			LokiMaxConcurrent:     8,
			LokiTimeoutMs:         30000,
		},
	}
}

// LoadBrotrConfig reads, defaults and validates brotr.yaml.
func LoadBrotrConfig(path string) (*BrotrConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read brotr config %s: %w", path, err)
	}

	cfg := DefaultBrotrConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse brotr config %s: %w", path, err)
	}

	applyBrotrDefaults(&cfg)

	dbPassword := os.Getenv("DB_PASSWORD")
	if dbPassword == "" {
		return nil, fmt.Errorf("config: DB_PASSWORD environment variable is required")
	}

	if err := ValidateBrotrConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid brotr config: %w", err)
	}
	return &cfg, nil
}

func applyBrotrDefaults(cfg *BrotrConfig) {
	defaults := DefaultBrotrConfig()
	if cfg.Pool.MaxSize == 0 {
		cfg.Pool.MaxSize = defaults.Pool.MaxSize
	}
	if cfg.Pool.MinSize == 0 {
		cfg.Pool.MinSize = defaults.Pool.MinSize
	}
	if cfg.Pool.Retry.MaxAttempts == 0 {
		cfg.Pool.Retry = defaults.Pool.Retry
	}
	if cfg.Store.MaxBatchSize == 0 {
		cfg.Store.MaxBatchSize = defaults.Store.MaxBatchSize
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Network.ClearnetMaxConcurrent == 0 {
		cfg.Network = defaults.Network
	}
}

// ValidateBrotrConfig enforces spec.md's config invariants: bounded
// integers, required fields, enumerated choices.
func ValidateBrotrConfig(cfg *BrotrConfig) error {
	if cfg.Pool.Host == "" {
		return fmt.Errorf("pool.host is required")
	}
	if cfg.Pool.Port < 1 || cfg.Pool.Port > 65535 {
		return fmt.Errorf("pool.port must be between 1 and 65535")
	}
	if cfg.Pool.Database == "" {
		return fmt.Errorf("pool.database is required")
	}
	if cfg.Pool.MaxSize < cfg.Pool.MinSize {
		return fmt.Errorf("pool.max_size (%d) must be >= pool.min_size (%d)", cfg.Pool.MaxSize, cfg.Pool.MinSize)
	}
	if cfg.Store.MaxBatchSize < 1 {
		return fmt.Errorf("store.max_batch_size must be >= 1")
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", cfg.Logging.Level)
	}
	if cfg.Network.ClearnetMaxConcurrent < 1 {
		return fmt.Errorf("network.clearnet_max_concurrent must be >= 1")
	}
	if cfg.Network.TorMaxConcurrent > 0 && cfg.Network.TorProxyURL == "" {
		return fmt.Errorf("network.tor_proxy_url is required when tor is enabled")
	}
	if cfg.Network.I2PMaxConcurrent > 0 && cfg.Network.I2PProxyURL == "" {
		return fmt.Errorf("network.i2p_proxy_url is required when i2p is enabled")
	}
	if cfg.Network.LokiMaxConcurrent > 0 && cfg.Network.LokiProxyURL == "" {
		return fmt.Errorf("network.loki_proxy_url is required when loki is enabled")
	}
	return nil
}
