// Package config provides configuration management for the attic server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration.
//
// Values come from an optional YAML file, with environment variables taking
// precedence. The hardlink-based version store requires BackupRoot to live
// on a single filesystem; spreading device directories across volumes
// silently degrades deduplication to full copies.
type ServerConfig struct {
	Environment Environment `yaml:"environment,omitempty"`
	ListenAddr  string      `yaml:"listen_addr,omitempty"`

	// BackupRoot is the directory holding <deviceID>/v<N> version trees.
	BackupRoot string `yaml:"backup_root,omitempty"`
	// StorePath is the sqlite file backing the configuration store.
	StorePath string `yaml:"store_path,omitempty"`
	// NASAddress is the address agents use to reach Samba shares.
	NASAddress string `yaml:"nas_address,omitempty"`

	RunTimeout     time.Duration `yaml:"run_timeout,omitempty"`
	RestoreTimeout time.Duration `yaml:"restore_timeout,omitempty"`

	// Rate limit applied to the anonymous agent register endpoint.
	RegisterRateLimit  int64  `yaml:"register_rate_limit,omitempty"`
	RegisterRatePeriod string `yaml:"register_rate_period,omitempty"`

	// NotifyWebhookURL receives failure notifications when set.
	NotifyWebhookURL string `yaml:"notify_webhook_url,omitempty"`
}

// Load reads configuration from the optional file at path (empty path or a
// missing file is not an error), then overlays environment variables.
func Load(path string) (ServerConfig, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	switch cfg.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		cfg.Environment = EnvDevelopment
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 6 * time.Hour
	}
	if cfg.RestoreTimeout <= 0 {
		cfg.RestoreTimeout = 15 * time.Minute
	}
	return cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Environment:        EnvDevelopment,
		ListenAddr:         ":8080",
		BackupRoot:         "/var/lib/attic/backups",
		StorePath:          "/var/lib/attic/attic.db",
		RunTimeout:         6 * time.Hour,
		RestoreTimeout:     15 * time.Minute,
		RegisterRateLimit:  10,
		RegisterRatePeriod: "1m",
	}
}

func applyEnv(cfg *ServerConfig) {
	if v := os.Getenv("ENV"); v != "" {
		cfg.Environment = Environment(v)
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BACKUP_ROOT"); v != "" {
		cfg.BackupRoot = v
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("NAS_ADDRESS"); v != "" {
		cfg.NASAddress = v
	}
	if v := getEnvDuration("RUN_TIMEOUT"); v > 0 {
		cfg.RunTimeout = v
	}
	if v := getEnvDuration("RESTORE_TIMEOUT"); v > 0 {
		cfg.RestoreTimeout = v
	}
	if v := getEnvInt64("REGISTER_RATE_LIMIT"); v > 0 {
		cfg.RegisterRateLimit = v
	}
	if v := os.Getenv("REGISTER_RATE_PERIOD"); v != "" {
		cfg.RegisterRatePeriod = v
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.NotifyWebhookURL = v
	}
}

// getEnvInt64 reads an integer from an environment variable, returning 0 if
// unset or invalid.
func getEnvInt64(key string) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// getEnvDuration reads a duration string from an environment variable,
// returning 0 if unset or invalid.
func getEnvDuration(key string) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0
	}
	return d
}
