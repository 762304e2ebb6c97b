package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr         string   `yaml:"listen_addr"`
	DatabaseDSN        string   `yaml:"database_dsn"`
	GracePeriodSeconds int      `yaml:"grace_period_seconds"`
	StoreTimeoutMillis int      `yaml:"store_timeout_millis"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:         ":8080",
		GracePeriodSeconds: 30,
		StoreTimeoutMillis: 3000,
	}
}

// Load reads an optional YAML file, then .env, then applies env overrides.
// Env always wins so deploys can tweak a single value without editing files.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Missing .env is fine; env vars may come from the environment itself.
	_ = godotenv.Load()

	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.DatabaseDSN = getEnv("DATABASE_URL", cfg.DatabaseDSN)
	cfg.GracePeriodSeconds = getEnvAsInt("GRACE_PERIOD_SECONDS", cfg.GracePeriodSeconds)
	cfg.StoreTimeoutMillis = getEnvAsInt("STORE_TIMEOUT_MILLIS", cfg.StoreTimeoutMillis)

	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.GracePeriodSeconds <= 0 {
		return nil, fmt.Errorf("grace period must be positive")
	}
	return cfg, nil
}

func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMillis) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
