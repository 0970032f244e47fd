package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the omicsauth API. Values are loaded
// from YAML and can be overridden by OMICSAUTH_* environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Tokens   TokenConfig    `yaml:"tokens"`
	Limits   LimitConfig    `yaml:"limits"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains the PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// TokenConfig controls bearer token issuance.
type TokenConfig struct {
	Issuer        string        `yaml:"issuer"`
	SigningSecret string        `yaml:"signing_secret"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
}

// LimitConfig controls per-client request throttling.
type LimitConfig struct {
	RateBurst  int `yaml:"rate_burst"`
	RatePerSec int `yaml:"rate_per_sec"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
		},
		Tokens: TokenConfig{
			Issuer:     "omicsauth",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 14 * 24 * time.Hour,
		},
		Limits: LimitConfig{
			RateBurst:  20,
			RatePerSec: 10,
		},
	}
}

// Load reads configuration from path (optional) and applies environment
// overrides. An empty path skips the file step.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config: server.addr is required")
	}
	if c.Tokens.AccessTTL <= 0 {
		return fmt.Errorf("config: tokens.access_ttl must be positive")
	}
	if c.Tokens.RefreshTTL <= 0 {
		return fmt.Errorf("config: tokens.refresh_ttl must be positive")
	}
	if c.Limits.RateBurst <= 0 || c.Limits.RatePerSec <= 0 {
		return fmt.Errorf("config: limits must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OMICSAUTH_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("OMICSAUTH_PG_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("OMICSAUTH_TOKEN_SECRET"); v != "" {
		cfg.Tokens.SigningSecret = v
	}
	if v := os.Getenv("OMICSAUTH_TOKEN_ISSUER"); v != "" {
		cfg.Tokens.Issuer = v
	}
	if v := os.Getenv("OMICSAUTH_ACCESS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tokens.AccessTTL = d
		}
	}
	if v := os.Getenv("OMICSAUTH_REFRESH_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tokens.RefreshTTL = d
		}
	}
	if v := os.Getenv("OMICSAUTH_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limits.RateBurst = n
		}
	}
	if v := os.Getenv("OMICSAUTH_RATE_PER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limits.RatePerSec = n
		}
	}
}
