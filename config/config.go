// Package config defines the service configuration and its loading rules:
// a TOML file merged over defaults, then ESCROWFLOW_* environment variable
// overrides for deploy-time secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Platform PlatformConfig `toml:"platform"`
	LogLevel string         `toml:"log_level"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// PlatformConfig holds the escrow platform identity and token settings.
type PlatformConfig struct {
	// OperatorAddress is the only address allowed to sweep platform fees.
	OperatorAddress string   `toml:"operator_address"`
	JWTSecret       string   `toml:"jwt_secret"`
	TokenTTL        duration `toml:"token_ttl"`
}

// duration wraps time.Duration so the TOML decoder accepts values like
// "24h" or "90m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-tripping.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080"},
		Platform: PlatformConfig{TokenTTL: duration{24 * time.Hour}},
		LogLevel: "info",
	}
}

// Load reads a TOML configuration file at path (optional; an empty path
// skips the file), applies environment overrides, and returns the final
// Config. Call Validate before using it.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields for which the corresponding
// ESCROWFLOW_* variable is set.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Database.URL, "ESCROWFLOW_DATABASE_URL")
	setStr(&cfg.Database.URL, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Server.Addr, "ESCROWFLOW_SERVER_ADDR")
	setStr(&cfg.Platform.OperatorAddress, "ESCROWFLOW_OPERATOR_ADDRESS")
	setStr(&cfg.Platform.JWTSecret, "ESCROWFLOW_JWT_SECRET")
	setStr(&cfg.LogLevel, "ESCROWFLOW_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the configuration is complete enough to start.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if c.Platform.OperatorAddress == "" {
		return fmt.Errorf("config: platform.operator_address is required")
	}
	if c.Platform.JWTSecret == "" {
		return fmt.Errorf("config: platform.jwt_secret is required")
	}
	if c.Platform.TokenTTL.Duration <= 0 {
		return fmt.Errorf("config: platform.token_ttl must be positive")
	}
	return nil
}
