// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the settings the
// core consumes: the storage target, the credential signing secret, token
// and idempotency retention windows, login rate limits, and logging.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/trellid/go-room-server/internal/utils"
)

// Config holds all configuration values for the application. The signing
// secret and the storage target are loaded once at process start and treated
// as immutable for the lifetime of the process, except for the explicit
// secret-rotation operation on the credential store.
type Config struct {
	// Storage
	DBPath         string        // SQLite path
	StorageTimeout time.Duration // per-operation bound for storage work

	// Credentials
	SigningSecret string        // HMAC secret for bearer tokens (required)
	TokenTTL      time.Duration // lifetime of issued tokens
	ServerName    string        // domain used in generated room/user identifiers

	// Idempotency
	IdempotencyTTL time.Duration // retention window for cached responses

	// Login rate limiting
	LoginRPS   float64 // token-bucket refill rate per username (>= 0)
	LoginBurst int     // bucket size (>= 1)

	// Logging
	LogLevel  string // debug|info|warn|error
	LogPretty bool   // pretty console logs in dev
}

// Load reads configuration from the environment (optionally seeded from a
// .env file) and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	cfg := &Config{
		DBPath:         getEnv("DB_PATH", "data/roomserver.db"),
		StorageTimeout: durationEnv("STORAGE_TIMEOUT", 5*time.Second),
		SigningSecret:  os.Getenv("SIGNING_SECRET"),
		TokenTTL:       durationEnv("TOKEN_TTL", 24*time.Hour),
		ServerName:     getEnv("SERVER_NAME", "localhost"),
		IdempotencyTTL: durationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
		LoginRPS:       utils.FloatDefault(os.Getenv("LOGIN_RPS"), 1),
		LoginBurst:     utils.AtoiDefault(os.Getenv("LOGIN_BURST"), 5),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogPretty:      boolEnv("LOG_PRETTY", false),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate enforces the invariants the core depends on.
func (c *Config) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return errors.New("config: SIGNING_SECRET is required")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("config: DB_PATH must not be empty")
	}
	if c.StorageTimeout <= 0 {
		return errors.New("config: STORAGE_TIMEOUT must be positive")
	}
	if c.TokenTTL <= 0 {
		return errors.New("config: TOKEN_TTL must be positive")
	}
	if c.IdempotencyTTL <= 0 {
		return errors.New("config: IDEMPOTENCY_TTL must be positive")
	}
	if c.LoginRPS < 0 {
		return errors.New("config: LOGIN_RPS must not be negative")
	}
	if c.LoginBurst < 1 {
		return errors.New("config: LOGIN_BURST must be at least 1")
	}
	return nil
}

// getEnv returns the trimmed value of key, or def when unset/blank.
func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// durationEnv parses a Go duration from the environment ("5s", "24h").
// Unset or unparseable values fall back to def.
func durationEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// boolEnv parses a boolean from the environment ("1", "true", "yes" are
// true; "0", "false", "no" are false). Anything else falls back to def.
func boolEnv(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
