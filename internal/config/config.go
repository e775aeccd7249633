package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for teamsyncd.
type Config struct {
	// ServerWSURL is the sync server's websocket endpoint.
	ServerWSURL string `env:"SERVER_WS_URL"`

	// NotificationAPIURL is the base URL of the notification REST API.
	NotificationAPIURL string `env:"NOTIFICATION_API_URL"`

	// UserID identifies this client in the connect handshake and selects
	// the inbox and notification topics to subscribe.
	UserID string `env:"USER_ID"`

	// AuthToken is the session token sent with the handshake and as a
	// bearer token on REST calls.
	AuthToken string `env:"AUTH_TOKEN"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerWSURL == "" {
		return fmt.Errorf("SERVER_WS_URL is required")
	}

	u, err := url.Parse(c.ServerWSURL)
	if err != nil {
		return fmt.Errorf("parsing SERVER_WS_URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("SERVER_WS_URL must use ws or wss scheme, got %q", u.Scheme)
	}

	if c.NotificationAPIURL == "" {
		return fmt.Errorf("NOTIFICATION_API_URL is required")
	}

	if c.UserID == "" {
		return fmt.Errorf("USER_ID is required")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
