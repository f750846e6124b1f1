package syncclient

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// Config holds the client configuration.
type Config struct {
	ServerURL    string
	APIKey       string
	Hostname     string
	StatsPath    string
	StateDir     string
	SyncInterval time.Duration
	Timeout      time.Duration
}

const (
	defaultSyncInterval = 1 * time.Hour
	defaultTimeout      = 30 * time.Second
)

// LoadConfig reads client configuration from a .env file (if present)
// and the environment. Server URL and API key are required; the
// hostname falls back to the system hostname, and state lives under
// the XDG state directory unless overridden.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	hostname := os.Getenv("FORGE_HOSTNAME")
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("cannot determine hostname: %w", err)
		}
		hostname = h
	}

	statsPath := os.Getenv("FORGE_STATS_PATH")
	if statsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		statsPath = filepath.Join(home, ".claude", "stats-cache.json")
	}

	stateDir := os.Getenv("FORGE_STATE_DIR")
	if stateDir == "" {
		stateDir = filepath.Join(xdg.StateHome, "forge-sync")
	}

	cfg := &Config{
		ServerURL:    os.Getenv("FORGE_SERVER_URL"),
		APIKey:       os.Getenv("FORGE_API_KEY"),
		Hostname:     hostname,
		StatsPath:    statsPath,
		StateDir:     stateDir,
		SyncInterval: envDuration("FORGE_SYNC_INTERVAL", defaultSyncInterval),
		Timeout:      envDuration("FORGE_SYNC_TIMEOUT", defaultTimeout),
	}

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("FORGE_SERVER_URL is required but not set")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("FORGE_API_KEY is required but not set")
	}
	return cfg, nil
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
