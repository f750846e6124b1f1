package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server configuration. It is constructed once at
// startup and passed explicitly into the router and middleware.
type Config struct {
	Port            string
	DBPath          string
	APIKey          string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Load reads configuration from a .env file (if present) and the
// environment. The API key is required; everything else has defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	rateMax, _ := strconv.Atoi(getEnv("RATE_LIMIT_MAX", "60"))
	rateWindow, err := time.ParseDuration(getEnv("RATE_LIMIT_WINDOW", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBPath:          getEnv("DB_PATH", "./data/forge-sync.db"),
		APIKey:          os.Getenv("FORGE_API_KEY"),
		RateLimitMax:    rateMax,
		RateLimitWindow: rateWindow,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("FORGE_API_KEY is required but not set")
	}
	if len(c.APIKey) < 16 {
		return fmt.Errorf("FORGE_API_KEY must be at least 16 characters long")
	}
	if c.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive")
	}
	return nil
}
