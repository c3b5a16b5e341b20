// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir          string // Base directory for all databases (always absolute)
	JWTSecret        string
	TokenTTL         time.Duration // JWT lifetime
	LogLevel         string
	Port             int
	DevMode          bool
	PriceTickEvery   time.Duration // Simulated market tick interval
	SnapshotEvery    time.Duration // Autosave interval for session snapshots
	DrainEvery       time.Duration // Reconciler drain interval
	DrainMaxAttempts int           // Remote save attempts per drain cycle
	DrainRetryDelay  time.Duration // Fixed delay between drain attempts
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("PAPERTRADE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		JWTSecret:        getEnv("JWT_SECRET", "mundo_cripto_secret_key_2024"),
		TokenTTL:         time.Duration(getEnvAsInt("TOKEN_TTL_HOURS", 168)) * time.Hour,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Port:             getEnvAsInt("PORT", 3000),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		PriceTickEvery:   time.Duration(getEnvAsInt("PRICE_TICK_SECONDS", 5)) * time.Second,
		SnapshotEvery:    time.Duration(getEnvAsInt("SNAPSHOT_MINUTES", 2)) * time.Minute,
		DrainEvery:       time.Duration(getEnvAsInt("DRAIN_SECONDS", 30)) * time.Second,
		DrainMaxAttempts: getEnvAsInt("DRAIN_MAX_ATTEMPTS", 10),
		DrainRetryDelay:  time.Duration(getEnvAsInt("DRAIN_RETRY_DELAY_MS", 500)) * time.Millisecond,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.DrainMaxAttempts < 1 {
		return fmt.Errorf("drain max attempts must be at least 1")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
