package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Env       string
	Port      string
	JWTSecret string
	StationID string
	Database  DatabaseConfig
	ERP       ERPConfig
	Seed      SeedConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// ERPConfig holds the external ERP connection settings
type ERPConfig struct {
	URL             string
	Database        string
	Username        string
	Password        string
	SyncIntervalMin int // catalog/workorder refresh period
	MaxRetries      int // bounded attempts per sync job
	CallTimeoutSec  int // deadline per external call
}

// SeedConfig holds the bootstrap operator account created when the user
// table is empty.
type SeedConfig struct {
	Username string
	Password string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		Env:       getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "3210"),
		JWTSecret: jwtSecret,
		StationID: getEnv("STATION_ID", "KNEADER-1"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "mixstation"),
		},
		ERP: ERPConfig{
			URL:             os.Getenv("ERP_URL"),
			Database:        getEnv("ERP_DATABASE", "erp"),
			Username:        os.Getenv("ERP_USERNAME"),
			Password:        os.Getenv("ERP_PASSWORD"),
			SyncIntervalMin: getEnvInt("ERP_SYNC_INTERVAL", 15),
			MaxRetries:      getEnvInt("ERP_MAX_RETRIES", 3),
			CallTimeoutSec:  getEnvInt("ERP_CALL_TIMEOUT", 30),
		},
		Seed: SeedConfig{
			Username: getEnv("SEED_OPERATOR_USERNAME", "operator"),
			Password: os.Getenv("SEED_OPERATOR_PASSWORD"),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
