package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv   string
	Port      string
	JWTSecret string
	Database  DatabaseConfig
	Odoo      OdooConfig
	Log       LogConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string // postgres (default) or sqlite
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Path     string // sqlite file
	Alter    bool
	Embedded EmbeddedConfig
}

// EmbeddedConfig places the bundled PostgreSQL used when no external server is configured
type EmbeddedConfig struct {
	DataPath string
	Port     int
}

// UseEmbedded reports whether Connect starts the bundled PostgreSQL:
// a postgres driver on localhost without a password.
func (c DatabaseConfig) UseEmbedded() bool {
	return c.Driver != "sqlite" && c.Host == "localhost" && c.Password == ""
}

// DSN builds the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// OdooConfig holds the host XML-RPC connection settings
type OdooConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

// LogConfig controls the optional rotating log file
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
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
		NodeEnv:   getEnv("NODE_ENV", "development"),
		Port:      getEnv("PORT", "3001"),
		JWTSecret: jwtSecret,
		Database: DatabaseConfig{
			Driver:   getEnv("PCSYNC_DB_DRIVER", "postgres"),
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "pcsync"),
			Path:     getEnv("PCSYNC_DB_PATH", "pcsync.db"),
			Alter:    getBoolEnv("DB_ALTER", false),
			Embedded: EmbeddedConfig{
				DataPath: getEnv("PCSYNC_EMBEDDED_DATA", "./db_data"),
				Port:     getIntEnv("PCSYNC_EMBEDDED_PORT", 5433),
			},
		},
		Odoo: OdooConfig{
			URL:      os.Getenv("ODOO_URL"),
			Database: os.Getenv("ODOO_DB"),
			Username: os.Getenv("ODOO_USER"),
			Password: os.Getenv("ODOO_PASSWORD"),
		},
		Log: LogConfig{
			File:       os.Getenv("PCSYNC_LOG_FILE"),
			MaxSizeMB:  getIntEnv("PCSYNC_LOG_MAX_SIZE", 50),
			MaxBackups: getIntEnv("PCSYNC_LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getIntEnv("PCSYNC_LOG_MAX_AGE", 30),
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

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
