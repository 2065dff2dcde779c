package postgres

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the connection and pool settings for the persistent pattern
// store. The zero value is not valid; use LoadConfigFromEnv or fill in every
// field and call Validate.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv reads KATO_POSTGRES_* environment variables, falling
// back to sensible local-development defaults for anything unset.
func LoadConfigFromEnv() Config {
	return Config{
		Host:            getEnvOrDefault("KATO_POSTGRES_HOST", "localhost"),
		Port:            getEnvIntOrDefault("KATO_POSTGRES_PORT", 5432),
		User:            getEnvOrDefault("KATO_POSTGRES_USER", "kato"),
		Password:        getEnvOrDefault("KATO_POSTGRES_PASSWORD", ""),
		Database:        getEnvOrDefault("KATO_POSTGRES_DATABASE", "kato"),
		SSLMode:         getEnvOrDefault("KATO_POSTGRES_SSLMODE", "disable"),
		MaxOpenConns:    getEnvIntOrDefault("KATO_POSTGRES_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvIntOrDefault("KATO_POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Validate rejects an unusable configuration before a connection is opened.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("postgres: host must not be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("postgres: database must not be empty")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("postgres: max_idle_conns (%d) must not exceed max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// DSN builds the libpq-style connection string pgx's stdlib driver and
// pgxpool both accept.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
