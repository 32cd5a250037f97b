package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LoadConfigFromEnv builds the connection config from the environment.
// A DATABASE_URL, when set, wins over the discrete DB_* variables; pool
// sizing is read from DB_MAX_* either way.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.URL = url
		return cfg, nil
	}

	port, err := strconv.Atoi(envOr("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	cfg.Host = envOr("DB_HOST", "localhost")
	cfg.Port = port
	cfg.User = envOr("DB_USER", "briefly")
	cfg.Password = os.Getenv("DB_PASSWORD")
	cfg.Database = envOr("DB_NAME", "briefly")
	cfg.SSLMode = envOr("DB_SSLMODE", "disable")
	return cfg, nil
}

// DSN returns the pgx-compatible connection string, preferring an
// explicit URL over the assembled key/value form.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
