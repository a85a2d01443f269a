package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string
	Port        string
	LogLevel    string

	// QueryTimeout is the per-query context deadline; zero disables it.
	QueryTimeout time.Duration

	// MaxBatchPoints caps the number of data points in one upload batch.
	MaxBatchPoints int

	// ReadPageSize caps the number of flat response rows fetched per read
	// request.
	ReadPageSize int
}

func Load() Config {
	return Config{
		DatabaseURL:    getEnvRequired("DATABASE_URL"),
		Port:           getEnv("PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		QueryTimeout:   getEnvDuration("QUERY_TIMEOUT", 30*time.Second),
		MaxBatchPoints: getEnvInt("MAX_BATCH_POINTS", 1000),
		ReadPageSize:   getEnvInt("READ_PAGE_SIZE", 10000),
	}
}

func getEnvRequired(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic("required environment variable " + key + " is not set")
	}
	return v
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return n
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return d
	}
	return fallback
}
