// Package config loads the indexer's runtime configuration from environment
// variables, optionally seeded from a local .env file.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the LAMBO/TON StonFi deployment. Every value can be overridden
// from the environment.
const (
	DefaultJettonMaster = "0:c4d623eb3fcd0bd7b473907dd896e5ec11c9f98be6cf15fb9edb9f6e30a28513"
	DefaultPoolAddress  = "0:031053133270be82ee6fd94d1963c0186868403a4f537040a0d533aab805b7af"
)

// Config is the full runtime configuration of the indexer process.
type Config struct {
	DatabaseURL string
	RedisURL    string

	TonAPIURL string
	TonAPIKey string

	RequestsPerSecond float64
	WorkerBatchSize   int
	StartDate         time.Time // epoch for first-run backfill

	JettonMaster string // tracked asset, raw form
	PoolAddress  string // initial pool, raw form

	JWTSecret      string
	AllowedOrigins string
	APIPort        string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present. Missing required values
// terminate the process.
func Load() Config {
	// Absent .env is fine in containerized deployments; env wins either way.
	if err := godotenv.Load(); err == nil {
		log.Println("[Config] Loaded .env file")
	}

	cfg := Config{
		DatabaseURL:       requireEnv("DATABASE_URL"),
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		TonAPIURL:         getEnvOrDefault("TON_API_URL", "https://tonapi.io"),
		TonAPIKey:         requireEnv("TON_API_KEY"),
		RequestsPerSecond: getEnvFloat("REQUESTS_PER_SECOND", 1.0),
		WorkerBatchSize:   getEnvInt("WORKER_BATCH_SIZE", 10),
		JettonMaster:      getEnvOrDefault("JETTON_MASTER", DefaultJettonMaster),
		PoolAddress:       getEnvOrDefault("LAMBO_POOL_ADDRESS", DefaultPoolAddress),
		JWTSecret:         requireEnv("JWT_SECRET"),
		AllowedOrigins:    os.Getenv("ALLOWED_ORIGINS"),
		APIPort:           getEnvOrDefault("API_PORT", "5339"),
	}

	startDate := getEnvOrDefault("START_DATE", "2025-10-28")
	parsed, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		log.Fatalf("FATAL: START_DATE %q is not an ISO date (YYYY-MM-DD): %v", startDate, err)
	}
	cfg.StartDate = parsed.UTC()

	if cfg.RequestsPerSecond <= 0 {
		log.Fatalf("FATAL: REQUESTS_PER_SECOND must be positive, got %v", cfg.RequestsPerSecond)
	}
	if cfg.WorkerBatchSize <= 0 {
		cfg.WorkerBatchSize = 10
	}

	return cfg
}

// PacingDelay is the 1/R pause between consecutive upstream calls from the
// classifier.
func (c Config) PacingDelay() time.Duration {
	return time.Duration(float64(time.Second) / c.RequestsPerSecond)
}

// requireEnv reads a required environment variable and exits if it is not set.
// This prevents the binary from starting with missing critical configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		log.Fatalf("FATAL: %s=%q is not a number: %v", key, val, err)
	}
	return f
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("FATAL: %s=%q is not an integer: %v", key, val, err)
	}
	return n
}

// String renders the config for startup logging with secrets elided.
func (c Config) String() string {
	return fmt.Sprintf("rate=%.1f req/s batch=%d start=%s pool=%s api=:%s",
		c.RequestsPerSecond, c.WorkerBatchSize, c.StartDate.Format("2006-01-02"),
		c.PoolAddress, c.APIPort)
}
