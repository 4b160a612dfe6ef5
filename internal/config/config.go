// Package config loads the debug agent's runtime configuration from the
// environment, following the same getEnv/getEnvInt idiom the teacher's
// entrypoint uses, via a .env file (joho/godotenv) with real environment
// variables taking precedence.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is everything cmd/debugagent needs to start serving.
type Config struct {
	ListenAddr   string
	AdvertiseHost string
	Title        string
	Environment  string
	SkipGlobs    []string

	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string

	RedisURL string

	JWTSecret    string
	RateLimitRPS float64

	S3Bucket string

	MaintenanceMode    bool
	MaintenanceMessage string
}

// Load reads a .env file if present (never an error if absent) and builds
// a Config from the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		// Fine in production: real env vars are already set.
		_ = err
	}

	return Config{
		ListenAddr:     getEnv("DEBUGAGENT_LISTEN_ADDR", ":9222"),
		AdvertiseHost:  getEnv("DEBUGAGENT_HOST", "127.0.0.1:9222"),
		Title:          getEnv("DEBUGAGENT_TITLE", "Go Debug Agent"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		SkipGlobs:      splitNonEmpty(getEnv("DEBUGAGENT_SKIP_GLOBS", "apex-build/internal/*,apex-build/pkg/agent*")),
		DatabaseDriver: getEnv("DEBUGAGENT_DB_DRIVER", "sqlite"),
		DatabaseDSN:    getEnv("DEBUGAGENT_DB_DSN", "debugagent.db"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      os.Getenv("DEBUGAGENT_JWT_SECRET"),
		RateLimitRPS:   getEnvFloat("DEBUGAGENT_RATE_LIMIT_RPS", 20),
		S3Bucket:       os.Getenv("DEBUGAGENT_PROFILE_BUCKET"),

		MaintenanceMode:    getEnvBool("DEBUGAGENT_MAINTENANCE_MODE", false),
		MaintenanceMessage: getEnv("DEBUGAGENT_MAINTENANCE_MESSAGE", "Debug agent is temporarily unavailable for maintenance."),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
