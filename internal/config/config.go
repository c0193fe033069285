package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv         string
	Port           string
	AllowedOrigins string

	DatabaseURL string
	RedisURL    string

	JWTSecret      string
	InternalAPIKey string

	// Anonymous websocket connections are rejected with 4001 unless
	// this is set.
	AllowAnonymous bool

	HeartbeatInterval time.Duration
	PresenceTTL       time.Duration
	TokenCacheTTL     time.Duration
	RateLimitWindow   time.Duration
	RateLimitMax      int

	OutboundQueueSize int
	WorkerPoolSize    int
}

func Load() (*Config, error) {
	// Don't fail if .env doesn't exist (might be prod env vars)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		JWTSecret:      getEnv("JWT_SECRET", "12345"),
		InternalAPIKey: os.Getenv("INTERNAL_API_KEY"),

		AllowAnonymous: getEnv("WS_ALLOW_ANONYMOUS", "false") == "true",
	}

	var err error
	cfg.HeartbeatInterval, err = parseDuration(getEnv("WS_HEARTBEAT_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_HEARTBEAT_INTERVAL: %w", err)
	}
	cfg.PresenceTTL, err = parseDuration(getEnv("PRESENCE_TTL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRESENCE_TTL: %w", err)
	}
	cfg.TokenCacheTTL, err = parseDuration(getEnv("TOKEN_CACHE_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_CACHE_TTL: %w", err)
	}
	cfg.RateLimitWindow, err = parseDuration(getEnv("WS_RATE_LIMIT_WINDOW", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_RATE_LIMIT_WINDOW: %w", err)
	}
	cfg.RateLimitMax, err = parseInt(getEnv("WS_RATE_LIMIT_MAX", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_RATE_LIMIT_MAX: %w", err)
	}
	cfg.OutboundQueueSize, err = parseInt(getEnv("WS_OUTBOUND_QUEUE", "64"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_OUTBOUND_QUEUE: %w", err)
	}
	cfg.WorkerPoolSize, err = parseInt(getEnv("WS_WORKER_POOL", "32"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WORKER_POOL: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
