package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	RateLimitCapacity      float64
	RateLimitLeakPerSecond float64
	IdempotencyTTLHours    int

	// Optional integrations; empty means disabled.
	KafkaBrokers []string
	KafkaTopic   string
	RedisAddr    string
}

func Load() (*Config, error) {
	// .env is a local-development convenience; absence is not an error.
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource:               dbSource,
		Port:                   envOrDefault("SERVER_PORT", "8080"),
		Env:                    envOrDefault("ENVIRONMENT", "development"),
		RateLimitCapacity:      10,
		RateLimitLeakPerSecond: 1,
		IdempotencyTTLHours:    24,
		KafkaTopic:             envOrDefault("KAFKA_TOPIC", "transfer_completed"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
	}

	if raw := os.Getenv("RATE_LIMIT_CAPACITY"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_CAPACITY %q", raw)
		}
		cfg.RateLimitCapacity = v
	}

	if raw := os.Getenv("RATE_LIMIT_LEAK_PER_SECOND"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_LEAK_PER_SECOND %q", raw)
		}
		cfg.RateLimitLeakPerSecond = v
	}

	if raw := os.Getenv("IDEMPOTENCY_TTL_HOURS"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid IDEMPOTENCY_TTL_HOURS %q", raw)
		}
		cfg.IdempotencyTTLHours = v
	}

	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		for _, broker := range strings.Split(raw, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
