package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64

	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	// SessionIdleTTL is how long an unused session stays in memory; 0 keeps it forever.
	SessionIdleTTL time.Duration

	MongoURI    string
	MongoDBName string

	KafkaBrokers []string

	NotifyBuffer int
	LogLevel     string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	requestTimeout, err := getDuration("REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := getDuration("CACHE_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	sessionIdleTTL, err := getDuration("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	notifyBuffer, err := getInt("NOTIFY_BUFFER", 256)
	if err != nil {
		return nil, err
	}
	if notifyBuffer <= 0 {
		return nil, fmt.Errorf("NOTIFY_BUFFER must be positive, got %d", notifyBuffer)
	}

	return &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		RequestTimeout:     requestTimeout,
		ShutdownTimeout:    shutdownTimeout,
		MaxRequestBodySize: 1 << 20, // 1MB
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		CacheTTL:           cacheTTL,
		SessionIdleTTL:     sessionIdleTTL,
		MongoURI:           os.Getenv("MONGO_URI"),
		MongoDBName:        getEnv("MONGO_DB_NAME", "cartdb"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		NotifyBuffer:       notifyBuffer,
		LogLevel:           os.Getenv("LOG_LEVEL"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
