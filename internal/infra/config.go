package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisJobList  string

	StoragePath    string
	CheckpointPath string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	// ModelConcurrency caps simultaneous calls per model resource key.
	ModelConcurrency int
	// MaxAttempts is the default attempt budget for jobs that do not set
	// their own.
	MaxAttempts      int
	RateLimitRetries int
	RetryBaseSleep   time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisUsername:    os.Getenv("REDIS_USERNAME"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisJobList:     getEnv("REDIS_JOB_LIST", "portrait:jobs"),
		StoragePath:      getEnv("STORAGE_PATH", "./data/storage"),
		CheckpointPath:   getEnv("CHECKPOINT_PATH", "./data/checkpoints.db"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		ModelConcurrency: getEnvInt("MODEL_CONCURRENCY", 3),
		MaxAttempts:      getEnvInt("MAX_ATTEMPTS", 3),
		RateLimitRetries: getEnvInt("RATE_LIMIT_RETRIES", 3),
		RetryBaseSleep:   time.Second * time.Duration(getEnvInt("RETRY_BASE_SLEEP_SECONDS", 8)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ModelConcurrency < 1 {
		return nil, fmt.Errorf("MODEL_CONCURRENCY must be at least 1")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
