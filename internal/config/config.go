package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port string

	// PartnerAPIKeys maps bearer tokens to partner references,
	// parsed from "token:partner,token2:partner2".
	PartnerAPIKeys map[string]string

	DatabaseURL string

	AnalysisAPIKey     string
	AnalysisBaseURL    string
	AnalysisTimeoutMS  int
	AnalysisMaxRetries int

	WebhookSecret      string
	WebhookTimeoutMS   int
	WebhookMaxAttempts int
	WebhookBackoffMS   int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	RateLimitRPS   float64
	RateLimitBurst int

	CORSAllowedOrigins []string

	StatusCacheTTLSeconds int
	StatusCacheMaxEntries int

	QueueBatchingEnabled     bool
	QueueBatchSize           int
	QueueBatchFlushMS        int
	QueueBatchFlushTimeoutMS int
	QueueBatchQueueCapacity  int
	QueueBatchMaxInFlight    int

	WorkerEnabled     bool
	WorkerConcurrency int
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		PartnerAPIKeys: parseKeyMap(getEnv("PARTNER_API_KEYS", "")),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		AnalysisAPIKey:     getEnv("ANALYSIS_API_KEY", ""),
		AnalysisBaseURL:    getEnv("ANALYSIS_BASE_URL", "https://analysis.coachcall.internal"),
		AnalysisTimeoutMS:  getEnvInt("ANALYSIS_TIMEOUT_MS", 120000),
		AnalysisMaxRetries: getEnvInt("ANALYSIS_MAX_RETRIES", 2),

		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		WebhookTimeoutMS:   getEnvInt("WEBHOOK_TIMEOUT_MS", 30000),
		WebhookMaxAttempts: getEnvInt("WEBHOOK_MAX_ATTEMPTS", 3),
		WebhookBackoffMS:   getEnvInt("WEBHOOK_BACKOFF_MS", 1000),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "partner_jobs"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "partner_jobs_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "partner_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "api-1"),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		CORSAllowedOrigins: parseList(getEnv("CORS_ALLOWED_ORIGINS", "*")),

		StatusCacheTTLSeconds: getEnvInt("STATUS_CACHE_TTL_SECONDS", 3600),
		StatusCacheMaxEntries: getEnvInt("STATUS_CACHE_MAX_ENTRIES", 5000),

		QueueBatchingEnabled:     getEnvBool("QUEUE_BATCHING_ENABLED", false),
		QueueBatchSize:           getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlushMS:        getEnvInt("QUEUE_BATCH_FLUSH_MS", 25),
		QueueBatchFlushTimeoutMS: getEnvInt("QUEUE_BATCH_FLUSH_TIMEOUT_MS", 3000),
		QueueBatchQueueCapacity:  getEnvInt("QUEUE_BATCH_QUEUE_CAPACITY", 2048),
		QueueBatchMaxInFlight:    getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),

		WorkerEnabled:     getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),
	}
}

func parseList(raw string) []string {
	values := make([]string, 0, 4)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		values = append(values, item)
	}
	return values
}

func parseKeyMap(raw string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, partner, found := strings.Cut(pair, ":")
		token = strings.TrimSpace(token)
		partner = strings.TrimSpace(partner)
		if !found || token == "" || partner == "" {
			continue
		}
		keys[token] = partner
	}
	return keys
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
