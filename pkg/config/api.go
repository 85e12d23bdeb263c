package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment         string
	Addr                string
	LogLevel            string
	DatabaseURL         string
	MigrationsDir       string
	JWTSecret           string
	SecretEncryptionKey string
	AccessTokenTTL      time.Duration

	WebhookTimeout     time.Duration
	WebhookWorkers     int
	WebhookQueueSize   int
	WebhookFanoutLimit int
	WebhookSweepEvery  time.Duration
	WebhookLease       time.Duration
	WebhookSweepBatch  int

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int

	KafkaBrokers []string
	KafkaTopic   string
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("API_ADDR", ":4000"),
		LogLevel:            GetString("LOG_LEVEL", "info"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://lifecycle:lifecycle@db:5432/lifecycle?sslmode=disable"),
		MigrationsDir:       GetString("DB_MIGRATIONS_DIR", ""),
		JWTSecret:           GetString("JWT_SECRET", "supersecuresecret"),
		SecretEncryptionKey: GetString("SECRET_ENCRYPTION_KEY", "supersecuresecret"),
		AccessTokenTTL:      time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		WebhookTimeout:      GetSeconds("WEBHOOK_TIMEOUT_SECONDS", 10*time.Second),
		WebhookWorkers:      GetInt("WEBHOOK_WORKERS", 4),
		WebhookQueueSize:    GetInt("WEBHOOK_QUEUE_SIZE", 256),
		WebhookFanoutLimit:  GetInt("WEBHOOK_FANOUT_LIMIT", 8),
		WebhookSweepEvery:   GetSeconds("WEBHOOK_RETRY_SWEEP_SECONDS", 30*time.Second),
		WebhookLease:        GetSeconds("WEBHOOK_LEASE_SECONDS", 120*time.Second),
		WebhookSweepBatch:   GetInt("WEBHOOK_SWEEP_BATCH", 100),
		RateLimitRedisAddr:  GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:    GetInt("RATE_LIMIT_REDIS_DB", 0),
		KafkaBrokers:        GetList("KAFKA_BROKERS", nil),
		KafkaTopic:          GetString("KAFKA_TOPIC", "deployment-events"),
	}
}

// InMemory reports whether the API should run without PostgreSQL.
func (c APIConfig) InMemory() bool {
	return c.Environment == "memory"
}
