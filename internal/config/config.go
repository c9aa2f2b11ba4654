package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds service configuration loaded from the environment.
type Config struct {
	AppName     string
	AppURL      string
	LogLevel    string
	HTTPPort    string
	MetricsAddr string

	DatabaseURL string
	RabbitURL   string
	RedisURL    string

	SendQueue    string
	BatchQueue   string
	WebhookQueue string
	DeadLetter   string

	PrefetchCount int
	WorkerCount   int

	MailFrom     string
	MailFromName string
	SMTPAddr     string
	SMTPUser     string
	SMTPPassword string

	BatchSize        int
	SendMaxAttempts  int
	SendBaseBackoff  time.Duration
	WebhookTimeout   time.Duration
	WebhookUserAgent string

	RateLimitBase      int
	RateLimitIncrement int
	RateLimitCap       int
}

// Load loads configuration and performs basic validation.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:     getEnv("APP_NAME", "mail-dispatch"),
		AppURL:      getEnv("APP_URL", "http://localhost:8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RabbitURL:   getEnv("RABBITMQ_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		SendQueue:    getEnv("SEND_QUEUE", "email.send"),
		BatchQueue:   getEnv("BATCH_QUEUE", "email.batch"),
		WebhookQueue: getEnv("WEBHOOK_QUEUE", "webhook.deliver"),
		DeadLetter:   getEnv("DEAD_LETTER_QUEUE", "failed.queue"),

		PrefetchCount: getEnvAsInt("PREFETCH_COUNT", 50),
		WorkerCount:   getEnvAsInt("WORKER_COUNT", 5),

		MailFrom:     getEnv("MAIL_FROM", "no-reply@localhost"),
		MailFromName: getEnv("MAIL_FROM_NAME", ""),
		SMTPAddr:     getEnv("SMTP_ADDR", ""),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		BatchSize:        getEnvAsInt("BATCH_SIZE", 100),
		SendMaxAttempts:  getEnvAsInt("SEND_MAX_ATTEMPTS", 3),
		SendBaseBackoff:  getEnvAsDuration("SEND_BASE_BACKOFF", 5*time.Second),
		WebhookTimeout:   getEnvAsDuration("WEBHOOK_TIMEOUT", 30*time.Second),
		WebhookUserAgent: getEnv("WEBHOOK_USER_AGENT", "mail-dispatch-webhooks/1.0"),

		RateLimitBase:      getEnvAsInt("RATE_LIMIT_BASE", 100),
		RateLimitIncrement: getEnvAsInt("RATE_LIMIT_INCREMENT", 50),
		RateLimitCap:       getEnvAsInt("RATE_LIMIT_CAP", 2000),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.RabbitURL == "" {
		missing = append(missing, "RABBITMQ_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func getEnvAsInt(key string, def int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid int for %s, using default %d: %v", key, def, err)
			return def
		}
		return i
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			log.Printf("invalid duration for %s, using default %s: %v", key, def, err)
			return def
		}
		return d
	}
	return def
}
