package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"reconciliation-service/internal/service"
	"reconciliation-service/pkg/database"

	"go.uber.org/zap"
)

type Config struct {
	Port   string
	APIKey string

	DB DB

	StripeAPIKey string

	ZMABaseURL string
	ZMAAPIKey  string
	ZMATimeout time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	Pipeline service.Config
}

type DB struct {
	database.Config
}

func Load(log *zap.Logger) *Config {
	pipeline := service.DefaultConfig()
	pipeline.MaxRetries = atoiDefault(os.Getenv("MAX_RETRY_ATTEMPTS"), pipeline.MaxRetries)
	pipeline.RetryBatchSize = atoiDefault(os.Getenv("RETRY_BATCH_SIZE"), pipeline.RetryBatchSize)
	pipeline.ReconcileBatchSize = atoiDefault(os.Getenv("RECONCILE_BATCH_SIZE"), pipeline.ReconcileBatchSize)
	pipeline.StuckPaymentAge = durationDefault(os.Getenv("STUCK_PAYMENT_AGE"), pipeline.StuckPaymentAge)
	pipeline.InterOrderDelay = durationDefault(os.Getenv("INTER_ORDER_DELAY"), pipeline.InterOrderDelay)
	pipeline.PerOrderTimeout = durationDefault(os.Getenv("PER_ORDER_TIMEOUT"), pipeline.PerOrderTimeout)

	return &Config{
		Port:   getEnv("APP_PORT", log),
		APIKey: getEnv("SERVICE_API_KEY", log),
		DB: DB{
			Config: database.Config{
				Host:     getEnv("DB_HOST", log),
				Port:     getEnv("DB_PORT", log),
				User:     getEnv("DB_USER", log),
				Password: getEnv("DB_PASSWORD", log),
				Name:     getEnv("DB_NAME", log),
				SSLMode:  getEnv("DB_SSLMODE", log),
			},
		},
		StripeAPIKey: getEnv("STRIPE_API_KEY", log),
		ZMABaseURL:   getEnv("ZMA_BASE_URL", log),
		ZMAAPIKey:    getEnv("ZMA_API_KEY", log),
		ZMATimeout:   durationDefault(os.Getenv("ZMA_TIMEOUT"), 20*time.Second),
		KafkaBrokers: splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   os.Getenv("KAFKA_TOPIC_ORDER_EVENTS"),
		Pipeline:     pipeline,
	}
}

func getEnv(key string, log *zap.Logger) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	log.Error("Обязательная переменная окружения не установлена", zap.String("key", key))
	panic("missing required environment variable: " + key)
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func durationDefault(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(s, ",") {
		pt := strings.TrimSpace(p)
		if pt != "" {
			parts = append(parts, pt)
		}
	}
	return parts
}
