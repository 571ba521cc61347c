package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env      string
	HTTPAddr string

	// StorageMode selects the persistence backend: "memory" or "mongo".
	StorageMode string
	MongoURI    string
	MongoDB     string

	KafkaBrokers     []string
	KafkaTopicPrefix string

	RedisAddr      string
	IdempotencyTTL time.Duration

	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration

	Currency       string
	ServiceFeeRate float64
	MinLeaseMonths int

	DefaultGateway string

	MobileMoneyBaseURL       string
	MobileMoneySecretKey     string
	MobileMoneyWebhookSecret string
	MobileMoneyReturnURL     string

	CardBaseURL        string
	CardSecretKey      string
	CardWebhookSecret  string
	CardEventTolerance time.Duration

	GatewayTimeout time.Duration
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:                      getEnv("APP_ENV", "dev"),
		HTTPAddr:                 getEnv("HTTP_ADDR", ":8080"),
		StorageMode:              strings.ToLower(getEnv("STORAGE_MODE", "memory")),
		MongoURI:                 os.Getenv("MONGO_URI"),
		MongoDB:                  getEnv("MONGO_DB", "kiraya"),
		KafkaTopicPrefix:         getEnv("KAFKA_TOPIC_PREFIX", ""),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		Currency:                 strings.ToUpper(getEnv("CURRENCY", "ETB")),
		DefaultGateway:           strings.ToLower(getEnv("DEFAULT_GATEWAY", "mobile_money")),
		MobileMoneyBaseURL:       getEnv("MM_BASE_URL", "https://api.chapa.co"),
		MobileMoneySecretKey:     os.Getenv("MM_SECRET_KEY"),
		MobileMoneyWebhookSecret: os.Getenv("MM_WEBHOOK_SECRET"),
		MobileMoneyReturnURL:     os.Getenv("MM_RETURN_URL"),
		CardBaseURL:              getEnv("CARD_BASE_URL", "https://api.stripe.com"),
		CardSecretKey:            os.Getenv("CARD_SECRET_KEY"),
		CardWebhookSecret:        os.Getenv("CARD_WEBHOOK_SECRET"),
	}
	brokers := getEnv("KAFKA_BROKERS", "")
	if brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	var err error
	if cfg.IdempotencyTTL, err = parseDurationEnv("IDEMP_TTL", 168*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.GatewayTimeout, err = parseDurationEnv("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CardEventTolerance, err = parseDurationEnv("CARD_EVENT_TOLERANCE", 5*time.Minute); err != nil {
		return Config{}, err
	}

	retryStr := getEnv("RETRY_BACKOFF", "1s,5s,30s")
	for _, raw := range strings.Split(retryStr, ",") {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RETRY_BACKOFF component %q: %w", raw, err)
		}
		cfg.RetryBackoff = append(cfg.RetryBackoff, d)
	}

	if cfg.ServiceFeeRate, err = parseFloatEnv("SERVICE_FEE_RATE", 0.05); err != nil {
		return Config{}, err
	}
	if cfg.MinLeaseMonths, err = parseIntEnv("MIN_LEASE_MONTHS", 1); err != nil {
		return Config{}, err
	}

	switch cfg.StorageMode {
	case "memory":
	case "mongo":
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("MONGO_URI is required when STORAGE_MODE=mongo")
		}
		if len(cfg.KafkaBrokers) == 0 {
			return Config{}, fmt.Errorf("KAFKA_BROKERS is required when STORAGE_MODE=mongo")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORAGE_MODE %q", cfg.StorageMode)
	}

	if cfg.IsProd() {
		if cfg.MobileMoneyWebhookSecret == "" {
			return Config{}, fmt.Errorf("MM_WEBHOOK_SECRET is required in %s", cfg.Env)
		}
		if cfg.CardSecretKey != "" && cfg.CardWebhookSecret == "" {
			return Config{}, fmt.Errorf("CARD_WEBHOOK_SECRET is required in %s", cfg.Env)
		}
	}
	return cfg, nil
}

// IsProd reports whether the environment forbids dev-only relaxations such
// as unsigned webhooks.
func (c Config) IsProd() bool {
	switch c.Env {
	case "dev", "local", "test":
		return false
	}
	return true
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseFloatEnv(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s number: %w", key, err)
	}
	return f, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return n, nil
}
