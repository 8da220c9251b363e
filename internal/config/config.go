package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PGDSN        string
	MongoURI     string
	RedisAddr    string
	RabbitURL    string
	ListenAddr   string
	OTLPEndpoint string

	StripeSecretKey     string
	StripeWebhookSecret string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string

	// SessionTTL bounds the hosted checkout session; ReclaimDelay is how
	// long a pending booking keeps its units. Load clamps ReclaimDelay up
	// to SessionTTL so a still-open checkout is never reclaimed early.
	SessionTTL   time.Duration
	ReclaimDelay time.Duration
	RefundRate   float64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		PGDSN:               os.Getenv("PG_DSN"),
		MongoURI:            os.Getenv("MONGO_URI"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RabbitURL:           os.Getenv("RABBIT_URL"),
		ListenAddr:          os.Getenv("LISTEN_ADDR"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CheckoutSuccessURL:  os.Getenv("CHECKOUT_SUCCESS_URL"),
		CheckoutCancelURL:   os.Getenv("CHECKOUT_CANCEL_URL"),
		SessionTTL:          durationEnv("SESSION_TTL", 30*time.Minute),
		ReclaimDelay:        durationEnv("RECLAIM_DELAY", 10*time.Minute),
		RefundRate:          floatEnv("REFUND_RATE", 0.5),
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ReclaimDelay < cfg.SessionTTL {
		cfg.ReclaimDelay = cfg.SessionTTL
	}
	if cfg.RefundRate < 0 || cfg.RefundRate > 1 {
		cfg.RefundRate = 0.5
	}

	return cfg, nil
}

func durationEnv(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func floatEnv(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}
