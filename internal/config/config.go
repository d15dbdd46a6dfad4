package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Port     string
	LogLevel string

	DB DBConfig

	PaymentWindow time.Duration
	SweepInterval time.Duration
	SweepBatch    int
	RefundLease   time.Duration

	GatewayMode           string
	RazorpayBaseURL       string
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string

	TraceExporter    string
	TraceEndpoint    string
	TraceInsecure    bool
	TraceSampleRatio float64

	RedisAddr      string
	KafkaBrokers   []string
	KafkaTopic     string
	AllowedOrigins []string
}

type DBConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
}

func (c DBConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.Schema,
	)
}

func Load() (Config, error) {
	cfg := Config{
		Port:     getenv("PORT", "8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		DB: DBConfig{
			Host:     getenv("BLUEPRINT_DB_HOST", "localhost"),
			Port:     getenv("BLUEPRINT_DB_PORT", "5432"),
			Database: getenv("BLUEPRINT_DB_DATABASE", "storefront"),
			Username: getenv("BLUEPRINT_DB_USERNAME", "postgres"),
			Password: getenv("BLUEPRINT_DB_PASSWORD", "postgres"),
			Schema:   getenv("BLUEPRINT_DB_SCHEMA", "public"),
		},
		GatewayMode:           strings.ToLower(getenv("GATEWAY_MODE", "razorpay")),
		RazorpayBaseURL:       getenv("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
		RazorpayKeyID:         getenv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret:     getenv("RAZORPAY_KEY_SECRET", ""),
		RazorpayWebhookSecret: getenv("RAZORPAY_WEBHOOK_SECRET", ""),
		RedisAddr:             getenv("REDIS_ADDR", ""),
		KafkaBrokers:          splitCSV(getenv("KAFKA_BROKERS", "")),
		KafkaTopic:            getenv("KAFKA_TOPIC", "order.events"),
		AllowedOrigins:        splitCSV(getenv("CORS_ALLOWED_ORIGINS", "*")),
		TraceExporter:         strings.ToLower(getenv("TRACE_EXPORTER", "none")),
		TraceEndpoint:         getenv("TRACE_OTLP_ENDPOINT", ""),
	}

	var err error
	if cfg.PaymentWindow, err = durationEnv("PAYMENT_WINDOW", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RefundLease, err = durationEnv("REFUND_LEASE", 2*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SweepBatch, err = strconv.Atoi(getenv("SWEEP_BATCH", "500")); err != nil {
		return Config{}, fmt.Errorf("SWEEP_BATCH: %w", err)
	}

	if cfg.TraceInsecure, err = strconv.ParseBool(getenv("TRACE_OTLP_INSECURE", "true")); err != nil {
		return Config{}, fmt.Errorf("TRACE_OTLP_INSECURE: %w", err)
	}
	if cfg.TraceSampleRatio, err = strconv.ParseFloat(getenv("TRACE_SAMPLE_RATIO", "1"), 64); err != nil {
		return Config{}, fmt.Errorf("TRACE_SAMPLE_RATIO: %w", err)
	}
	switch cfg.TraceExporter {
	case "none", "stdout", "otlp":
	default:
		return Config{}, fmt.Errorf("TRACE_EXPORTER must be none, stdout or otlp, got %q", cfg.TraceExporter)
	}

	switch cfg.GatewayMode {
	case "razorpay":
		if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" || cfg.RazorpayWebhookSecret == "" {
			return Config{}, fmt.Errorf("RAZORPAY_KEY_ID, RAZORPAY_KEY_SECRET and RAZORPAY_WEBHOOK_SECRET are required in razorpay mode")
		}
	case "sandbox":
	default:
		return Config{}, fmt.Errorf("GATEWAY_MODE must be razorpay or sandbox, got %q", cfg.GatewayMode)
	}
	return cfg, nil
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}

func splitCSV(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
