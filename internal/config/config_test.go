package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sandboxEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GATEWAY_MODE", "sandbox")
	t.Setenv("PAYMENT_WINDOW", "")
	t.Setenv("SWEEP_INTERVAL", "")
	t.Setenv("REFUND_LEASE", "")
	t.Setenv("SWEEP_BATCH", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("TRACE_EXPORTER", "")
	t.Setenv("TRACE_SAMPLE_RATIO", "")
	t.Setenv("TRACE_OTLP_INSECURE", "")
}

func TestLoadDefaults(t *testing.T) {
	sandboxEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sandbox", cfg.GatewayMode)
	assert.Equal(t, 15*time.Minute, cfg.PaymentWindow)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 2*time.Minute, cfg.RefundLease)
	assert.Equal(t, 500, cfg.SweepBatch)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, 1.0, cfg.TraceSampleRatio)
	assert.True(t, cfg.TraceInsecure)
}

func TestLoadOverrides(t *testing.T) {
	sandboxEnv(t)
	t.Setenv("PAYMENT_WINDOW", "30m")
	t.Setenv("SWEEP_BATCH", "50")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://shop.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.PaymentWindow)
	assert.Equal(t, 50, cfg.SweepBatch)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"https://shop.example"}, cfg.AllowedOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"duration", "PAYMENT_WINDOW", "soon"},
		{"batch", "SWEEP_BATCH", "many"},
		{"gateway mode", "GATEWAY_MODE", "stripe"},
		{"trace exporter", "TRACE_EXPORTER", "zipkin"},
		{"sample ratio", "TRACE_SAMPLE_RATIO", "half"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sandboxEnv(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRazorpayNeedsCredentials(t *testing.T) {
	sandboxEnv(t)
	t.Setenv("GATEWAY_MODE", "razorpay")
	t.Setenv("RAZORPAY_KEY_ID", "rzp_test_key")
	t.Setenv("RAZORPAY_KEY_SECRET", "")
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("RAZORPAY_KEY_SECRET", "secret")
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", "whsec")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "rzp_test_key", cfg.RazorpayKeyID)
}

func TestDBURL(t *testing.T) {
	c := DBConfig{Host: "db", Port: "5432", Database: "shop", Username: "u", Password: "p", Schema: "public"}
	assert.Equal(t, "postgres://u:p@db:5432/shop?sslmode=disable&search_path=public", c.URL())
}
