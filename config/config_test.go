package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, BackendPostgres, cfg.Database.Backend)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 10*time.Second, cfg.Business.PaymentTimeout)
	assert.Equal(t, 10, cfg.Business.LowStockThreshold)
	assert.Equal(t, "9090", cfg.Observ.PrometheusPort)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "MEMORY")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOW_STOCK_THRESHOLD", "3")
	t.Setenv("PROMETHEUS_PORT", "9100")

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := fromViper(v)

	assert.Equal(t, BackendMemory, cfg.Database.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Business.LowStockThreshold)
	assert.Equal(t, "9100", cfg.Observ.PrometheusPort)
}
