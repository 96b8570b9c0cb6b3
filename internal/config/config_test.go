package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(ServicePayment)
	require.NoError(t, err)

	assert.Equal(t, ServicePayment, cfg.ServiceName)
	assert.Equal(t, ":8083", cfg.HTTPAddr)
	assert.Equal(t, ServicePayment, cfg.Kafka.Group)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Hour, cfg.Sweep.PaymentFailedGrace)
	assert.Equal(t, 30*time.Minute, cfg.Sweep.SessionTTL)
	assert.Equal(t, "sandbox", cfg.Gateway.Default)
	assert.True(t, cfg.Gateway.Sandbox.Enabled)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("SAGA_STORAGE", "memory")
	t.Setenv("SAGA_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SAGA_SWEEP_PAYMENT_FAILED_GRACE", "15m")
	t.Setenv("SAGA_HTTP_ADDR", ":9000")

	cfg, err := Load(ServiceOrders)
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Minute, cfg.Sweep.PaymentFailedGrace)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
}

func TestLoad_InvalidStorage(t *testing.T) {
	t.Setenv("SAGA_STORAGE", "sqlite")
	_, err := Load(ServiceInventory)
	require.Error(t, err)
}
