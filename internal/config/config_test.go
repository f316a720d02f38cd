package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, 50*time.Millisecond, cfg.AdmissionReserveTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.AdmissionPublishTimeout)
	assert.Equal(t, 10*time.Second, cfg.KafkaDeliveryTimeout)
	assert.Equal(t, 5, cfg.WorkerMaxAttempts)
	assert.Equal(t, "@every 30s", cfg.ReconcileSchedule)
	assert.True(t, cfg.EventDrivenEnabled)
	assert.Equal(t, int16(1), cfg.ReplicationFactor())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WORKER_MAX_ATTEMPTS", "3")
	t.Setenv("RECONCILE_GRACE", "90s")
	t.Setenv("EVENT_DRIVEN_ENABLED", "false")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.WorkerMaxAttempts)
	assert.Equal(t, 90*time.Second, cfg.ReconcileGrace)
	assert.False(t, cfg.EventDrivenEnabled)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers())
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("WORKER_LANES", "0")

	_, err := load(viper.New())
	require.Error(t, err)
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: "1", DBName: "d", DBSSLMode: "disable"}
	assert.Equal(t, "postgresql://u:p@h:1/d?sslmode=disable", cfg.DatabaseURL())
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{LogLevel: "warn", LogFormat: "text"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
