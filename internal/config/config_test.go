package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Relay.HeartbeatInterval)
	assert.Equal(t, 256, cfg.Relay.SendBufferSize)
	assert.False(t, cfg.Kafka.Enabled())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("VC_PORT", "9090")
	t.Setenv("RELAY_HEARTBEAT_INTERVAL", "5s")
	t.Setenv("ALLOWED_ORIGINS", "https://visaconnect.app, http://localhost:3000 ,")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr())
	assert.Equal(t, 5*time.Second, cfg.Relay.HeartbeatInterval)
	assert.Equal(t, []string{"https://visaconnect.app", "http://localhost:3000"}, cfg.Relay.AllowedOrigins)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Len(t, cfg.Kafka.Brokers, 2)
}

func TestLoadConfigRejectsBadHeartbeat(t *testing.T) {
	t.Setenv("RELAY_HEARTBEAT_INTERVAL", "0s")

	_, err := LoadConfig()
	assert.Error(t, err)
}
