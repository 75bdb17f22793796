package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredAPIEnv(t *testing.T) {
	t.Helper()
	t.Setenv("POSTGRES_USER", "farm")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("INTERNAL_API_SECRET", "internal")
}

func TestLoadApiConfig_Defaults(t *testing.T) {
	setRequiredAPIEnv(t)

	cfg, err := LoadApiConfig()
	require.NoError(t, err)

	assert.Equal(t, "9002", cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Automation.OfflineTimeout)
	assert.Equal(t, 30*time.Second, cfg.Automation.PresenceSweepInterval)
	assert.Equal(t, 30*time.Second, cfg.Automation.SchedulerInterval)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Empty(t, cfg.Automation.AutoProvisionOwnerID)
	assert.False(t, cfg.Influx.Enabled())
	assert.False(t, cfg.Email.Enabled())
	assert.Equal(t, "smtp.gmail.com", cfg.Email.Host)
	assert.Equal(t, 587, cfg.Email.Port)
	assert.Equal(t, "sensor_data", cfg.Mongo.ReadingsColl)
}

func TestLoadApiConfig_Overrides(t *testing.T) {
	setRequiredAPIEnv(t)
	t.Setenv("OFFLINE_TIMEOUT_SEC", "45")
	t.Setenv("MQTT_QOS", "0")
	t.Setenv("AUTO_PROVISION_OWNER_ID", "owner-1")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://farm.example.com, https://ops.example.com ,")
	t.Setenv("EMAIL_USER", "alerts@example.com")
	t.Setenv("EMAIL_PASS", "pw")
	t.Setenv("INFLUX_URL", "http://influx:8086")

	cfg, err := LoadApiConfig()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Automation.OfflineTimeout)
	assert.Equal(t, byte(0), cfg.MQTT.QoS)
	assert.Equal(t, "owner-1", cfg.Automation.AutoProvisionOwnerID)
	assert.Equal(t, []string{"https://farm.example.com", "https://ops.example.com"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Email.Enabled())
	assert.True(t, cfg.Influx.Enabled())
}

func TestLoadApiConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing postgres user", env: map[string]string{"POSTGRES_PASSWORD": "x", "INTERNAL_API_SECRET": "x"}},
		{name: "missing internal secret", env: map[string]string{"POSTGRES_USER": "x", "POSTGRES_PASSWORD": "x"}},
		{name: "qos out of range", env: map[string]string{"POSTGRES_USER": "x", "POSTGRES_PASSWORD": "x", "INTERNAL_API_SECRET": "x", "MQTT_QOS": "3"}},
		{name: "zero offline timeout", env: map[string]string{"POSTGRES_USER": "x", "POSTGRES_PASSWORD": "x", "INTERNAL_API_SECRET": "x", "OFFLINE_TIMEOUT_SEC": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("POSTGRES_USER", "")
			t.Setenv("POSTGRES_PASSWORD", "")
			t.Setenv("INTERNAL_API_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadApiConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadIngestorConfig(t *testing.T) {
	t.Setenv("INTERNAL_API_SECRET", "internal")
	t.Setenv("INGEST_BATCH_SIZE", "10")

	cfg, err := LoadIngestorConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Batch.Size)
	assert.Equal(t, "farm-ingestor", cfg.MQTT.ClientID)
	assert.Equal(t, 5, cfg.CircuitBreaker.MaxFailures)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.BrokerURL())
}

func TestMQTTConfig_BrokerURLWithTLS(t *testing.T) {
	cfg := MQTTConfig{BrokerHost: "broker", BrokerPort: 8883, UseTLS: true}
	assert.Equal(t, "tcps://broker:8883", cfg.BrokerURL())
}
