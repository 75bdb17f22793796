package mqttconn

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Config"
)

func TestSharedTopic(t *testing.T) {
	assert.Equal(t, "sensors/+/data", SharedTopic("", "sensors/+/data"))
	assert.Equal(t, "$share/farm/sensors/+/data", SharedTopic("farm", "sensors/+/data"))
}

func TestClientOptions(t *testing.T) {
	opts, err := ClientOptions(config.MQTTConfig{
		BrokerHost: "broker.local",
		BrokerPort: 1883,
		BrokerUser: "farm",
		BrokerPass: "secret",
		ClientID:   "farm-api",
	})
	require.NoError(t, err)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://broker.local:1883", opts.Servers[0].String())
	assert.Equal(t, "farm-api", opts.ClientID)
	assert.Equal(t, "farm", opts.Username)
	assert.True(t, opts.AutoReconnect)
	assert.Nil(t, opts.TLSConfig)
}

func TestClientOptions_TLSWithoutCA(t *testing.T) {
	opts, err := ClientOptions(config.MQTTConfig{BrokerHost: "broker.local", BrokerPort: 8883, UseTLS: true})
	require.NoError(t, err)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), opts.TLSConfig.MinVersion)
	assert.Equal(t, "tcps://broker.local:8883", opts.Servers[0].String())
}

func TestTLSConfig_BadCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

	_, err := TLSConfig(path)
	assert.EqualError(t, err, "bad CA file")

	_, err = TLSConfig(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)
}
