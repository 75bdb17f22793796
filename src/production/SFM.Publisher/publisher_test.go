package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	automation "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Automation"
	config "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Config"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	implementation "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Implementation"
)

func f(v float64) *float64 { return &v }

type stubToken struct {
	err     error
	expired bool
	// hang makes WaitTimeout block for the full timeout, like a broker that never acks
	hang bool
}

func (t *stubToken) Wait() bool { return true }
func (t *stubToken) WaitTimeout(d time.Duration) bool {
	if t.hang {
		time.Sleep(d)
		return false
	}
	return !t.expired
}
func (t *stubToken) Error() error { return t.err }
func (t *stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type stubClient struct {
	mu           sync.Mutex
	connected    bool
	connectErrs  []error
	connects     int
	publishErr   error
	publishSlow  bool
	publishHang  bool
	messages     []published
	disconnected bool
}

func (c *stubClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		return &stubToken{err: err}
	}
	c.connected = true
	return &stubToken{}
}

func (c *stubClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *stubClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, retained: retained, payload: string(payload.([]byte))})
	return &stubToken{err: c.publishErr, expired: c.publishSlow, hang: c.publishHang}
}

func (c *stubClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func newTestPublisher(client *stubClient) *MQTTPublisher {
	return newPublisher(client,
		config.MQTTConfig{QoS: 1, PublishTimeout: 50 * time.Millisecond},
		config.CircuitBreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute},
		logger.NewNopLogger())
}

func TestControlTopic(t *testing.T) {
	tests := []struct {
		channel sfmmodels.Channel
		want    string
	}{
		{sfmmodels.ChannelMain, "sensors/esp32-01/control"},
		{sfmmodels.ChannelFan, "sensors/esp32-01/control/fan"},
		{sfmmodels.ChannelPump, "sensors/esp32-01/control/pump"},
		{sfmmodels.ChannelLight, "sensors/esp32-01/control/light"},
	}
	for _, tt := range tests {
		got, err := ControlTopic("esp32-01", tt.channel)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ControlTopic("esp32-01", sfmmodels.Channel("heater"))
	assert.ErrorIs(t, err, ErrInvalidCommand)
	_, err = ControlTopic("", sfmmodels.ChannelFan)
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestPublish_PlainPayloadNotRetained(t *testing.T) {
	client := &stubClient{connected: true}
	p := newTestPublisher(client)

	require.NoError(t, p.Publish("esp32-01", sfmmodels.ChannelPump, sfmmodels.RelayOn))
	require.NoError(t, p.Publish("esp32-01", sfmmodels.ChannelMain, sfmmodels.RelayOff))

	require.Len(t, client.messages, 2)
	assert.Equal(t, published{topic: "sensors/esp32-01/control/pump", qos: 1, payload: "ON"}, client.messages[0])
	assert.Equal(t, published{topic: "sensors/esp32-01/control", qos: 1, payload: "OFF"}, client.messages[1])
}

func TestPublish_NotConnected(t *testing.T) {
	client := &stubClient{}
	p := newTestPublisher(client)

	err := p.Publish("esp32-01", sfmmodels.ChannelFan, sfmmodels.RelayOn)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, client.messages)
}

func TestPublish_InvalidAction(t *testing.T) {
	p := newTestPublisher(&stubClient{connected: true})
	assert.ErrorIs(t, p.Publish("esp32-01", sfmmodels.ChannelFan, sfmmodels.RelayUnknown), ErrInvalidCommand)
}

func TestPublish_TimeoutAndBreaker(t *testing.T) {
	client := &stubClient{connected: true, publishSlow: true}
	p := newTestPublisher(client)

	// delivery failures surface through the breaker, not the caller
	require.NoError(t, p.Publish("esp32-01", sfmmodels.ChannelFan, sfmmodels.RelayOn))
	p.wg.Wait()

	client.mu.Lock()
	client.publishSlow = false
	client.publishErr = errors.New("broker refused")
	client.mu.Unlock()
	require.NoError(t, p.Publish("esp32-01", sfmmodels.ChannelFan, sfmmodels.RelayOn))
	p.wg.Wait()

	// two consecutive failures open the breaker; the broker is no longer called
	assert.Equal(t, "open", p.BreakerState())
	client.mu.Lock()
	before := len(client.messages)
	client.mu.Unlock()
	err := p.Publish("esp32-01", sfmmodels.ChannelFan, sfmmodels.RelayOn)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	client.mu.Lock()
	assert.Len(t, client.messages, before)
	client.mu.Unlock()
}

func TestPublish_ReturnsBeforeBrokerAck(t *testing.T) {
	client := &stubClient{connected: true, publishHang: true}
	p := newPublisher(client,
		config.MQTTConfig{QoS: 1, PublishTimeout: 2 * time.Second},
		config.CircuitBreakerConfig{MaxFailures: 5, OpenTimeout: time.Minute},
		logger.NewNopLogger())

	store := implementation.NewMemoryDeviceStore()
	store.Put(&sfmmodels.Device{
		ID:         "dev-1",
		ExternalID: "esp32-01",
		Fan:        sfmmodels.ChannelConfig{Enabled: true, Threshold: f(30), Hysteresis: f(2)},
	})
	engine := automation.NewEngine(store, p, logger.NewNopLogger())

	ctx := context.Background()
	dev, err := store.Get(ctx, "dev-1")
	require.NoError(t, err)

	start := time.Now()
	dev = engine.Apply(ctx, dev, &sfmmodels.Reading{ExternalID: "esp32-01", Temperature: f(35)}, start)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, sfmmodels.RelayOn, dev.FanState.LastState)

	client.mu.Lock()
	require.Len(t, client.messages, 1)
	assert.Equal(t, "sensors/esp32-01/control/fan", client.messages[0].topic)
	client.mu.Unlock()

	require.NoError(t, p.Close())
}

func TestPublish_BoundedInFlight(t *testing.T) {
	client := &stubClient{connected: true}
	p := newTestPublisher(client)
	for i := 0; i < maxInFlight; i++ {
		p.inflight <- struct{}{}
	}

	err := p.Publish("esp32-01", sfmmodels.ChannelLight, sfmmodels.RelayOn)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, client.messages)
}

func TestConnect_RetriesUntilConnected(t *testing.T) {
	client := &stubClient{connectErrs: []error{errors.New("refused"), errors.New("refused")}}
	p := newTestPublisher(client)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Connect(ctx))
	assert.Equal(t, 3, client.connects)
	assert.True(t, p.IsConnected())
}

func TestConnect_StopsOnCancel(t *testing.T) {
	client := &stubClient{connectErrs: []error{errors.New("refused")}}
	p := newTestPublisher(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, p.Connect(ctx))
}

func TestClose_Idempotent(t *testing.T) {
	client := &stubClient{connected: true}
	p := newTestPublisher(client)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, client.disconnected)
	assert.False(t, p.IsConnected())
}
