// Package publisher delivers actuator commands to devices over MQTT.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"
	config "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Config"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	metrics "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Metrics"
	mqttconn "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.MQTT"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

var (
	ErrNotConnected   = errors.New("mqtt publisher not connected")
	ErrInvalidCommand = errors.New("invalid control command")
	ErrBusy           = errors.New("too many unacknowledged control publishes")
)

// maxInFlight bounds publishes still waiting for a broker acknowledgement
const maxInFlight = 256

// ControlTopic returns the topic a device listens on for a channel
func ControlTopic(externalID string, ch sfmmodels.Channel) (string, error) {
	if externalID == "" {
		return "", fmt.Errorf("%w: empty device id", ErrInvalidCommand)
	}
	switch ch {
	case sfmmodels.ChannelMain:
		return fmt.Sprintf("sensors/%s/control", externalID), nil
	case sfmmodels.ChannelFan, sfmmodels.ChannelPump, sfmmodels.ChannelLight:
		return fmt.Sprintf("sensors/%s/control/%s", externalID, ch), nil
	}
	return "", fmt.Errorf("%w: unknown channel %q", ErrInvalidCommand, ch)
}

// brokerClient is the subset of mqtt.Client the publisher uses
type brokerClient interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTPublisher struct {
	client  brokerClient
	qos     byte
	timeout time.Duration
	breaker *gobreaker.TwoStepCircuitBreaker
	logger  *logger.Logger

	inflight chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once
}

// NewMQTTPublisher builds a publisher. It does not connect; call Connect.
func NewMQTTPublisher(cfg config.MQTTConfig, cb config.CircuitBreakerConfig, log *logger.Logger) (*MQTTPublisher, error) {
	opts, err := mqttconn.ClientOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt options: %w", err)
	}
	log = log.WithComponent("publisher")

	// initial connect is retried by Connect, auto-reconnect covers later drops
	opts.SetConnectRetry(false)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Logger.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnConnect = func(_ mqtt.Client) {
		log.Logger.Info().Str("broker", cfg.BrokerURL()).Msg("MQTT publisher connected")
	}

	return newPublisher(mqtt.NewClient(opts), cfg, cb, log), nil
}

func newPublisher(client brokerClient, cfg config.MQTTConfig, cb config.CircuitBreakerConfig, log *logger.Logger) *MQTTPublisher {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	maxFailures := cb.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &MQTTPublisher{
		client:  client,
		qos:     cfg.QoS,
		timeout: timeout,
		logger:   log,
		inflight: make(chan struct{}, maxInFlight),
		breaker: gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
			Name:     "mqtt-publish",
			Interval: cb.Interval,
			Timeout:  cb.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(maxFailures)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}),
	}
}

// Connect dials the broker with exponential backoff until it succeeds or
// ctx is done. Publish returns ErrNotConnected in the meantime.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		if tk := p.client.Connect(); tk.Wait() && tk.Error() != nil {
			return tk.Error()
		}
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		p.logger.Logger.Warn().Err(err).Dur("retry_in", next).Msg("MQTT connect failed")
	})
}

// Publish queues action for the device's channel and returns without
// waiting for the broker. Payload is plain ON/OFF, never retained. Delivery
// outcomes feed the breaker in the background; an open breaker fails fast.
func (p *MQTTPublisher) Publish(externalID string, ch sfmmodels.Channel, action sfmmodels.RelayState) error {
	if action != sfmmodels.RelayOn && action != sfmmodels.RelayOff {
		return fmt.Errorf("%w: action %q", ErrInvalidCommand, action)
	}
	topic, err := ControlTopic(externalID, ch)
	if err != nil {
		return err
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	done, err := p.breaker.Allow()
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	select {
	case p.inflight <- struct{}{}:
	default:
		done(false)
		return fmt.Errorf("publish %s: %w", topic, ErrBusy)
	}

	tk := p.client.Publish(topic, p.qos, false, []byte(action))
	p.wg.Add(1)
	go p.await(tk, topic, action, done)
	return nil
}

// await waits for the broker acknowledgement and reports it to the breaker
func (p *MQTTPublisher) await(tk mqtt.Token, topic string, action sfmmodels.RelayState, done func(bool)) {
	defer p.wg.Done()
	defer func() { <-p.inflight }()

	var err error
	if !tk.WaitTimeout(p.timeout) {
		err = fmt.Errorf("publish timed out after %s", p.timeout)
	} else {
		err = tk.Error()
	}
	done(err == nil)

	log := p.logger.Logger.With().Str("topic", topic).Str("action", string(action)).Logger()
	if err != nil {
		metrics.IncPublishFailure("delivery")
		log.Error().Err(err).Msg("control publish not acknowledged")
		return
	}
	log.Debug().Msg("control published")
}

func (p *MQTTPublisher) IsConnected() bool {
	return p.client != nil && p.client.IsConnected()
}

// BreakerState reports the publish breaker state for health output
func (p *MQTTPublisher) BreakerState() string {
	return p.breaker.State().String()
}

func (p *MQTTPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.wg.Wait()
		if p.client.IsConnected() {
			p.client.Disconnect(500)
		}
	})
	return nil
}
