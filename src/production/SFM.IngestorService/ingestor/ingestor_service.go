package ingestor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.IngestorService/client"
	config "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Config"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	mqttconn "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.MQTT"
	metrics "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Metrics"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

const queueSize = 4096

var ErrInvalidTopic = errors.New("invalid device topic")

// Subscriptions are the device topic filters the ingestor listens on
var Subscriptions = []string{"sensors/+/data", "sensors/+/status", "devices/+/cmd/ack"}

// Forwarder delivers one batch of a single kind to the API service
type Forwarder interface {
	Forward(ctx context.Context, kind sfmmodels.InboundKind, batch sfmmodels.InboundBatch) (*sfmmodels.BatchResult, error)
}

type brokerClient interface {
	Connect() mqtt.Token
	IsConnected() bool
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type inbound struct {
	kind sfmmodels.InboundKind
	msg  sfmmodels.InboundMessage
}

type Ingestor struct {
	cfg        *config.IngestorConfig
	forwarder  Forwarder
	mqttClient brokerClient
	msgCh      chan inbound
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	logger     *logger.Logger
	now        func() time.Time
}

func New(cfg *config.IngestorConfig, forwarder Forwarder, log *logger.Logger) (*Ingestor, error) {
	opts, err := mqttconn.ClientOptions(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt options: %w", err)
	}

	i := newIngestor(cfg, forwarder, log)

	// handlers only enqueue, so in-order delivery keeps each device's
	// messages in broker arrival order
	opts.SetOrderMatters(true)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		i.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		i.subscribe(c)
	}
	i.mqttClient = mqtt.NewClient(opts)
	return i, nil
}

func newIngestor(cfg *config.IngestorConfig, forwarder Forwarder, log *logger.Logger) *Ingestor {
	return &Ingestor{
		cfg:       cfg,
		forwarder: forwarder,
		msgCh:     make(chan inbound, queueSize),
		done:      make(chan struct{}),
		logger:    log.WithComponent("ingestor"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (i *Ingestor) Start(ctx context.Context) error {
	if tk := i.mqttClient.Connect(); tk.Wait() && tk.Error() != nil {
		return tk.Error()
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.batchWriter(ctx)
	}()
	return nil
}

// Stop disconnects from the broker and flushes whatever is queued
func (i *Ingestor) Stop() {
	i.stopOnce.Do(func() {
		if i.mqttClient != nil && i.mqttClient.IsConnected() {
			i.mqttClient.Disconnect(500)
		}
		close(i.done)
		i.wg.Wait()
	})
}

func (i *Ingestor) IsConnected() bool {
	return i.mqttClient != nil && i.mqttClient.IsConnected()
}

func (i *Ingestor) subscribe(c brokerClient) {
	for _, filter := range Subscriptions {
		topic := mqttconn.SharedTopic(i.cfg.MQTT.SharedGroup, filter)
		i.logger.Logger.Info().Str("topic", topic).Msg("MQTT connected, subscribing to topic")
		if token := c.Subscribe(topic, i.cfg.MQTT.QoS, i.onMessage); token.Wait() && token.Error() != nil {
			i.logger.Logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		}
	}
}

func (i *Ingestor) onMessage(_ mqtt.Client, m mqtt.Message) {
	i.handle(m.Topic(), m.Payload())
}

// handle validates the topic and queues the message for forwarding
func (i *Ingestor) handle(topic string, payload []byte) {
	i.logger.Logger.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("Received MQTT message")

	kind, externalID, err := ParseTopic(topic)
	if err != nil {
		i.logger.Logger.Warn().Str("topic", topic).Msg("Invalid topic format")
		i.publishError(topicDevice(topic), "invalid_topic", fmt.Sprintf("Invalid topic format: %s", topic))
		return
	}
	metrics.IncMQTTMessage(string(kind))

	in := inbound{
		kind: kind,
		msg: sfmmodels.InboundMessage{
			ExternalID: externalID,
			Payload:    WrapPayload(payload),
			ReceivedAt: i.now(),
		},
	}
	select {
	case i.msgCh <- in:
	case <-i.done:
	}
}

// ParseTopic maps a device topic onto its message kind and device id
func ParseTopic(topic string) (sfmmodels.InboundKind, string, error) {
	parts := strings.Split(topic, "/")
	switch {
	case len(parts) == 3 && parts[0] == "sensors" && parts[1] != "" && parts[2] == "data":
		return sfmmodels.InboundTelemetry, parts[1], nil
	case len(parts) == 3 && parts[0] == "sensors" && parts[1] != "" && parts[2] == "status":
		return sfmmodels.InboundStatus, parts[1], nil
	case len(parts) == 4 && parts[0] == "devices" && parts[1] != "" && parts[2] == "cmd" && parts[3] == "ack":
		return sfmmodels.InboundAck, parts[1], nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
}

func topicDevice(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return "unknown"
}

// WrapPayload passes JSON through and encodes anything else as a JSON
// string, so plain "online" status payloads survive the trip.
func WrapPayload(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return append(json.RawMessage(nil), payload...)
	}
	wrapped, _ := json.Marshal(string(payload))
	return wrapped
}

func (i *Ingestor) batchWriter(ctx context.Context) {
	batch := make([]inbound, 0, i.cfg.Batch.Size)
	timer := time.NewTimer(i.cfg.Batch.Window)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		i.logger.Logger.Debug().Int("batch_size", len(batch)).Msg("Flushing batch to API Service")
		for _, run := range runs(batch) {
			i.forward(ctx, run)
		}
		batch = batch[:0]
	}

	drain := func() {
		for {
			select {
			case in := <-i.msgCh:
				batch = append(batch, in)
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return
		case <-i.done:
			drain()
			return
		case in := <-i.msgCh:
			batch = append(batch, in)
			if len(batch) >= i.cfg.Batch.Size {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(i.cfg.Batch.Window)
			}
		case <-timer.C:
			flush()
			timer.Reset(i.cfg.Batch.Window)
		}
	}
}

// runs splits a batch into consecutive same-kind slices, keeping arrival order
func runs(batch []inbound) [][]inbound {
	var out [][]inbound
	start := 0
	for n := 1; n <= len(batch); n++ {
		if n == len(batch) || batch[n].kind != batch[start].kind {
			out = append(out, batch[start:n])
			start = n
		}
	}
	return out
}

func (i *Ingestor) forward(ctx context.Context, run []inbound) {
	kind := run[0].kind
	body := sfmmodels.InboundBatch{Messages: make([]sfmmodels.InboundMessage, 0, len(run))}
	for _, in := range run {
		body.Messages = append(body.Messages, in.msg)
	}

	// a cancelled ctx during shutdown still gets one bounded attempt
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	result, err := i.forwarder.Forward(ctx, kind, body)
	if err != nil {
		errorType := "forward_error"
		if errors.Is(err, client.ErrRejected) {
			errorType = "forward_rejected"
		}
		metrics.IncForwardBatch(string(kind), errorType)
		i.logger.Logger.Error().Err(err).Str("kind", string(kind)).Int("count", len(run)).Msg("Failed to forward batch")
		for _, id := range deviceIDs(run) {
			i.publishError(id, errorType, fmt.Sprintf("Failed to forward %s: %v", kind, err))
		}
		return
	}

	metrics.IncForwardBatch(string(kind), "ok")
	log := i.logger.Logger.Debug()
	if result.Dropped > 0 {
		log = i.logger.Logger.Warn()
	}
	log.Str("kind", string(kind)).
		Int("received", result.Received).
		Int("processed", result.Processed).
		Int("dropped", result.Dropped).
		Msg("Forwarded batch")
}

func deviceIDs(run []inbound) []string {
	seen := make(map[string]bool, len(run))
	var ids []string
	for _, in := range run {
		if !seen[in.msg.ExternalID] {
			seen[in.msg.ExternalID] = true
			ids = append(ids, in.msg.ExternalID)
		}
	}
	return ids
}

// publishError reports a problem back to the device on its error topic
func (i *Ingestor) publishError(externalID, errorType, message string) {
	if i.mqttClient == nil || !i.mqttClient.IsConnected() {
		return
	}

	payloadJSON, err := json.Marshal(map[string]interface{}{
		"error_type": errorType,
		"message":    message,
		"device_id":  externalID,
		"timestamp":  i.now(),
	})
	if err != nil {
		i.logger.Logger.Error().Err(err).Msg("Failed to marshal error payload")
		return
	}

	errorTopic := fmt.Sprintf("ingestor/errors/%s", externalID)
	token := i.mqttClient.Publish(errorTopic, i.cfg.MQTT.QoS, false, payloadJSON)
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		i.logger.Logger.Error().Err(token.Error()).Str("topic", errorTopic).Msg("Failed to publish error")
		return
	}
	i.logger.Logger.Info().Str("topic", errorTopic).Str("message", message).Msg("Published error")
}
