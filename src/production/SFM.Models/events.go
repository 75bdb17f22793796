package sfmmodels

import "time"

// EventType names a live stream event
type EventType string

const (
	EventWelcome   EventType = "welcome"
	EventTelemetry EventType = "telemetry"
	EventStatus    EventType = "status"
)

// Event is one message fanned out to the live subscribers of a device
type Event struct {
	Type       EventType   `json:"type"`
	ExternalID string      `json:"-"`
	Data       interface{} `json:"data"`
}

// WelcomeEvent is sent once, first, on every new stream
type WelcomeEvent struct {
	ExternalID string `json:"externalId"`
	At         int64  `json:"at"`
}

// TelemetryEvent carries a normalized reading plus the device status
type TelemetryEvent struct {
	ExternalID   string       `json:"externalId"`
	Temperature  *float64     `json:"temperature,omitempty"`
	Humidity     *float64     `json:"humidity,omitempty"`
	SoilMoisture *float64     `json:"soilMoisture,omitempty"`
	Lux          *float64     `json:"lux,omitempty"`
	PH           *float64     `json:"pH,omitempty"`
	RelayFan     RelayState   `json:"relayFan,omitempty"`
	RelayPump    RelayState   `json:"relayPump,omitempty"`
	RelayLight   RelayState   `json:"relayLight,omitempty"`
	Status       DeviceStatus `json:"status"`
	Ts           int64        `json:"ts"`
}

// StatusEvent announces a presence transition. At is epoch milliseconds.
type StatusEvent struct {
	ExternalID string       `json:"externalId"`
	Status     DeviceStatus `json:"status"`
	At         int64        `json:"at"`
}

// NewTelemetryEvent builds the hub event for a processed reading. Relay
// states come from the device record, which already reflects the reading.
func NewTelemetryEvent(dev *Device, r *Reading) Event {
	return Event{
		Type:       EventTelemetry,
		ExternalID: dev.ExternalID,
		Data: TelemetryEvent{
			ExternalID:   dev.ExternalID,
			Temperature:  r.Temperature,
			Humidity:     r.Humidity,
			SoilMoisture: r.SoilMoisture,
			Lux:          r.Lux,
			PH:           r.PH,
			RelayFan:     dev.FanState.LastState,
			RelayPump:    dev.PumpState.LastState,
			RelayLight:   dev.LightState.LastState,
			Status:       dev.Status,
			Ts:           r.Timestamp.UnixMilli(),
		},
	}
}

// NewStatusEvent builds the hub event for a presence transition
func NewStatusEvent(externalID string, status DeviceStatus, at time.Time) Event {
	return Event{
		Type:       EventStatus,
		ExternalID: externalID,
		Data:       StatusEvent{ExternalID: externalID, Status: status, At: at.UnixMilli()},
	}
}

// NewWelcomeEvent builds the first event of a stream
func NewWelcomeEvent(externalID string, at time.Time) Event {
	return Event{
		Type:       EventWelcome,
		ExternalID: externalID,
		Data:       WelcomeEvent{ExternalID: externalID, At: at.UnixMilli()},
	}
}
