package sfmmodels

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Metric names accepted by alert rules and reading queries
const (
	MetricTemperature  = "temperature"
	MetricHumidity     = "humidity"
	MetricSoilMoisture = "soilMoisture"
	MetricLux          = "lux"
)

// AlertMetrics lists the metrics an alert rule may watch
var AlertMetrics = []string{MetricTemperature, MetricHumidity, MetricSoilMoisture, MetricLux}

// Reading is a normalized telemetry sample. Absent measurements are nil,
// never zero; absent relay reports are RelayUnknown.
type Reading struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	DeviceID     string             `bson:"deviceId" json:"deviceId"`
	ExternalID   string             `bson:"externalId" json:"externalId"`
	Temperature  *float64           `bson:"temperature,omitempty" json:"temperature,omitempty"`
	Humidity     *float64           `bson:"humidity,omitempty" json:"humidity,omitempty"`
	SoilMoisture *float64           `bson:"soilMoisture,omitempty" json:"soilMoisture,omitempty"`
	Lux          *float64           `bson:"lux,omitempty" json:"lux,omitempty"`
	PH           *float64           `bson:"pH,omitempty" json:"pH,omitempty"`
	RelayFan     RelayState         `bson:"relayFan,omitempty" json:"relayFan,omitempty"`
	RelayPump    RelayState         `bson:"relayPump,omitempty" json:"relayPump,omitempty"`
	RelayLight   RelayState         `bson:"relayLight,omitempty" json:"relayLight,omitempty"`
	Timestamp    time.Time          `bson:"timestamp" json:"timestamp"`
}

// Measurement returns the value that drives automation for ch:
// temperature for fan, soil moisture for pump, lux for light.
func (r *Reading) Measurement(ch Channel) *float64 {
	switch ch {
	case ChannelFan:
		return r.Temperature
	case ChannelPump:
		return r.SoilMoisture
	case ChannelLight:
		return r.Lux
	}
	return nil
}

// Metric looks a value up by its alert-rule metric name
func (r *Reading) Metric(name string) (float64, bool) {
	var v *float64
	switch name {
	case MetricTemperature:
		v = r.Temperature
	case MetricHumidity:
		v = r.Humidity
	case MetricSoilMoisture:
		v = r.SoilMoisture
	case MetricLux:
		v = r.Lux
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Relay returns the reported state of ch, RelayUnknown if not reported
func (r *Reading) Relay(ch Channel) RelayState {
	switch ch {
	case ChannelFan:
		return r.RelayFan
	case ChannelPump:
		return r.RelayPump
	case ChannelLight:
		return r.RelayLight
	}
	return RelayUnknown
}

// IsValidMetric reports whether name is one of AlertMetrics
func IsValidMetric(name string) bool {
	for _, m := range AlertMetrics {
		if m == name {
			return true
		}
	}
	return false
}

// ReadingQuery filters reading lists and exports
type ReadingQuery struct {
	DeviceIDs []string
	From      *time.Time
	To        *time.Time
	Limit     int
}
