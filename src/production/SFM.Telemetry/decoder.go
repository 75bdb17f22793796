// Package telemetry turns raw device payloads into normalized readings.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

// ErrMalformedPayload is returned when a payload is not a JSON object
var ErrMalformedPayload = errors.New("malformed telemetry payload")

// epochMillisCutoff separates epoch seconds from epoch milliseconds
const epochMillisCutoff = 1e12

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Decode parses a telemetry payload. Fields that are not finite JSON
// numbers are absent, never zero. Relay fields only count as booleans.
// A missing or unparseable timestamp falls back to arrivedAt.
func Decode(externalID string, payload []byte, arrivedAt time.Time) (sfmmodels.Reading, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return sfmmodels.Reading{}, fmt.Errorf("%w: %s", ErrMalformedPayload, externalID)
	}

	r := sfmmodels.Reading{
		ExternalID:  externalID,
		Temperature: number(fields["temperature"]),
		Humidity:    number(fields["humidity"]),
		Lux:         number(fields["lux"]),
		PH:          number(fields["pH"]),
		RelayFan:    relay(fields["relay_fan"]),
		RelayPump:   relay(fields["relay_pump"]),
		RelayLight:  relay(fields["relay_light"]),
		Timestamp:   arrivedAt,
	}

	// the firmware name wins over the dashboard name
	if soil := number(fields["soil_pct"]); soil != nil {
		r.SoilMoisture = soil
	} else {
		r.SoilMoisture = number(fields["soilMoisture"])
	}

	if ts, ok := ParseTimestamp(fields["timestamp"]); ok {
		r.Timestamp = ts
	}
	return r, nil
}

func number(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func relay(raw json.RawMessage) sfmmodels.RelayState {
	var v interface{}
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return sfmmodels.RelayUnknown
	}
	b, ok := v.(bool)
	if !ok {
		return sfmmodels.RelayUnknown
	}
	return sfmmodels.RelayFromBool(b)
}

// ParseTimestamp accepts an ISO-8601 string or an epoch number, seconds
// below 1e12 and milliseconds above.
func ParseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, false
	}

	switch ts := v.(type) {
	case float64:
		if math.IsNaN(ts) || math.IsInf(ts, 0) || ts <= 0 {
			return time.Time{}, false
		}
		if ts < epochMillisCutoff {
			sec, frac := math.Modf(ts)
			return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
		}
		return time.UnixMilli(int64(ts)).UTC(), true
	case string:
		s := strings.TrimSpace(ts)
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// ParseStatus maps a free-text status payload: any case-insensitive
// occurrence of "online" means online, everything else offline.
func ParseStatus(payload []byte) sfmmodels.DeviceStatus {
	if strings.Contains(strings.ToLower(string(payload)), "online") {
		return sfmmodels.StatusOnline
	}
	return sfmmodels.StatusOffline
}

// DecodeAck parses a command acknowledgement. The id is required; an
// unknown status is dropped rather than failing the ack.
func DecodeAck(payload []byte) (sfmmodels.CommandAck, error) {
	var raw struct {
		ID         string          `json:"id"`
		Status     string          `json:"status"`
		ExecutedAt json.RawMessage `json:"executedAt"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return sfmmodels.CommandAck{}, fmt.Errorf("%w: ack: %v", ErrMalformedPayload, err)
	}
	if raw.ID == "" {
		return sfmmodels.CommandAck{}, fmt.Errorf("%w: ack without id", ErrMalformedPayload)
	}

	ack := sfmmodels.CommandAck{ID: raw.ID}
	if status, ok := sfmmodels.ParseCommandStatus(raw.Status); ok {
		ack.Status = status
	}
	if ts, ok := ParseTimestamp(raw.ExecutedAt); ok {
		ack.ExecutedAt = &ts
	}
	return ack, nil
}
