package sfmmodels

import (
	"strings"
	"time"
)

// Channel is one controllable actuator category on a device
type Channel string

const (
	ChannelFan   Channel = "fan"
	ChannelPump  Channel = "pump"
	ChannelLight Channel = "light"
	// ChannelMain addresses the device's base control topic. Commands and
	// schedules may target it; automation never does.
	ChannelMain Channel = "main"
)

// AutomationChannels lists the channels the automation engine evaluates, in evaluation order
var AutomationChannels = []Channel{ChannelFan, ChannelPump, ChannelLight}

// ParseChannel accepts fan, pump, light and main (case-insensitive)
func ParseChannel(s string) (Channel, bool) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelFan:
		return ChannelFan, true
	case ChannelPump:
		return ChannelPump, true
	case ChannelLight:
		return ChannelLight, true
	case ChannelMain:
		return ChannelMain, true
	}
	return "", false
}

// RelayState is the last known actuator state. The zero value means unknown.
type RelayState string

const (
	RelayUnknown RelayState = ""
	RelayOn      RelayState = "ON"
	RelayOff     RelayState = "OFF"
)

// ParseAction accepts ON and OFF only
func ParseAction(s string) (RelayState, bool) {
	switch RelayState(s) {
	case RelayOn:
		return RelayOn, true
	case RelayOff:
		return RelayOff, true
	}
	return RelayUnknown, false
}

// RelayFromBool maps a reported relay boolean onto a state
func RelayFromBool(on bool) RelayState {
	if on {
		return RelayOn
	}
	return RelayOff
}

// DeviceStatus is the presence state of a device
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// ChannelConfig is the per-channel automation configuration. A nil Threshold
// disables the channel regardless of Enabled; a nil Hysteresis counts as 0.
type ChannelConfig struct {
	Enabled    bool     `json:"enabled"`
	Threshold  *float64 `json:"threshold"`
	Hysteresis *float64 `json:"hysteresis"`
}

// HysteresisOrZero returns the configured band half-width, 0 when unset
func (c ChannelConfig) HysteresisOrZero() float64 {
	if c.Hysteresis == nil || *c.Hysteresis < 0 {
		return 0
	}
	return *c.Hysteresis
}

// ChannelState is the per-channel runtime state
type ChannelState struct {
	LastState    RelayState `json:"lastState,omitempty"`
	LastToggleAt *time.Time `json:"lastToggleAt,omitempty"`
}

// Device is the automation record of one physical device
type Device struct {
	ID              string       `json:"id"`
	ExternalID      string       `json:"externalId,omitempty"`
	Name            string       `json:"name"`
	Location        string       `json:"location"`
	FirmwareVersion string       `json:"firmwareVersion"`
	OwnerID         string       `json:"ownerId"`
	Status          DeviceStatus `json:"status"`
	LastSeenAt      *time.Time   `json:"lastSeenAt,omitempty"`

	Fan   ChannelConfig `json:"fan"`
	Pump  ChannelConfig `json:"pump"`
	Light ChannelConfig `json:"light"`

	// Shared by all channels
	MinToggleIntervalSec float64 `json:"minToggleIntervalSec"`

	FanState   ChannelState `json:"fanState"`
	PumpState  ChannelState `json:"pumpState"`
	LightState ChannelState `json:"lightState"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Config returns the automation configuration of ch
func (d *Device) Config(ch Channel) ChannelConfig {
	switch ch {
	case ChannelFan:
		return d.Fan
	case ChannelPump:
		return d.Pump
	case ChannelLight:
		return d.Light
	}
	return ChannelConfig{}
}

// State returns the runtime state of ch
func (d *Device) State(ch Channel) ChannelState {
	switch ch {
	case ChannelFan:
		return d.FanState
	case ChannelPump:
		return d.PumpState
	case ChannelLight:
		return d.LightState
	}
	return ChannelState{}
}

// MinToggleInterval converts the shared debounce interval to a duration
func (d *Device) MinToggleInterval() time.Duration {
	if d.MinToggleIntervalSec <= 0 {
		return 0
	}
	return time.Duration(d.MinToggleIntervalSec * float64(time.Second))
}

// TopicID is the identity used on control topics: the external id when bound, otherwise the record id
func (d *Device) TopicID() string {
	if d.ExternalID != "" {
		return d.ExternalID
	}
	return d.ID
}

// ChannelUpdate is a partial update of one channel's config and state
type ChannelUpdate struct {
	Enabled        *bool
	Threshold      *float64
	ClearThreshold bool
	Hysteresis     *float64

	// State sets lastState. ChangedAt is written to lastToggleAt only when
	// State differs from the stored state, so the toggle timestamp moves iff
	// the state moves.
	State     *RelayState
	ChangedAt *time.Time
}

func (u ChannelUpdate) empty() bool {
	return u.Enabled == nil && u.Threshold == nil && !u.ClearThreshold && u.Hysteresis == nil && u.State == nil
}

// DeviceUpdate is a partial-field merge against a device record. Nil fields are left untouched.
type DeviceUpdate struct {
	Name                 *string
	Location             *string
	FirmwareVersion      *string
	ExternalID           *string
	Status               *DeviceStatus
	LastSeenAt           *time.Time
	MinToggleIntervalSec *float64
	Channels             map[Channel]ChannelUpdate
}

// IsEmpty reports whether the update touches no field
func (u DeviceUpdate) IsEmpty() bool {
	if u.Name != nil || u.Location != nil || u.FirmwareVersion != nil || u.ExternalID != nil ||
		u.Status != nil || u.LastSeenAt != nil || u.MinToggleIntervalSec != nil {
		return false
	}
	for _, cu := range u.Channels {
		if !cu.empty() {
			return false
		}
	}
	return true
}

// SetChannel merges cu into the update for ch
func (u *DeviceUpdate) SetChannel(ch Channel, cu ChannelUpdate) {
	if u.Channels == nil {
		u.Channels = make(map[Channel]ChannelUpdate)
	}
	u.Channels[ch] = cu
}
