// Package automation decides actuator transitions from telemetry.
//
// Each channel is a two-state machine with a hysteresis dead band
// [T-H, T+H] and a shared minimum interval between toggles. The fan cools
// when hot, so readings above the band switch it on. The pump and the light
// compensate for dryness and darkness, so readings below the band switch
// them on. Transitions are edge-triggered: a channel already ON is never
// switched ON again.
package automation

import (
	"context"
	"time"

	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	metrics "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Metrics"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

// Transition is one decided channel change
type Transition struct {
	Channel sfmmodels.Channel
	From    sfmmodels.RelayState
	To      sfmmodels.RelayState
	Value   float64
}

// Publisher delivers control commands to devices
type Publisher interface {
	Publish(externalID string, channel sfmmodels.Channel, action sfmmodels.RelayState) error
}

// onWhenAbove reports the polarity of a channel
func onWhenAbove(ch sfmmodels.Channel) bool {
	return ch == sfmmodels.ChannelFan
}

// Evaluate returns the transitions warranted by r against the current record.
// It has no side effects.
func Evaluate(dev *sfmmodels.Device, r *sfmmodels.Reading, now time.Time) []Transition {
	var out []Transition
	for _, ch := range sfmmodels.AutomationChannels {
		if t, ok := evaluateChannel(ch, dev.Config(ch), dev.State(ch), r.Measurement(ch), dev.MinToggleInterval(), now); ok {
			out = append(out, t)
		}
	}
	return out
}

func evaluateChannel(ch sfmmodels.Channel, cfg sfmmodels.ChannelConfig, st sfmmodels.ChannelState, measurement *float64, minInterval time.Duration, now time.Time) (Transition, bool) {
	if !cfg.Enabled || cfg.Threshold == nil || measurement == nil {
		return Transition{}, false
	}

	v := *measurement
	upper := *cfg.Threshold + cfg.HysteresisOrZero()
	lower := *cfg.Threshold - cfg.HysteresisOrZero()
	isOn := st.LastState == sfmmodels.RelayOn

	var shouldOn, shouldOff bool
	if onWhenAbove(ch) {
		shouldOn = !isOn && v >= upper
		shouldOff = isOn && v <= lower
	} else {
		shouldOn = !isOn && v <= lower
		shouldOff = isOn && v >= upper
	}
	if !shouldOn && !shouldOff {
		return Transition{}, false
	}

	if st.LastToggleAt != nil && now.Sub(*st.LastToggleAt) < minInterval {
		return Transition{}, false
	}

	to := sfmmodels.RelayOff
	if shouldOn {
		to = sfmmodels.RelayOn
	}
	return Transition{Channel: ch, From: st.LastState, To: to, Value: v}, true
}

// Engine applies transitions: publish, then commit to the state store.
// Publishing is fire-and-forget; a failed publish never rolls back the
// committed state.
type Engine struct {
	store     interfaces.DeviceStateStore
	publisher Publisher
	logger    *logger.Logger
}

func NewEngine(store interfaces.DeviceStateStore, publisher Publisher, log *logger.Logger) *Engine {
	return &Engine{
		store:     store,
		publisher: publisher,
		logger:    log.WithComponent("automation"),
	}
}

// Apply evaluates r against dev and carries out every transition. The
// caller must hold the device's mutation lock. Returns the latest record.
func (e *Engine) Apply(ctx context.Context, dev *sfmmodels.Device, r *sfmmodels.Reading, now time.Time) *sfmmodels.Device {
	for _, t := range Evaluate(dev, r, now) {
		log := e.logger.Logger.With().
			Str("external_id", dev.ExternalID).
			Str("channel", string(t.Channel)).
			Str("action", string(t.To)).
			Float64("value", t.Value).
			Logger()

		if err := e.publisher.Publish(dev.TopicID(), t.Channel, t.To); err != nil {
			metrics.IncPublishFailure("automation")
			log.Error().Err(err).Msg("control publish failed, committing state anyway")
		}

		to := t.To
		at := now
		var update sfmmodels.DeviceUpdate
		update.SetChannel(t.Channel, sfmmodels.ChannelUpdate{State: &to, ChangedAt: &at})

		updated, err := e.store.UpdateFields(ctx, dev.ID, update)
		if err != nil {
			log.Error().Err(err).Msg("failed to commit automation state")
			continue
		}
		dev = updated
		metrics.IncToggle(string(t.Channel), string(t.To))
		log.Info().Msg("automation toggled channel")
	}
	return dev
}
