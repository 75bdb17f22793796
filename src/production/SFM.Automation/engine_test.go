package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	publisher "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Publisher"
	implementation "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Implementation"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func fanDevice() *sfmmodels.Device {
	return &sfmmodels.Device{
		ID:                   "dev-1",
		ExternalID:           "esp32-01",
		Status:               sfmmodels.StatusOnline,
		Fan:                  sfmmodels.ChannelConfig{Enabled: true, Threshold: f(30), Hysteresis: f(2)},
		MinToggleIntervalSec: 60,
	}
}

func tempReading(v float64) *sfmmodels.Reading {
	return &sfmmodels.Reading{ExternalID: "esp32-01", Temperature: f(v)}
}

func newTestEngine(dev *sfmmodels.Device) (*Engine, *implementation.MemoryDeviceStore, *publisher.FakePublisher) {
	store := implementation.NewMemoryDeviceStore()
	store.Put(dev)
	pub := publisher.NewFakePublisher()
	return NewEngine(store, pub, logger.NewNopLogger()), store, pub
}

func TestApply_FanCycle(t *testing.T) {
	engine, store, pub := newTestEngine(fanDevice())
	ctx := context.Background()

	dev, err := store.Get(ctx, "dev-1")
	require.NoError(t, err)

	dev = engine.Apply(ctx, dev, tempReading(33), t0)
	assert.Equal(t, sfmmodels.RelayOn, dev.FanState.LastState)
	require.NotNil(t, dev.FanState.LastToggleAt)
	assert.True(t, t0.Equal(*dev.FanState.LastToggleAt))

	// still hot, already on
	dev = engine.Apply(ctx, dev, tempReading(33), t0.Add(10*time.Second))
	// cooled down but inside the min interval
	dev = engine.Apply(ctx, dev, tempReading(27), t0.Add(10*time.Second))
	assert.Equal(t, sfmmodels.RelayOn, dev.FanState.LastState)

	dev = engine.Apply(ctx, dev, tempReading(27), t0.Add(70*time.Second))
	assert.Equal(t, sfmmodels.RelayOff, dev.FanState.LastState)
	assert.True(t, t0.Add(70*time.Second).Equal(*dev.FanState.LastToggleAt))

	assert.Equal(t, []publisher.Command{
		{ExternalID: "esp32-01", Channel: sfmmodels.ChannelFan, Action: sfmmodels.RelayOn},
		{ExternalID: "esp32-01", Channel: sfmmodels.ChannelFan, Action: sfmmodels.RelayOff},
	}, pub.Commands())

	stored, err := store.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, sfmmodels.RelayOff, stored.FanState.LastState)
}

func TestEvaluate_DeadBand(t *testing.T) {
	dev := fanDevice()
	for _, v := range []float64{28.5, 30, 31.9} {
		assert.Empty(t, Evaluate(dev, tempReading(v), t0), "value %v", v)
	}

	dev.FanState.LastState = sfmmodels.RelayOn
	for _, v := range []float64{28.1, 30, 35} {
		assert.Empty(t, Evaluate(dev, tempReading(v), t0), "value %v", v)
	}
}

func TestEvaluate_BoundariesAreInclusive(t *testing.T) {
	dev := fanDevice()
	tr := Evaluate(dev, tempReading(32), t0)
	require.Len(t, tr, 1)
	assert.Equal(t, Transition{Channel: sfmmodels.ChannelFan, From: sfmmodels.RelayUnknown, To: sfmmodels.RelayOn, Value: 32}, tr[0])

	dev.FanState.LastState = sfmmodels.RelayOn
	tr = Evaluate(dev, tempReading(28), t0)
	require.Len(t, tr, 1)
	assert.Equal(t, sfmmodels.RelayOff, tr[0].To)
}

func TestEvaluate_UnknownStateTreatedAsOff(t *testing.T) {
	dev := fanDevice()
	assert.Empty(t, Evaluate(dev, tempReading(20), t0))
}

func TestEvaluate_ZeroHysteresis(t *testing.T) {
	dev := fanDevice()
	dev.Fan.Hysteresis = nil
	tr := Evaluate(dev, tempReading(30), t0)
	require.Len(t, tr, 1)
	assert.Equal(t, sfmmodels.RelayOn, tr[0].To)
}

func TestEvaluate_InvertedChannels(t *testing.T) {
	dev := &sfmmodels.Device{
		ID:    "dev-2",
		Pump:  sfmmodels.ChannelConfig{Enabled: true, Threshold: f(40), Hysteresis: f(5)},
		Light: sfmmodels.ChannelConfig{Enabled: true, Threshold: f(200)},
	}

	tr := Evaluate(dev, &sfmmodels.Reading{SoilMoisture: f(35), Lux: f(150)}, t0)
	require.Len(t, tr, 2)
	assert.Equal(t, sfmmodels.ChannelPump, tr[0].Channel)
	assert.Equal(t, sfmmodels.RelayOn, tr[0].To)
	assert.Equal(t, sfmmodels.ChannelLight, tr[1].Channel)
	assert.Equal(t, sfmmodels.RelayOn, tr[1].To)

	dev.PumpState.LastState = sfmmodels.RelayOn
	dev.LightState.LastState = sfmmodels.RelayOn
	tr = Evaluate(dev, &sfmmodels.Reading{SoilMoisture: f(45), Lux: f(199)}, t0)
	require.Len(t, tr, 1)
	assert.Equal(t, sfmmodels.ChannelPump, tr[0].Channel)
	assert.Equal(t, sfmmodels.RelayOff, tr[0].To)
}

func TestEvaluate_SkipRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *sfmmodels.Device)
		r      *sfmmodels.Reading
	}{
		{"disabled", func(d *sfmmodels.Device) { d.Fan.Enabled = false }, tempReading(40)},
		{"no threshold", func(d *sfmmodels.Device) { d.Fan.Threshold = nil }, tempReading(40)},
		{"no measurement", func(d *sfmmodels.Device) {}, &sfmmodels.Reading{Humidity: f(90)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := fanDevice()
			tt.mutate(dev)
			assert.Empty(t, Evaluate(dev, tt.r, t0))
		})
	}
}

func TestEvaluate_ZeroIntervalAllowsImmediateToggle(t *testing.T) {
	dev := fanDevice()
	dev.MinToggleIntervalSec = 0
	at := t0
	dev.FanState = sfmmodels.ChannelState{LastState: sfmmodels.RelayOn, LastToggleAt: &at}

	tr := Evaluate(dev, tempReading(20), t0)
	require.Len(t, tr, 1)
	assert.Equal(t, sfmmodels.RelayOff, tr[0].To)
}

func TestApply_DuplicateReadingTogglesOnce(t *testing.T) {
	dev := fanDevice()
	dev.MinToggleIntervalSec = 0
	engine, store, pub := newTestEngine(dev)
	ctx := context.Background()

	current, _ := store.Get(ctx, "dev-1")
	current = engine.Apply(ctx, current, tempReading(35), t0)
	engine.Apply(ctx, current, tempReading(35), t0)

	assert.Len(t, pub.Commands(), 1)
	assert.Equal(t, 1, store.Updates)
}

func TestApply_PublishFailureStillCommits(t *testing.T) {
	engine, store, pub := newTestEngine(fanDevice())
	pub.SetError(errors.New("broker down"))
	ctx := context.Background()

	current, _ := store.Get(ctx, "dev-1")
	updated := engine.Apply(ctx, current, tempReading(35), t0)

	assert.Equal(t, 1, pub.Attempts)
	assert.Empty(t, pub.Commands())
	assert.Equal(t, sfmmodels.RelayOn, updated.FanState.LastState)

	stored, _ := store.Get(ctx, "dev-1")
	assert.Equal(t, sfmmodels.RelayOn, stored.FanState.LastState)
}

func TestApply_StoreFailureKeepsRecord(t *testing.T) {
	engine, store, pub := newTestEngine(fanDevice())
	store.UpdateErr = errors.New("db down")
	ctx := context.Background()

	current := fanDevice()
	updated := engine.Apply(ctx, current, tempReading(35), t0)

	assert.Len(t, pub.Commands(), 1)
	assert.Same(t, current, updated)
	assert.Equal(t, sfmmodels.RelayUnknown, updated.FanState.LastState)
}

func TestApply_UsesInternalIDWhenUnbound(t *testing.T) {
	dev := fanDevice()
	dev.ExternalID = ""
	engine, store, pub := newTestEngine(dev)
	ctx := context.Background()

	current, _ := store.Get(ctx, "dev-1")
	engine.Apply(ctx, current, tempReading(35), t0)

	require.Len(t, pub.Commands(), 1)
	assert.Equal(t, "dev-1", pub.Commands()[0].ExternalID)
}
