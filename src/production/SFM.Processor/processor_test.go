package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	automation "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Automation"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	publisher "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Publisher"
	implementation "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeReadings struct {
	mu     sync.Mutex
	stored []sfmmodels.Reading
	err    error
}

func (f *fakeReadings) Insert(_ context.Context, r *sfmmodels.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, *r)
	return nil
}

func (f *fakeReadings) List(context.Context, sfmmodels.ReadingQuery) ([]sfmmodels.Reading, error) {
	return f.stored, nil
}

func (f *fakeReadings) DeleteByDevice(context.Context, string) error { return nil }

type fakeCommands struct {
	interfaces.CommandRepository
	commands map[string]*sfmmodels.Command
}

func (f *fakeCommands) GetByID(_ context.Context, id string) (*sfmmodels.Command, error) {
	c, ok := f.commands[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return c, nil
}

func (f *fakeCommands) UpdateStatus(_ context.Context, id string, status sfmmodels.CommandStatus, executedAt *time.Time) (*sfmmodels.Command, error) {
	c, ok := f.commands[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	c.Status = status
	if executedAt != nil {
		c.ExecutedAt = executedAt
	}
	return c, nil
}

type fakeLogs struct {
	entries []*sfmmodels.SystemLog
}

func (f *fakeLogs) Create(_ context.Context, e *sfmmodels.SystemLog) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeLogs) ListRecent(context.Context, int) ([]*sfmmodels.SystemLog, error) {
	return f.entries, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []sfmmodels.Event
}

func (r *recordedEvents) Publish(ev sfmmodels.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordedEvents) types() []sfmmodels.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sfmmodels.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordedAlerts struct {
	mu     sync.Mutex
	checks []sfmmodels.Reading
}

func (r *recordedAlerts) Check(_ context.Context, _ *sfmmodels.Device, reading *sfmmodels.Reading, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, *reading)
}

type harness struct {
	proc     *Processor
	devices  *implementation.MemoryDeviceStore
	readings *fakeReadings
	commands *fakeCommands
	logs     *fakeLogs
	events   *recordedEvents
	alerts   *recordedAlerts
	pub      *publisher.FakePublisher
	now      time.Time
}

func newHarness(autoProvisionOwner string) *harness {
	h := &harness{
		devices:  implementation.NewMemoryDeviceStore(),
		readings: &fakeReadings{},
		commands: &fakeCommands{commands: map[string]*sfmmodels.Command{}},
		logs:     &fakeLogs{},
		events:   &recordedEvents{},
		alerts:   &recordedAlerts{},
		pub:      publisher.NewFakePublisher(),
		now:      t0,
	}
	log := logger.NewNopLogger()
	h.proc = New(Options{
		Devices:              h.devices,
		Readings:             h.readings,
		Commands:             h.commands,
		Logs:                 h.logs,
		Events:               h.events,
		Engine:               automation.NewEngine(h.devices, h.pub, log),
		Alerts:               h.alerts,
		Now:                  func() time.Time { return h.now },
		AutoProvisionOwnerID: autoProvisionOwner,
	}, log)
	return h
}

func threshold(v float64) *float64 { return &v }

func TestHandleTelemetry_OfflineDeviceComesOnlineAndAutomates(t *testing.T) {
	h := newHarness("")
	h.devices.Put(&sfmmodels.Device{
		ID:         "dev-1",
		ExternalID: "esp32-01",
		Status:     sfmmodels.StatusOffline,
		Fan:        sfmmodels.ChannelConfig{Enabled: true, Threshold: threshold(30), Hysteresis: threshold(2)},
	})

	res := h.proc.HandleTelemetry(context.Background(), "esp32-01", []byte(`{"temperature": 33, "humidity": 50}`), t0)
	h.proc.Wait()
	require.Equal(t, Processed, res)

	dev, err := h.devices.Get(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, sfmmodels.StatusOnline, dev.Status)
	require.NotNil(t, dev.LastSeenAt)
	assert.True(t, t0.Equal(*dev.LastSeenAt))
	assert.Equal(t, sfmmodels.RelayOn, dev.FanState.LastState)

	require.Len(t, h.readings.stored, 1)
	assert.Equal(t, "dev-1", h.readings.stored[0].DeviceID)
	assert.Equal(t, []sfmmodels.EventType{sfmmodels.EventStatus, sfmmodels.EventTelemetry}, h.events.types())
	assert.Equal(t, []publisher.Command{{ExternalID: "esp32-01", Channel: sfmmodels.ChannelFan, Action: sfmmodels.RelayOn}}, h.pub.Commands())
	assert.Len(t, h.alerts.checks, 1)

	// subscribers see the state automation decided for this reading
	data := h.events.events[1].Data.(sfmmodels.TelemetryEvent)
	assert.Equal(t, sfmmodels.RelayOn, data.RelayFan)
	assert.Equal(t, sfmmodels.StatusOnline, data.Status)
}

func TestHandleTelemetry_ReportedRelayStatesStampToggleOnChange(t *testing.T) {
	h := newHarness("")
	earlier := t0.Add(-time.Hour)
	h.devices.Put(&sfmmodels.Device{
		ID:         "dev-1",
		ExternalID: "esp32-01",
		Status:     sfmmodels.StatusOnline,
		PumpState:  sfmmodels.ChannelState{LastState: sfmmodels.RelayOn, LastToggleAt: &earlier},
	})

	res := h.proc.HandleTelemetry(context.Background(), "esp32-01", []byte(`{"relay_fan": true, "relay_pump": true}`), t0)
	h.proc.Wait()
	require.Equal(t, Processed, res)

	dev, _ := h.devices.Get(context.Background(), "dev-1")
	assert.Equal(t, sfmmodels.RelayOn, dev.FanState.LastState)
	assert.True(t, t0.Equal(*dev.FanState.LastToggleAt))
	assert.True(t, earlier.Equal(*dev.PumpState.LastToggleAt))

	// already online: telemetry only
	assert.Equal(t, []sfmmodels.EventType{sfmmodels.EventTelemetry}, h.events.types())
	data := h.events.events[0].Data.(sfmmodels.TelemetryEvent)
	assert.Equal(t, sfmmodels.RelayOn, data.RelayFan)
	assert.Equal(t, sfmmodels.RelayOn, data.RelayPump)
}

func TestHandleTelemetry_DecodeFailureMutatesNothing(t *testing.T) {
	h := newHarness("")
	h.devices.Put(&sfmmodels.Device{ID: "dev-1", ExternalID: "esp32-01", Status: sfmmodels.StatusOffline})

	assert.Equal(t, DecodeError, h.proc.HandleTelemetry(context.Background(), "esp32-01", []byte(`{broken`), t0))
	assert.Empty(t, h.readings.stored)
	assert.Equal(t, 0, h.devices.Updates)
	assert.Empty(t, h.events.types())
}

func TestHandleTelemetry_UnmappedDevice(t *testing.T) {
	h := newHarness("")
	assert.Equal(t, Unmapped, h.proc.HandleTelemetry(context.Background(), "ghost", []byte(`{"temperature": 20}`), t0))
	assert.Empty(t, h.readings.stored)
}

func TestHandleTelemetry_AutoProvision(t *testing.T) {
	h := newHarness("owner-1")

	res := h.proc.HandleTelemetry(context.Background(), "esp32-new", []byte(`{"temperature": 20}`), t0)
	h.proc.Wait()
	require.Equal(t, Processed, res)

	dev, err := h.devices.GetByExternalID(context.Background(), "esp32-new")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", dev.OwnerID)
	assert.Equal(t, "esp32-new", dev.Name)
	assert.Equal(t, sfmmodels.StatusOnline, dev.Status)

	require.Len(t, h.logs.entries, 1)
	assert.Equal(t, sfmmodels.ActorDevice, h.logs.entries[0].Actor)
	assert.Equal(t, "device.auto_provision", h.logs.entries[0].Action)
}

func TestHandleTelemetry_PersistFailureDrops(t *testing.T) {
	h := newHarness("")
	h.devices.Put(&sfmmodels.Device{ID: "dev-1", ExternalID: "esp32-01", Status: sfmmodels.StatusOffline})
	h.readings.err = errors.New("mongo down")

	assert.Equal(t, PersistError, h.proc.HandleTelemetry(context.Background(), "esp32-01", []byte(`{"temperature": 20}`), t0))
	dev, _ := h.devices.Get(context.Background(), "dev-1")
	assert.Equal(t, sfmmodels.StatusOffline, dev.Status)
	assert.Empty(t, h.alerts.checks)
}

func TestHandleTelemetry_StoreFailureIsSwallowed(t *testing.T) {
	h := newHarness("")
	h.devices.Put(&sfmmodels.Device{ID: "dev-1", ExternalID: "esp32-01", Status: sfmmodels.StatusOffline})
	h.devices.UpdateErr = errors.New("postgres down")

	res := h.proc.HandleTelemetry(context.Background(), "esp32-01", []byte(`{"temperature": 20}`), t0)
	h.proc.Wait()
	assert.Equal(t, StoreError, res)
	assert.Len(t, h.readings.stored, 1)
	assert.Len(t, h.alerts.checks, 1)
	assert.Empty(t, h.events.types())
}

func TestHandleTelemetry_SameDeviceInOrder(t *testing.T) {
	h := newHarness("")
	h.devices.Put(&sfmmodels.Device{
		ID:         "dev-1",
		ExternalID: "esp32-01",
		Status:     sfmmodels.StatusOnline,
		Fan:        sfmmodels.ChannelConfig{Enabled: true, Threshold: threshold(30)},
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.proc.HandleTelemetry(context.Background(), "esp32-01", []byte(`{"temperature": 35}`), t0)
		}()
	}
	wg.Wait()
	h.proc.Wait()

	// serialized per device: the fan switches on exactly once
	assert.Len(t, h.pub.Commands(), 1)
	assert.Equal(t, 0, h.proc.Locks().Len())
}

func TestHandleReading(t *testing.T) {
	h := newHarness("")
	dev := &sfmmodels.Device{ID: "dev-1", ExternalID: "esp32-01", Status: sfmmodels.StatusOnline}
	h.devices.Put(dev)

	temp := 21.5
	stored, err := h.proc.HandleReading(context.Background(), dev, sfmmodels.Reading{Temperature: &temp, Timestamp: t0})
	h.proc.Wait()
	require.NoError(t, err)
	assert.Equal(t, "dev-1", stored.DeviceID)
	assert.Equal(t, "esp32-01", stored.ExternalID)

	h.readings.err = errors.New("mongo down")
	_, err = h.proc.HandleReading(context.Background(), dev, sfmmodels.Reading{Temperature: &temp, Timestamp: t0})
	assert.Error(t, err)
}

func TestHandleStatus(t *testing.T) {
	h := newHarness("")
	h.devices.Put(&sfmmodels.Device{ID: "dev-1", ExternalID: "esp32-01", Status: sfmmodels.StatusOffline})
	ctx := context.Background()

	assert.Equal(t, Processed, h.proc.HandleStatus(ctx, "esp32-01", []byte("ONLINE")))
	dev, _ := h.devices.Get(ctx, "dev-1")
	assert.Equal(t, sfmmodels.StatusOnline, dev.Status)
	assert.True(t, t0.Equal(*dev.LastSeenAt))

	h.now = t0.Add(time.Minute)
	assert.Equal(t, Processed, h.proc.HandleStatus(ctx, "esp32-01", []byte("going away")))
	dev, _ = h.devices.Get(ctx, "dev-1")
	assert.Equal(t, sfmmodels.StatusOffline, dev.Status)
	assert.True(t, t0.Equal(*dev.LastSeenAt))

	assert.Equal(t, []sfmmodels.EventType{sfmmodels.EventStatus, sfmmodels.EventStatus}, h.events.types())
	assert.Equal(t, Unmapped, h.proc.HandleStatus(ctx, "ghost", []byte("online")))
}

func TestHandleAck(t *testing.T) {
	h := newHarness("")
	h.commands.commands["cmd-1"] = &sfmmodels.Command{ID: "cmd-1", Status: sfmmodels.CommandPending}
	ctx := context.Background()

	res := h.proc.HandleAck(ctx, "esp32-01", []byte(`{"id":"cmd-1","status":"executed","executedAt":"2026-06-01T12:00:05Z"}`))
	assert.Equal(t, Processed, res)
	assert.Equal(t, sfmmodels.CommandExecuted, h.commands.commands["cmd-1"].Status)
	require.NotNil(t, h.commands.commands["cmd-1"].ExecutedAt)

	assert.Equal(t, Unmapped, h.proc.HandleAck(ctx, "esp32-01", []byte(`{"id":"cmd-404","status":"executed"}`)))
	assert.Equal(t, DecodeError, h.proc.HandleAck(ctx, "esp32-01", []byte(`{"status":"executed"}`)))

	// unknown status keeps the current one
	assert.Equal(t, Processed, h.proc.HandleAck(ctx, "esp32-01", []byte(`{"id":"cmd-1","status":"weird"}`)))
	assert.Equal(t, sfmmodels.CommandExecuted, h.commands.commands["cmd-1"].Status)
}
