package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	implementation "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Implementation"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type recordedEvents struct {
	mu     sync.Mutex
	events []sfmmodels.Event
}

func (r *recordedEvents) Publish(ev sfmmodels.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type countingLocker struct {
	mu    sync.Mutex
	locks map[string]int
}

func (c *countingLocker) Lock(id string) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks == nil {
		c.locks = make(map[string]int)
	}
	c.locks[id]++
	return func() {}
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func seen(ago time.Duration) *time.Time {
	t := now.Add(-ago)
	return &t
}

func newTestTracker(store *implementation.MemoryDeviceStore) (*Tracker, *recordedEvents, *countingLocker) {
	events := &recordedEvents{}
	locks := &countingLocker{}
	return NewTracker(store, events, locks, fixedClock{now}, 90*time.Second, 10*time.Millisecond, logger.NewNopLogger()), events, locks
}

func TestSweep_MarksOnlyStaleOnlineDevices(t *testing.T) {
	store := implementation.NewMemoryDeviceStore()
	store.Put(&sfmmodels.Device{ID: "fresh", ExternalID: "esp-fresh", Status: sfmmodels.StatusOnline, LastSeenAt: seen(30 * time.Second)})
	store.Put(&sfmmodels.Device{ID: "edge", ExternalID: "esp-edge", Status: sfmmodels.StatusOnline, LastSeenAt: seen(90 * time.Second)})
	store.Put(&sfmmodels.Device{ID: "stale", ExternalID: "esp-stale", Status: sfmmodels.StatusOnline, LastSeenAt: seen(91 * time.Second)})
	store.Put(&sfmmodels.Device{ID: "never", ExternalID: "esp-never", Status: sfmmodels.StatusOnline})
	store.Put(&sfmmodels.Device{ID: "off", ExternalID: "esp-off", Status: sfmmodels.StatusOffline, LastSeenAt: seen(time.Hour)})

	tracker, events, _ := newTestTracker(store)
	ctx := context.Background()

	assert.Equal(t, 2, tracker.Sweep(ctx, now))

	for id, want := range map[string]sfmmodels.DeviceStatus{
		"fresh": sfmmodels.StatusOnline,
		"edge":  sfmmodels.StatusOnline,
		"stale": sfmmodels.StatusOffline,
		"never": sfmmodels.StatusOffline,
		"off":   sfmmodels.StatusOffline,
	} {
		d, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, d.Status, id)
	}

	require.Len(t, events.events, 2)
	for _, ev := range events.events {
		assert.Equal(t, sfmmodels.EventStatus, ev.Type)
		assert.Contains(t, []string{"esp-stale", "esp-never"}, ev.ExternalID)
	}
}

func TestSweep_LevelTriggered(t *testing.T) {
	store := implementation.NewMemoryDeviceStore()
	store.Put(&sfmmodels.Device{ID: "stale", ExternalID: "esp-stale", Status: sfmmodels.StatusOnline, LastSeenAt: seen(5 * time.Minute)})
	tracker, events, _ := newTestTracker(store)

	assert.Equal(t, 1, tracker.Sweep(context.Background(), now))
	assert.Equal(t, 0, tracker.Sweep(context.Background(), now.Add(time.Minute)))
	assert.Len(t, events.events, 1)
}

// racingStore refreshes a device right after it was listed, the way a
// reading landing mid-sweep would.
type racingStore struct {
	*implementation.MemoryDeviceStore
}

func (r racingStore) ListByStatus(ctx context.Context, status sfmmodels.DeviceStatus) ([]*sfmmodels.Device, error) {
	out, err := r.MemoryDeviceStore.ListByStatus(ctx, status)
	ts := now
	_, _ = r.MemoryDeviceStore.UpdateFields(ctx, "dev-1", sfmmodels.DeviceUpdate{LastSeenAt: &ts})
	return out, err
}

func TestSweep_ReReadsUnderLock(t *testing.T) {
	mem := implementation.NewMemoryDeviceStore()
	mem.Put(&sfmmodels.Device{ID: "dev-1", ExternalID: "esp-1", Status: sfmmodels.StatusOnline, LastSeenAt: seen(5 * time.Minute)})

	events := &recordedEvents{}
	locks := &countingLocker{}
	tracker := NewTracker(racingStore{mem}, events, locks, fixedClock{now}, 90*time.Second, time.Second, logger.NewNopLogger())

	assert.Equal(t, 0, tracker.Sweep(context.Background(), now))
	assert.Equal(t, 1, locks.locks["dev-1"])
	assert.Empty(t, events.events)

	d, _ := mem.Get(context.Background(), "dev-1")
	assert.Equal(t, sfmmodels.StatusOnline, d.Status)
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	store := implementation.NewMemoryDeviceStore()
	store.Put(&sfmmodels.Device{ID: "stale", ExternalID: "esp-stale", Status: sfmmodels.StatusOnline})
	tracker, _, _ := newTestTracker(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		d, _ := store.Get(context.Background(), "stale")
		return d.Status == sfmmodels.StatusOffline
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
