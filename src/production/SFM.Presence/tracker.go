// Package presence marks devices offline when they stop reporting.
package presence

import (
	"context"
	"time"

	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	metrics "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Metrics"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

const (
	DefaultTimeout  = 90 * time.Second
	DefaultInterval = 30 * time.Second
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// DeviceLocker serializes mutations of one device record
type DeviceLocker interface {
	Lock(deviceID string) (unlock func())
}

// EventPublisher receives status events for live subscribers
type EventPublisher interface {
	Publish(ev sfmmodels.Event)
}

type Tracker struct {
	store    interfaces.DeviceStateStore
	events   EventPublisher
	locks    DeviceLocker
	clock    Clock
	timeout  time.Duration
	interval time.Duration
	logger   *logger.Logger
}

func NewTracker(store interfaces.DeviceStateStore, events EventPublisher, locks DeviceLocker, clock Clock, timeout, interval time.Duration, log *logger.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Tracker{
		store:    store,
		events:   events,
		locks:    locks,
		clock:    clock,
		timeout:  timeout,
		interval: interval,
		logger:   log.WithComponent("presence"),
	}
}

// Stale reports whether an online device has been silent for longer than
// the timeout. A device that never reported counts as stale.
func (t *Tracker) Stale(dev *sfmmodels.Device, now time.Time) bool {
	if dev.Status != sfmmodels.StatusOnline {
		return false
	}
	return dev.LastSeenAt == nil || now.Sub(*dev.LastSeenAt) > t.timeout
}

// Sweep marks every stale online device offline and returns how many were
// changed. Each candidate is re-read under its lock so a reading that
// arrived since the listing wins.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) int {
	online, err := t.store.ListByStatus(ctx, sfmmodels.StatusOnline)
	if err != nil {
		t.logger.Logger.Error().Err(err).Msg("failed to list online devices")
		return 0
	}

	changed := 0
	for _, candidate := range online {
		if ctx.Err() != nil {
			break
		}
		if !t.Stale(candidate, now) {
			continue
		}
		if t.markOffline(ctx, candidate.ID, now) {
			changed++
		}
	}
	if changed > 0 {
		t.logger.Logger.Info().Int("count", changed).Msg("devices marked offline")
	}
	return changed
}

func (t *Tracker) markOffline(ctx context.Context, id string, now time.Time) bool {
	unlock := t.locks.Lock(id)
	defer unlock()

	dev, err := t.store.Get(ctx, id)
	if err != nil {
		t.logger.Logger.Warn().Err(err).Str("device_id", id).Msg("presence re-read failed")
		return false
	}
	if !t.Stale(dev, now) {
		return false
	}

	offline := sfmmodels.StatusOffline
	updated, err := t.store.UpdateFields(ctx, id, sfmmodels.DeviceUpdate{Status: &offline})
	if err != nil {
		t.logger.Logger.Error().Err(err).Str("device_id", id).Msg("failed to mark device offline")
		return false
	}

	metrics.IncPresence(string(sfmmodels.StatusOffline))
	t.events.Publish(sfmmodels.NewStatusEvent(updated.ExternalID, sfmmodels.StatusOffline, now))
	t.logger.Logger.Info().Str("external_id", updated.ExternalID).Msg("device offline")
	return true
}

// Run sweeps on every interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Logger.Info().Dur("timeout", t.timeout).Dur("interval", t.interval).Msg("presence tracker started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(ctx, t.clock.Now())
		}
	}
}
