// Package processor runs inbound device messages through the core: decode,
// resolve, persist, update the state store, fan out, automate, alert.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	automation "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Automation"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	metrics "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Metrics"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
	telemetry "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Telemetry"
)

// Result is the outcome of one inbound message. It feeds logs and metrics
// only; nothing is reported back to the device.
type Result string

const (
	Processed    Result = Result(metrics.ResultProcessed)
	DecodeError  Result = Result(metrics.ResultDecodeError)
	Unmapped     Result = Result(metrics.ResultUnmapped)
	PersistError Result = Result(metrics.ResultPersistError)
	StoreError   Result = Result(metrics.ResultStoreError)
)

const alertTimeout = 30 * time.Second

// EventPublisher receives live events
type EventPublisher interface {
	Publish(ev sfmmodels.Event)
}

// AlertChecker evaluates alert rules for a stored reading
type AlertChecker interface {
	Check(ctx context.Context, dev *sfmmodels.Device, r *sfmmodels.Reading, now time.Time)
}

type Processor struct {
	devices  interfaces.DeviceRepository
	readings interfaces.ReadingRepository
	commands interfaces.CommandRepository
	logs     interfaces.SystemLogRepository
	events   EventPublisher
	engine   *automation.Engine
	alerts   AlertChecker
	locks    *KeyedMutex
	now      func() time.Time
	logger   *logger.Logger

	autoProvisionOwner string
	wg                 sync.WaitGroup
}

type Options struct {
	Devices  interfaces.DeviceRepository
	Readings interfaces.ReadingRepository
	Commands interfaces.CommandRepository
	Logs     interfaces.SystemLogRepository
	Events   EventPublisher
	Engine   *automation.Engine
	Alerts   AlertChecker
	Locks    *KeyedMutex
	Now      func() time.Time

	// AutoProvisionOwnerID enables auto-provisioning of unknown devices
	AutoProvisionOwnerID string
}

func New(opts Options, log *logger.Logger) *Processor {
	if opts.Locks == nil {
		opts.Locks = NewKeyedMutex()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		devices:            opts.Devices,
		readings:           opts.Readings,
		commands:           opts.Commands,
		logs:               opts.Logs,
		events:             opts.Events,
		engine:             opts.Engine,
		alerts:             opts.Alerts,
		locks:              opts.Locks,
		now:                opts.Now,
		logger:             log.WithComponent("processor"),
		autoProvisionOwner: opts.AutoProvisionOwnerID,
	}
}

// Locks exposes the per-device mutex so other writers share it
func (p *Processor) Locks() *KeyedMutex {
	return p.locks
}

// HandleTelemetry processes one telemetry payload from the device transport
func (p *Processor) HandleTelemetry(ctx context.Context, externalID string, payload []byte, arrivedAt time.Time) Result {
	log := p.logger.Logger.With().Str("external_id", externalID).Logger()

	reading, err := telemetry.Decode(externalID, payload, arrivedAt)
	if err != nil {
		log.Warn().Err(err).Msg("telemetry dropped: decode failed")
		return p.count(sfmmodels.InboundTelemetry, DecodeError)
	}

	dev, err := p.resolve(ctx, externalID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			log.Warn().Msg("telemetry ignored: no device mapped for external id")
			return p.count(sfmmodels.InboundTelemetry, Unmapped)
		}
		log.Error().Err(err).Msg("telemetry dropped: device lookup failed")
		return p.count(sfmmodels.InboundTelemetry, StoreError)
	}

	_, result := p.ingest(ctx, dev, reading)
	return p.count(sfmmodels.InboundTelemetry, result)
}

// HandleReading processes a reading that arrived over the authenticated
// HTTP path. The device is already resolved and authorized.
func (p *Processor) HandleReading(ctx context.Context, dev *sfmmodels.Device, reading sfmmodels.Reading) (*sfmmodels.Reading, error) {
	stored, result := p.ingest(ctx, dev, reading)
	p.count(sfmmodels.InboundTelemetry, result)
	if result == PersistError {
		return nil, fmt.Errorf("persist reading for device %s failed", dev.ID)
	}
	return stored, nil
}

func (p *Processor) ingest(ctx context.Context, dev *sfmmodels.Device, reading sfmmodels.Reading) (*sfmmodels.Reading, Result) {
	log := p.logger.Logger.With().Str("device_id", dev.ID).Str("external_id", dev.ExternalID).Logger()

	reading.DeviceID = dev.ID
	if reading.ExternalID == "" {
		reading.ExternalID = dev.ExternalID
	}
	if err := p.readings.Insert(ctx, &reading); err != nil {
		log.Error().Err(err).Msg("failed to persist reading")
		return nil, PersistError
	}

	now := p.now()
	result := Processed
	current := p.applyReading(ctx, dev.ID, &reading, now)
	if current == nil {
		result = StoreError
		current = dev
	}

	if p.alerts != nil {
		p.wg.Add(1)
		go func(dev *sfmmodels.Device, r sfmmodels.Reading) {
			defer p.wg.Done()
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
			defer cancel()
			p.alerts.Check(actx, dev, &r, now)
		}(current, reading)
	}

	log.Debug().Str("result", string(result)).Msg("reading processed")
	return &reading, result
}

// applyReading does the locked part of ingestion. Returns nil when the
// state store could not be updated.
func (p *Processor) applyReading(ctx context.Context, id string, reading *sfmmodels.Reading, now time.Time) *sfmmodels.Device {
	unlock := p.locks.Lock(id)
	defer unlock()

	log := p.logger.Logger.With().Str("device_id", id).Logger()

	prev, err := p.devices.Get(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("failed to re-read device")
		return nil
	}

	online := sfmmodels.StatusOnline
	update := sfmmodels.DeviceUpdate{Status: &online, LastSeenAt: &now}
	for _, ch := range sfmmodels.AutomationChannels {
		if st := reading.Relay(ch); st != sfmmodels.RelayUnknown {
			at := now
			update.SetChannel(ch, sfmmodels.ChannelUpdate{State: &st, ChangedAt: &at})
		}
	}

	dev, err := p.devices.UpdateFields(ctx, id, update)
	if err != nil {
		log.Error().Err(err).Msg("failed to update device state")
		return nil
	}

	if prev.Status != sfmmodels.StatusOnline {
		metrics.IncPresence(string(sfmmodels.StatusOnline))
		p.events.Publish(sfmmodels.NewStatusEvent(dev.ExternalID, sfmmodels.StatusOnline, now))
	}

	// relay states in the event reflect the automation decision for this reading
	dev = p.engine.Apply(ctx, dev, reading, now)
	p.events.Publish(sfmmodels.NewTelemetryEvent(dev, reading))
	return dev
}

// resolve finds the device for externalID, creating it when
// auto-provisioning is configured
func (p *Processor) resolve(ctx context.Context, externalID string) (*sfmmodels.Device, error) {
	dev, err := p.devices.GetByExternalID(ctx, externalID)
	if err == nil || !errors.Is(err, interfaces.ErrNotFound) || p.autoProvisionOwner == "" {
		return dev, err
	}

	dev, err = p.devices.Create(ctx, &sfmmodels.Device{
		Name:       externalID,
		ExternalID: externalID,
		OwnerID:    p.autoProvisionOwner,
		Status:     sfmmodels.StatusOffline,
	})
	if errors.Is(err, interfaces.ErrConflict) {
		// another message provisioned it first
		return p.devices.GetByExternalID(ctx, externalID)
	}
	if err != nil {
		p.logger.Logger.Warn().Err(err).Str("external_id", externalID).Msg("auto-provision failed")
		return nil, interfaces.ErrNotFound
	}

	p.logger.Logger.Info().Str("external_id", externalID).Str("device_id", dev.ID).Msg("auto-provisioned device")
	p.systemLog(ctx, sfmmodels.ActorDevice, "device.auto_provision", fmt.Sprintf("externalId=%s deviceId=%s", externalID, dev.ID))
	return dev, nil
}

// HandleStatus applies a device-reported status. Unknown devices are ignored.
func (p *Processor) HandleStatus(ctx context.Context, externalID string, payload []byte) Result {
	status := telemetry.ParseStatus(payload)
	log := p.logger.Logger.With().Str("external_id", externalID).Str("status", string(status)).Logger()

	dev, err := p.devices.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			log.Debug().Msg("status ignored: unknown device")
			return p.count(sfmmodels.InboundStatus, Unmapped)
		}
		log.Error().Err(err).Msg("status dropped: device lookup failed")
		return p.count(sfmmodels.InboundStatus, StoreError)
	}

	unlock := p.locks.Lock(dev.ID)
	defer unlock()

	if dev, err = p.devices.Get(ctx, dev.ID); err != nil {
		log.Error().Err(err).Msg("status dropped: device re-read failed")
		return p.count(sfmmodels.InboundStatus, StoreError)
	}

	now := p.now()
	update := sfmmodels.DeviceUpdate{Status: &status}
	if status == sfmmodels.StatusOnline {
		update.LastSeenAt = &now
	}
	updated, err := p.devices.UpdateFields(ctx, dev.ID, update)
	if err != nil {
		log.Error().Err(err).Msg("failed to store device status")
		return p.count(sfmmodels.InboundStatus, StoreError)
	}

	if dev.Status != status {
		metrics.IncPresence(string(status))
	}
	p.events.Publish(sfmmodels.NewStatusEvent(updated.ExternalID, status, now))
	log.Info().Msg("device status reported")
	return p.count(sfmmodels.InboundStatus, Processed)
}

// HandleAck records a command acknowledgement. Unknown command ids are ignored.
func (p *Processor) HandleAck(ctx context.Context, externalID string, payload []byte) Result {
	log := p.logger.Logger.With().Str("external_id", externalID).Logger()

	ack, err := telemetry.DecodeAck(payload)
	if err != nil {
		log.Warn().Err(err).Msg("ack dropped: decode failed")
		return p.count(sfmmodels.InboundAck, DecodeError)
	}

	status := ack.Status
	if status == "" {
		cmd, err := p.commands.GetByID(ctx, ack.ID)
		if err != nil {
			return p.ackFailed(log, ack.ID, err)
		}
		status = cmd.Status
	}

	if _, err := p.commands.UpdateStatus(ctx, ack.ID, status, ack.ExecutedAt); err != nil {
		return p.ackFailed(log, ack.ID, err)
	}
	log.Info().Str("command_id", ack.ID).Str("status", string(status)).Msg("command acknowledged")
	return p.count(sfmmodels.InboundAck, Processed)
}

func (p *Processor) ackFailed(log zerolog.Logger, id string, err error) Result {
	if errors.Is(err, interfaces.ErrNotFound) {
		log.Debug().Str("command_id", id).Msg("ack ignored: unknown command")
		return p.count(sfmmodels.InboundAck, Unmapped)
	}
	log.Error().Err(err).Str("command_id", id).Msg("failed to store command ack")
	return p.count(sfmmodels.InboundAck, StoreError)
}

func (p *Processor) systemLog(ctx context.Context, actor sfmmodels.Actor, action, details string) {
	if p.logs == nil {
		return
	}
	if err := p.logs.Create(ctx, sfmmodels.NewSystemLog(actor, action, details, p.now())); err != nil {
		p.logger.Logger.Warn().Err(err).Str("action", action).Msg("failed to write system log")
	}
}

func (p *Processor) count(kind sfmmodels.InboundKind, r Result) Result {
	metrics.IncIngest(string(kind), string(r))
	return r
}

// Wait blocks until every in-flight alert check has finished
func (p *Processor) Wait() {
	p.wg.Wait()
}
