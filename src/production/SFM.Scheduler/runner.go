// Package scheduler fires user schedules at their wall-clock minute.
package scheduler

import (
	"context"
	"fmt"
	"time"

	automation "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Automation"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	metrics "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Metrics"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

const DefaultInterval = 30 * time.Second

type Runner struct {
	schedules interfaces.ScheduleRepository
	devices   interfaces.DeviceStateStore
	publisher automation.Publisher
	logs      interfaces.SystemLogRepository
	location  *time.Location
	interval  time.Duration
	now       func() time.Time
	logger    *logger.Logger
}

func NewRunner(schedules interfaces.ScheduleRepository, devices interfaces.DeviceStateStore, publisher automation.Publisher, logs interfaces.SystemLogRepository, location *time.Location, interval time.Duration, log *logger.Logger) *Runner {
	if location == nil {
		location = time.Local
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		schedules: schedules,
		devices:   devices,
		publisher: publisher,
		logs:      logs,
		location:  location,
		interval:  interval,
		now:       time.Now,
		logger:    log.WithComponent("scheduler"),
	}
}

// Tick fires every active schedule due at now and returns how many ran.
// One failing schedule never stops the others.
func (r *Runner) Tick(ctx context.Context, now time.Time) int {
	active, err := r.schedules.ListActive(ctx)
	if err != nil {
		r.logger.Logger.Error().Err(err).Msg("failed to list active schedules")
		return 0
	}

	ran := 0
	for _, s := range active {
		if !s.Due(now, r.location) {
			continue
		}
		if err := r.fire(ctx, s, now); err != nil {
			metrics.IncScheduleRun("error")
			r.logger.Logger.Error().Err(err).Str("schedule_id", s.ID).Str("device_id", s.DeviceID).Msg("schedule run failed")
			continue
		}
		metrics.IncScheduleRun("ok")
		ran++
	}
	return ran
}

func (r *Runner) fire(ctx context.Context, s *sfmmodels.Schedule, now time.Time) error {
	dev, err := r.devices.Get(ctx, s.DeviceID)
	if err != nil {
		return fmt.Errorf("resolve device: %w", err)
	}

	target := s.Target
	if target == "" {
		target = sfmmodels.ChannelMain
	}
	action := s.Action
	if action == sfmmodels.RelayUnknown {
		action = sfmmodels.RelayOn
	}

	if err := r.publisher.Publish(dev.TopicID(), target, action); err != nil {
		// best-effort like automation; the minute is still consumed
		metrics.IncPublishFailure("scheduler")
		r.logger.Logger.Error().Err(err).Str("schedule_id", s.ID).Msg("schedule publish failed")
	}

	if err := r.schedules.MarkRun(ctx, s.ID, now); err != nil {
		return fmt.Errorf("mark run: %w", err)
	}

	r.logger.Logger.Info().
		Str("schedule_id", s.ID).
		Str("external_id", dev.ExternalID).
		Str("target", string(target)).
		Str("action", string(action)).
		Msg("schedule fired")

	if r.logs != nil {
		entry := sfmmodels.NewSystemLog(sfmmodels.ActorUser, "schedule.run",
			fmt.Sprintf("scheduleId=%s deviceId=%s target=%s action=%s", s.ID, dev.ID, target, action), now)
		if err := r.logs.Create(ctx, entry); err != nil {
			r.logger.Logger.Warn().Err(err).Msg("failed to write schedule system log")
		}
	}
	return nil
}

// Run ticks on the configured interval until ctx is cancelled
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Logger.Info().Dur("interval", r.interval).Str("location", r.location.String()).Msg("schedule runner started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx, r.now())
		}
	}
}
