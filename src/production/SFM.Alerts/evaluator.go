// Package alerts evaluates alert rules against stored readings and
// notifies device owners.
package alerts

import (
	"context"
	"time"

	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	metrics "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Metrics"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

// Notifier delivers a fired alert to a person
type Notifier interface {
	Enabled() bool
	SendAlert(to, deviceName, message string, alertType sfmmodels.AlertType) error
}

type Evaluator struct {
	rules    interfaces.AlertRuleRepository
	alerts   interfaces.AlertRepository
	users    interfaces.UserRepository
	notifier Notifier
	logger   *logger.Logger
}

func NewEvaluator(rules interfaces.AlertRuleRepository, alerts interfaces.AlertRepository, users interfaces.UserRepository, notifier Notifier, log *logger.Logger) *Evaluator {
	return &Evaluator{
		rules:    rules,
		alerts:   alerts,
		users:    users,
		notifier: notifier,
		logger:   log.WithComponent("alerts"),
	}
}

// Check fires every enabled rule of dev that r breaches and that is not
// cooling down. Errors are logged per rule.
func (e *Evaluator) Check(ctx context.Context, dev *sfmmodels.Device, r *sfmmodels.Reading, now time.Time) {
	rules, err := e.rules.ListEnabledByDevice(ctx, dev.ID)
	if err != nil {
		e.logger.Logger.Error().Err(err).Str("device_id", dev.ID).Msg("failed to load alert rules")
		return
	}

	for _, rule := range rules {
		value, ok := r.Metric(rule.Metric)
		if !ok || !rule.Breached(value) || rule.CoolingDown(now) {
			continue
		}
		e.fire(ctx, dev, rule, value, now)
	}
}

func (e *Evaluator) fire(ctx context.Context, dev *sfmmodels.Device, rule *sfmmodels.AlertRule, value float64, now time.Time) {
	log := e.logger.Logger.With().Str("device_id", dev.ID).Str("rule_id", rule.ID).Str("metric", rule.Metric).Logger()

	message := rule.Message(value)
	alert, err := e.alerts.Create(ctx, &sfmmodels.Alert{
		DeviceID:  dev.ID,
		Type:      sfmmodels.AlertWarning,
		Message:   message,
		Timestamp: now,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to store alert")
		return
	}
	if err := e.rules.MarkAlerted(ctx, rule.ID, now); err != nil {
		log.Error().Err(err).Msg("failed to stamp alert rule")
	}
	metrics.IncAlert(rule.Metric)
	log.Info().Str("alert_id", alert.ID).Float64("value", value).Msg("alert fired")

	if !rule.NotificationType.Emails() || e.notifier == nil || !e.notifier.Enabled() {
		return
	}
	owner, err := e.users.GetByID(ctx, dev.OwnerID)
	if err != nil {
		log.Warn().Err(err).Str("owner_id", dev.OwnerID).Msg("alert email skipped: owner lookup failed")
		return
	}
	if owner.Email == "" {
		return
	}
	if err := e.notifier.SendAlert(owner.Email, dev.Name, message, alert.Type); err != nil {
		log.Error().Err(err).Msg("alert email failed")
	}
}
