package interfaces

import (
	"context"
	"time"

	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

type AlertRuleRepository interface {
	// Create rule. Returns ErrConflict when the device already has a rule for the metric.
	Create(ctx context.Context, rule *sfmmodels.AlertRule) (*sfmmodels.AlertRule, error)
	GetByID(ctx context.Context, id string) (*sfmmodels.AlertRule, error)
	List(ctx context.Context, deviceIDs []string) ([]*sfmmodels.AlertRule, error)
	ListEnabledByDevice(ctx context.Context, deviceID string) ([]*sfmmodels.AlertRule, error)
	Update(ctx context.Context, id string, update sfmmodels.AlertRuleUpdate) (*sfmmodels.AlertRule, error)
	MarkAlerted(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type AlertRepository interface {
	Create(ctx context.Context, alert *sfmmodels.Alert) (*sfmmodels.Alert, error)
	GetByID(ctx context.Context, id string) (*sfmmodels.Alert, error)
	List(ctx context.Context, q sfmmodels.AlertQuery) ([]*sfmmodels.Alert, error)
	MarkRead(ctx context.Context, id string) (*sfmmodels.Alert, error)
}
