package interfaces

import (
	"context"
	"time"

	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

// CommandQuery filters command lists. Nil DeviceIDs means every device.
type CommandQuery struct {
	DeviceIDs []string
	Status    *sfmmodels.CommandStatus
}

type CommandRepository interface {
	Create(ctx context.Context, cmd *sfmmodels.Command) (*sfmmodels.Command, error)
	GetByID(ctx context.Context, id string) (*sfmmodels.Command, error)
	List(ctx context.Context, q CommandQuery) ([]*sfmmodels.Command, error)

	// Next returns the oldest pending or queued command of a device, ErrNotFound when none
	Next(ctx context.Context, deviceID string) (*sfmmodels.Command, error)

	UpdateStatus(ctx context.Context, id string, status sfmmodels.CommandStatus, executedAt *time.Time) (*sfmmodels.Command, error)
}
