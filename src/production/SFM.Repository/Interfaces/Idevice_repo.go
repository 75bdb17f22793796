package interfaces

import (
	"context"

	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

// DeviceStateStore is the read-modify-write contract the core runs against.
// UpdateFields applies a partial merge and returns the record as written.
type DeviceStateStore interface {
	Get(ctx context.Context, id string) (*sfmmodels.Device, error)
	GetByExternalID(ctx context.Context, externalID string) (*sfmmodels.Device, error)
	UpdateFields(ctx context.Context, id string, update sfmmodels.DeviceUpdate) (*sfmmodels.Device, error)
	ListByStatus(ctx context.Context, status sfmmodels.DeviceStatus) ([]*sfmmodels.Device, error)
}

type DeviceRepository interface {
	DeviceStateStore

	// Create device. Returns ErrConflict when the external id is already bound.
	Create(ctx context.Context, device *sfmmodels.Device) (*sfmmodels.Device, error)

	// List devices, all of them when ownerID is empty
	List(ctx context.Context, ownerID string) ([]*sfmmodels.Device, error)

	// Delete device together with its commands, schedules, alert rules and alerts
	Delete(ctx context.Context, id string) error
}
