package interfaces

import (
	"context"
	"time"

	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *sfmmodels.Schedule) (*sfmmodels.Schedule, error)
	GetByID(ctx context.Context, id string) (*sfmmodels.Schedule, error)

	// List schedules of the given devices, all of them when deviceIDs is nil
	List(ctx context.Context, deviceIDs []string) ([]*sfmmodels.Schedule, error)
	ListActive(ctx context.Context) ([]*sfmmodels.Schedule, error)

	Update(ctx context.Context, id string, update sfmmodels.ScheduleUpdate) (*sfmmodels.Schedule, error)
	MarkRun(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}
