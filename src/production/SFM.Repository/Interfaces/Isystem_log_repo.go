package interfaces

import (
	"context"

	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

type SystemLogRepository interface {
	Create(ctx context.Context, entry *sfmmodels.SystemLog) error
	// ListRecent returns up to limit entries, newest first
	ListRecent(ctx context.Context, limit int) ([]*sfmmodels.SystemLog, error)
}
