package interfaces

import (
	"context"

	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

// ReadingRepository is the time-series store of normalized readings
type ReadingRepository interface {
	Insert(ctx context.Context, r *sfmmodels.Reading) error
	// List returns readings newest first
	List(ctx context.Context, q sfmmodels.ReadingQuery) ([]sfmmodels.Reading, error)
	DeleteByDevice(ctx context.Context, deviceID string) error
}

// ReadingMirror receives a copy of every stored reading. Mirror failures never fail ingestion.
type ReadingMirror interface {
	Write(ctx context.Context, r *sfmmodels.Reading) error
	Close()
}
