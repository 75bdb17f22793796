package implementation

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

const readingMeasurement = "reading"

// InfluxReadingMirror copies readings into an InfluxDB bucket for dashboards
type InfluxReadingMirror struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func NewInfluxReadingMirror(url, token, org, bucket string) *InfluxReadingMirror {
	client := influxdb2.NewClient(url, token)
	return &InfluxReadingMirror{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

// readingPoint converts a reading, nil when it carries no measurement
func readingPoint(r *sfmmodels.Reading) *write.Point {
	fields := map[string]interface{}{}
	for name, v := range map[string]*float64{
		"temperature":  r.Temperature,
		"humidity":     r.Humidity,
		"soilMoisture": r.SoilMoisture,
		"lux":          r.Lux,
		"pH":           r.PH,
	} {
		if v != nil {
			fields[name] = *v
		}
	}
	if len(fields) == 0 {
		return nil
	}
	tags := map[string]string{
		"device_id":   r.DeviceID,
		"external_id": r.ExternalID,
	}
	return influxdb2.NewPoint(readingMeasurement, tags, fields, r.Timestamp)
}

func (m *InfluxReadingMirror) Write(ctx context.Context, r *sfmmodels.Reading) error {
	p := readingPoint(r)
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := m.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (m *InfluxReadingMirror) Close() {
	m.client.Close()
}

// MirroredReadingRepository stores readings in a primary repository and
// copies each one to a mirror. Only primary failures are returned.
type MirroredReadingRepository struct {
	interfaces.ReadingRepository
	mirror interfaces.ReadingMirror
	logger *logger.Logger
}

func NewMirroredReadingRepository(primary interfaces.ReadingRepository, mirror interfaces.ReadingMirror, log *logger.Logger) *MirroredReadingRepository {
	return &MirroredReadingRepository{
		ReadingRepository: primary,
		mirror:            mirror,
		logger:            log.WithComponent("reading-mirror"),
	}
}

func (r *MirroredReadingRepository) Insert(ctx context.Context, rd *sfmmodels.Reading) error {
	if err := r.ReadingRepository.Insert(ctx, rd); err != nil {
		return err
	}
	if err := r.mirror.Write(ctx, rd); err != nil {
		r.logger.Logger.Warn().Err(err).Str("external_id", rd.ExternalID).Msg("mirror write failed")
	}
	return nil
}
