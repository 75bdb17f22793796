package controllers

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	implementation "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Implementation"
)

// ingestStub stores readings the way the core pipeline does
type ingestStub struct {
	readings *fakeReadings
	devices  []string
}

func (s *ingestStub) HandleReading(ctx context.Context, dev *sfmmodels.Device, r sfmmodels.Reading) (*sfmmodels.Reading, error) {
	r.DeviceID = dev.ID
	r.ExternalID = dev.ExternalID
	s.devices = append(s.devices, dev.ID)
	return &r, s.readings.Insert(ctx, &r)
}

func newSensorEnv(t *testing.T) (*testEnv, *fakeReadings, *ingestStub) {
	env := newEnv(t)
	devices := implementation.NewMemoryDeviceStore()
	devices.Put(&sfmmodels.Device{ID: "d1", OwnerID: "u1", ExternalID: "esp32-01"})
	devices.Put(&sfmmodels.Device{ID: "d2", OwnerID: "u2"})
	readings := &fakeReadings{}
	stub := &ingestStub{readings: readings}
	NewSensorController(devices, readings, stub, logger.NewNopLogger(), env.mw).RegisterRoutes(env.router)
	return env, readings, stub
}

func TestIngest(t *testing.T) {
	env, _, stub := newSensorEnv(t)
	token := env.userToken(t, "u1")

	w := env.do(http.MethodPost, "/api/sensors/ingest", token, `{"deviceId":"d1","temperature":24.5,"timestamp":"2026-06-01T08:00:00Z"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	r := decode[sfmmodels.Reading](t, w)
	assert.Equal(t, 24.5, *r.Temperature)
	assert.Nil(t, r.Humidity)
	assert.True(t, r.Timestamp.Equal(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)))

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/api/sensors/ingest", token, `{"deviceId":"d2","lux":3}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/sensors/ingest", token, `{"lux":3}`).Code)
	assert.Equal(t, []string{"d1"}, stub.devices)
}

func TestListReadings_ScopeAndLimit(t *testing.T) {
	env, readings, _ := newSensorEnv(t)
	readings.readings = []sfmmodels.Reading{{DeviceID: "d1"}, {DeviceID: "d2"}}

	w := env.do(http.MethodGet, "/api/sensors?limit=5000", env.userToken(t, "u1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]sfmmodels.Reading](t, w), 1)
	assert.Equal(t, []string{"d1"}, readings.lastQ.DeviceIDs)
	assert.Equal(t, 1000, readings.lastQ.Limit)

	env.do(http.MethodGet, "/api/sensors", env.adminToken(t), nil)
	assert.Nil(t, readings.lastQ.DeviceIDs)
	assert.Equal(t, 100, readings.lastQ.Limit)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/sensors?from=yesterday", env.adminToken(t), nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/sensors?deviceId=d2", env.userToken(t, "u1"), nil).Code)
}

func TestExportReadings_Workbook(t *testing.T) {
	env, readings, _ := newSensorEnv(t)
	temp := 21.25
	readings.readings = []sfmmodels.Reading{{DeviceID: "d1", ExternalID: "esp32-01", Temperature: &temp, RelayFan: sfmmodels.RelayOn, Timestamp: time.Now()}}

	w := env.do(http.MethodGet, "/api/sensors/export?deviceId=d1", env.userToken(t, "u1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue("readings", "D1")
	require.NoError(t, err)
	assert.Equal(t, "Temperature", header)
	v, err := f.GetCellValue("readings", "D2")
	require.NoError(t, err)
	assert.Equal(t, "21.25", v)
	humidity, err := f.GetCellValue("readings", "E2")
	require.NoError(t, err)
	assert.Empty(t, humidity)
	fan, _ := f.GetCellValue("readings", "I2")
	assert.Equal(t, "ON", fan)
}
