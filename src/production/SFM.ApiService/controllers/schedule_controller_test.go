package controllers

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	implementation "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

type fakeSchedules struct {
	mu        sync.Mutex
	schedules map[string]*sfmmodels.Schedule
}

func (f *fakeSchedules) Create(_ context.Context, s *sfmmodels.Schedule) (*sfmmodels.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schedules == nil {
		f.schedules = make(map[string]*sfmmodels.Schedule)
	}
	c := *s
	c.ID = uuid.New().String()
	f.schedules[c.ID] = &c
	return &c, nil
}

func (f *fakeSchedules) GetByID(_ context.Context, id string) (*sfmmodels.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeSchedules) List(_ context.Context, deviceIDs []string) ([]*sfmmodels.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*sfmmodels.Schedule{}
	for _, s := range f.schedules {
		if deviceIDs == nil || contains(deviceIDs, s.DeviceID) {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeSchedules) ListActive(ctx context.Context) ([]*sfmmodels.Schedule, error) {
	return f.List(ctx, nil)
}

func (f *fakeSchedules) Update(_ context.Context, id string, u sfmmodels.ScheduleUpdate) (*sfmmodels.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if u.Action != nil {
		s.Action = *u.Action
	}
	if u.Active != nil {
		s.Active = *u.Active
	}
	c := *s
	return &c, nil
}

func (f *fakeSchedules) MarkRun(context.Context, string, time.Time) error { return nil }

func (f *fakeSchedules) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[id]; !ok {
		return interfaces.ErrNotFound
	}
	delete(f.schedules, id)
	return nil
}

func newScheduleEnv(t *testing.T) (*testEnv, *fakeSchedules) {
	env := newEnv(t)
	devices := implementation.NewMemoryDeviceStore()
	devices.Put(&sfmmodels.Device{ID: "d1", OwnerID: "u1"})
	devices.Put(&sfmmodels.Device{ID: "d2", OwnerID: "u2"})
	schedules := &fakeSchedules{}
	NewScheduleController(devices, schedules, env.mw).RegisterRoutes(env.router)
	return env, schedules
}

func TestCreateSchedule_Defaults(t *testing.T) {
	env, _ := newScheduleEnv(t)

	w := env.do(http.MethodPost, "/api/schedules", env.userToken(t, "u1"), `{"deviceId":"d1","action":"ON","time":"2026-06-01T06:30:00Z"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	s := decode[sfmmodels.Schedule](t, w)
	assert.Equal(t, sfmmodels.ChannelMain, s.Target)
	assert.Equal(t, sfmmodels.RepeatDaily, s.Repeat)
	assert.True(t, s.Active)
	assert.Equal(t, "u1", s.UserID)
}

func TestCreateSchedule_Rejections(t *testing.T) {
	env, _ := newScheduleEnv(t)
	token := env.userToken(t, "u1")

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/schedules", token, `{"deviceId":"d1","action":"BLINK","time":"2026-06-01T06:30:00Z"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/schedules", token, `{"deviceId":"d1","action":"ON","repeat":"hourly","time":"2026-06-01T06:30:00Z"}`).Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/api/schedules", token, `{"deviceId":"d2","action":"ON","time":"2026-06-01T06:30:00Z"}`).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/schedules", token, `{"deviceId":"nope","action":"ON","time":"2026-06-01T06:30:00Z"}`).Code)
}

func TestSchedules_OwnershipAndListing(t *testing.T) {
	env, _ := newScheduleEnv(t)
	u1, u2 := env.userToken(t, "u1"), env.userToken(t, "u2")

	created := decode[sfmmodels.Schedule](t, env.do(http.MethodPost, "/api/schedules", u1, `{"deviceId":"d1","action":"ON","time":"2026-06-01T06:30:00Z"}`))
	env.do(http.MethodPost, "/api/schedules", u2, `{"deviceId":"d2","action":"OFF","time":"2026-06-01T18:00:00Z"}`)

	assert.Len(t, decode[[]sfmmodels.Schedule](t, env.do(http.MethodGet, "/api/schedules", u1, nil)), 1)
	assert.Len(t, decode[[]sfmmodels.Schedule](t, env.do(http.MethodGet, "/api/schedules", env.adminToken(t), nil)), 2)

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPut, "/api/schedules/"+created.ID, u2, `{"active":false}`).Code)

	w := env.do(http.MethodPut, "/api/schedules/"+created.ID, u1, `{"active":false,"action":"OFF"}`)
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[sfmmodels.Schedule](t, w)
	assert.False(t, updated.Active)
	assert.Equal(t, sfmmodels.RelayOff, updated.Action)

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodDelete, "/api/schedules/"+created.ID, u2, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/api/schedules/"+created.ID, u1, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/schedules/"+created.ID, u1, nil).Code)
}
