package controllers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	jwt "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/jwt"
	rbac "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/rbac"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"
	config "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Config"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	auth_models "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models/auth"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

type testEnv struct {
	router *gin.Engine
	tokens *jwt.Service
	mw     *middleware.AuthMiddleware
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens := jwt.NewService(config.AuthConfig{JWTSecretKey: "test-secret", JWTIssuer: "test", AccessTokenDuration: time.Minute, RefreshTokenDuration: time.Hour})
	return &testEnv{
		router: gin.New(),
		tokens: tokens,
		mw:     middleware.NewAuthMiddleware(tokens, rbac.NewAuthorizer(rbac.NewService()), middleware.DefaultConfig()),
	}
}

func (e *testEnv) bearer(t *testing.T, userID, role string) string {
	t.Helper()
	pair, err := e.tokens.GenerateTokens(userID, role)
	require.NoError(t, err)
	return "Bearer " + pair.AccessToken
}

func (e *testEnv) userToken(t *testing.T, userID string) string {
	return e.bearer(t, userID, auth_models.RoleUser)
}

func (e *testEnv) adminToken(t *testing.T) string {
	return e.bearer(t, "admin-1", auth_models.RoleAdmin)
}

func (e *testEnv) do(method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	var reader *strings.Reader
	switch b := body.(type) {
	case nil:
		reader = strings.NewReader("")
	case string:
		reader = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type fakeCommands struct {
	mu   sync.Mutex
	cmds []*sfmmodels.Command
}

func (f *fakeCommands) Create(_ context.Context, cmd *sfmmodels.Command) (*sfmmodels.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *cmd
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().Add(time.Duration(len(f.cmds)) * time.Millisecond)
	f.cmds = append(f.cmds, &c)
	return &c, nil
}

func (f *fakeCommands) GetByID(_ context.Context, id string) (*sfmmodels.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cmds {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeCommands) List(_ context.Context, q interfaces.CommandQuery) ([]*sfmmodels.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*sfmmodels.Command{}
	for i := len(f.cmds) - 1; i >= 0; i-- {
		c := f.cmds[i]
		if q.DeviceIDs != nil && !contains(q.DeviceIDs, c.DeviceID) {
			continue
		}
		if q.Status != nil && c.Status != *q.Status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCommands) Next(_ context.Context, deviceID string) (*sfmmodels.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cmds {
		if c.DeviceID == deviceID && (c.Status == sfmmodels.CommandPending || c.Status == sfmmodels.CommandQueued) {
			return c, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeCommands) UpdateStatus(_ context.Context, id string, status sfmmodels.CommandStatus, executedAt *time.Time) (*sfmmodels.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cmds {
		if c.ID == id {
			c.Status = status
			c.ExecutedAt = executedAt
			return c, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

type fakeRules struct {
	mu    sync.Mutex
	rules []*sfmmodels.AlertRule
}

func (f *fakeRules) Create(_ context.Context, rule *sfmmodels.AlertRule) (*sfmmodels.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rules {
		if r.DeviceID == rule.DeviceID && r.Metric == rule.Metric {
			return nil, interfaces.ErrConflict
		}
	}
	r := *rule
	r.ID = uuid.New().String()
	f.rules = append(f.rules, &r)
	return &r, nil
}

func (f *fakeRules) GetByID(_ context.Context, id string) (*sfmmodels.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeRules) List(_ context.Context, deviceIDs []string) ([]*sfmmodels.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*sfmmodels.AlertRule{}
	for _, r := range f.rules {
		if deviceIDs == nil || contains(deviceIDs, r.DeviceID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRules) ListEnabledByDevice(ctx context.Context, deviceID string) ([]*sfmmodels.AlertRule, error) {
	return f.List(ctx, []string{deviceID})
}

func (f *fakeRules) Update(_ context.Context, id string, u sfmmodels.AlertRuleUpdate) (*sfmmodels.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rules {
		if r.ID != id {
			continue
		}
		if u.ClearMin {
			r.MinThreshold = nil
		} else if u.MinThreshold != nil {
			r.MinThreshold = u.MinThreshold
		}
		if u.ClearMax {
			r.MaxThreshold = nil
		} else if u.MaxThreshold != nil {
			r.MaxThreshold = u.MaxThreshold
		}
		if u.Enabled != nil {
			r.Enabled = *u.Enabled
		}
		if u.NotificationType != nil {
			r.NotificationType = *u.NotificationType
		}
		if u.CooldownMinutes != nil {
			r.CooldownMinutes = *u.CooldownMinutes
		}
		return r, nil
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeRules) MarkAlerted(context.Context, string, time.Time) error { return nil }

func (f *fakeRules) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.rules {
		if r.ID == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return interfaces.ErrNotFound
}

type fakeLogs struct {
	mu      sync.Mutex
	entries []*sfmmodels.SystemLog
}

func (f *fakeLogs) Create(_ context.Context, entry *sfmmodels.SystemLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLogs) ListRecent(_ context.Context, limit int) ([]*sfmmodels.SystemLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*sfmmodels.SystemLog{}
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.entries[i])
	}
	return out, nil
}

func (f *fakeLogs) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeReadings struct {
	mu       sync.Mutex
	readings []sfmmodels.Reading
	deleted  []string
	lastQ    sfmmodels.ReadingQuery
}

func (f *fakeReadings) Insert(_ context.Context, r *sfmmodels.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, *r)
	return nil
}

func (f *fakeReadings) List(_ context.Context, q sfmmodels.ReadingQuery) ([]sfmmodels.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQ = q
	out := []sfmmodels.Reading{}
	for i := len(f.readings) - 1; i >= 0 && len(out) < q.Limit; i-- {
		r := f.readings[i]
		if q.DeviceIDs != nil && !contains(q.DeviceIDs, r.DeviceID) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeReadings) DeleteByDevice(_ context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, deviceID)
	return nil
}

type fakeLocks struct{}

func (fakeLocks) Lock(string) func() { return func() {} }

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func fptr(v float64) *float64 { return &v }
