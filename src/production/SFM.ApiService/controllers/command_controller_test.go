package controllers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	publisher "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Publisher"
	implementation "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Implementation"
)

func newCommandEnv(t *testing.T) (*testEnv, *fakeCommands, *publisher.FakePublisher) {
	env := newEnv(t)
	devices := implementation.NewMemoryDeviceStore()
	devices.Put(&sfmmodels.Device{ID: "d1", OwnerID: "u1", ExternalID: "esp32-01"})
	devices.Put(&sfmmodels.Device{ID: "d2", OwnerID: "u1"})
	commands := &fakeCommands{}
	pub := publisher.NewFakePublisher()
	NewCommandController(devices, commands, &fakeLogs{}, pub, logger.NewNopLogger(), env.mw).RegisterRoutes(env.router)
	return env, commands, pub
}

func TestCreateCommand_PublishesToTopicID(t *testing.T) {
	env, _, pub := newCommandEnv(t)
	token := env.userToken(t, "u1")

	w := env.do(http.MethodPost, "/api/commands", token, map[string]string{"deviceId": "d1", "target": "fan", "action": "ON"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	cmd := decode[sfmmodels.Command](t, w)
	assert.Equal(t, sfmmodels.CommandPending, cmd.Status)
	assert.Equal(t, "u1", cmd.UserID)

	w = env.do(http.MethodPost, "/api/commands", token, map[string]string{"deviceId": "d2", "action": "OFF"})
	require.Equal(t, http.StatusCreated, w.Code)

	sent := pub.Commands()
	require.Len(t, sent, 2)
	assert.Equal(t, "esp32-01", sent[0].ExternalID)
	assert.Equal(t, sfmmodels.ChannelFan, sent[0].Channel)
	assert.Equal(t, "d2", sent[1].ExternalID, "unbound devices are addressed by record id")
	assert.Equal(t, sfmmodels.ChannelMain, sent[1].Channel)
}

func TestCreateCommand_PublishFailureStillCreates(t *testing.T) {
	env, commands, pub := newCommandEnv(t)
	pub.SetError(errors.New("broker down"))

	w := env.do(http.MethodPost, "/api/commands", env.userToken(t, "u1"), map[string]string{"deviceId": "d1", "action": "ON"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, commands.cmds, 1)
}

func TestCreateCommand_Validation(t *testing.T) {
	env, _, _ := newCommandEnv(t)
	token := env.userToken(t, "u1")

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/commands", token, map[string]string{"deviceId": "d1", "action": "on"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/commands", token, map[string]string{"deviceId": "d1", "target": "heater", "action": "ON"}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/commands", token, map[string]string{"deviceId": "zz", "action": "ON"}).Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/api/commands", env.userToken(t, "u2"), map[string]string{"deviceId": "d1", "action": "ON"}).Code)
}

func TestNextCommand_NullWhenNone(t *testing.T) {
	env, _, _ := newCommandEnv(t)
	token := env.userToken(t, "u1")

	w := env.do(http.MethodGet, "/api/commands/next?deviceId=d1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", w.Body.String())

	env.do(http.MethodPost, "/api/commands", token, map[string]string{"deviceId": "d1", "target": "pump", "action": "ON"})
	next := decode[map[string]string](t, env.do(http.MethodGet, "/api/commands/next?deviceId=d1", token, nil))
	assert.NotEmpty(t, next["id"])
	assert.Equal(t, "ON", next["action"])

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/commands/next", token, nil).Code)
}

func TestUpdateCommandStatus(t *testing.T) {
	env, _, _ := newCommandEnv(t)
	token := env.userToken(t, "u1")
	cmd := decode[sfmmodels.Command](t, env.do(http.MethodPost, "/api/commands", token, map[string]string{"deviceId": "d1", "action": "ON"}))

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/api/commands/"+cmd.ID+"/status", token, map[string]string{"status": "done"}).Code)

	w := env.do(http.MethodPut, "/api/commands/"+cmd.ID+"/status", token, map[string]string{"status": "executed"})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[sfmmodels.Command](t, w)
	assert.Equal(t, sfmmodels.CommandExecuted, updated.Status)
	assert.NotNil(t, updated.ExecutedAt)

	list := decode[[]sfmmodels.Command](t, env.do(http.MethodGet, "/api/commands?deviceId=d1&status=pending", token, nil))
	assert.Empty(t, list)
}
