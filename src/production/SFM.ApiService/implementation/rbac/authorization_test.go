package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	auth_models "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models/auth"
)

func TestAuthorizer(t *testing.T) {
	a := NewAuthorizer(NewService())
	admin := Principal{UserID: "a", Role: auth_models.RoleAdmin}
	owner := Principal{UserID: "u1", Role: auth_models.RoleUser}
	other := Principal{UserID: "u2", Role: auth_models.RoleUser}
	dev := &sfmmodels.Device{ID: "d1", OwnerID: "u1"}

	assert.NoError(t, a.RequireAdmin(admin))
	assert.ErrorIs(t, a.RequireAdmin(owner), ErrAdminRequired)

	assert.True(t, a.CanAccessDevice(admin, dev))
	assert.True(t, a.CanAccessDevice(owner, dev))
	assert.False(t, a.CanAccessDevice(other, dev))

	assert.Equal(t, "", a.DeviceScope(admin))
	assert.Equal(t, "u1", a.DeviceScope(owner))
}

func TestService_Roles(t *testing.T) {
	s := NewService()
	assert.True(t, s.IsValidRole(auth_models.RoleUser))
	assert.False(t, s.IsValidRole("operator"))
	s.AddRole("operator")
	assert.Equal(t, []string{"admin", "operator", "user"}, s.GetValidRoles())
}
