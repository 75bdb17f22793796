package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	auth "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/auth"
	rbac "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/rbac"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	auth_models "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models/auth"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

// respondError maps repository and authorization errors onto status codes
func respondError(ctx *gin.Context, err error, notFoundMsg string) {
	var weak *auth.WeakPasswordError
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": notFoundMsg})
	case errors.Is(err, interfaces.ErrConflict), errors.Is(err, auth.ErrUserExists):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, rbac.ErrNotOwner), errors.Is(err, rbac.ErrAdminRequired):
		ctx.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.As(err, &weak), errors.Is(err, auth.ErrInvalidRole):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func principal(ctx *gin.Context) (rbac.Principal, bool) {
	p, err := middleware.PrincipalFromGinContext(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return rbac.Principal{}, false
	}
	return p, true
}

// deviceAccess loads a device and checks the caller may use it. On false
// the response has been written.
type deviceAccess struct {
	devices    interfaces.DeviceRepository
	authorizer *rbac.Authorizer
}

func (a deviceAccess) load(ctx *gin.Context, p rbac.Principal, id string) (*sfmmodels.Device, bool) {
	if id == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "deviceId is required"})
		return nil, false
	}
	dev, err := a.devices.Get(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err, "Device not found")
		return nil, false
	}
	if !a.authorizer.CanAccessDevice(p, dev) {
		ctx.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return nil, false
	}
	return dev, true
}

// scope returns the device ids visible to p, nil meaning every device
func (a deviceAccess) scope(ctx *gin.Context, p rbac.Principal) ([]string, error) {
	owner := a.authorizer.DeviceScope(p)
	if owner == "" {
		return nil, nil
	}
	devices, err := a.devices.List(ctx.Request.Context(), owner)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// parseTimeParam reads an optional RFC 3339 query parameter
func parseTimeParam(ctx *gin.Context, name string) (*time.Time, bool) {
	raw := ctx.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + ": expected RFC 3339"})
		return nil, false
	}
	return &t, true
}

func writeSystemLog(ctx *gin.Context, logs interfaces.SystemLogRepository, p rbac.Principal, action, details string) {
	actor := sfmmodels.ActorUser
	if p.Role == auth_models.RoleAdmin {
		actor = sfmmodels.ActorAdmin
	}
	_ = logs.Create(ctx.Request.Context(), sfmmodels.NewSystemLog(actor, action, details, time.Now().UTC()))
}
