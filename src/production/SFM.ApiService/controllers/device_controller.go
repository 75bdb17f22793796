package controllers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

// DeviceLocker serializes writes to one device record
type DeviceLocker interface {
	Lock(id string) func()
}

// DeviceController handles Device management requests
type DeviceController struct {
	deviceRepo     interfaces.DeviceRepository
	readingRepo    interfaces.ReadingRepository
	logRepo        interfaces.SystemLogRepository
	locks          DeviceLocker
	logger         *logger.Logger
	authMiddleware *middleware.AuthMiddleware
	access         deviceAccess
}

// NewDeviceController creates a new device controller
func NewDeviceController(deviceRepo interfaces.DeviceRepository, readingRepo interfaces.ReadingRepository, logRepo interfaces.SystemLogRepository, locks DeviceLocker, logger *logger.Logger, authMiddleware *middleware.AuthMiddleware) *DeviceController {
	return &DeviceController{
		deviceRepo:     deviceRepo,
		readingRepo:    readingRepo,
		logRepo:        logRepo,
		locks:          locks,
		logger:         logger,
		authMiddleware: authMiddleware,
		access:         deviceAccess{devices: deviceRepo, authorizer: authMiddleware.Authorizer()},
	}
}

// RegisterRoutes registers the device routes with Gin
func (c *DeviceController) RegisterRoutes(router *gin.Engine) {
	devices := router.Group("/api/devices", c.authMiddleware.Authenticate())
	{
		// Admin: all devices, User: their own
		devices.GET("", c.ListDevices)
		devices.POST("", c.CreateDevice)
		devices.GET("/:id", c.GetDevice)
		devices.PUT("/:id", c.UpdateDevice)
		devices.DELETE("/:id", c.DeleteDevice)
	}
}

type CreateDeviceRequest struct {
	Name            string `json:"name" binding:"required"`
	Location        string `json:"location"`
	OwnerID         string `json:"ownerId"`
	FirmwareVersion string `json:"firmwareVersion"`
	ExternalID      string `json:"externalId"`
}

// UpdateDeviceRequest carries the flat automation fields the dashboard edits.
// An explicit null threshold clears it.
type UpdateDeviceRequest struct {
	Name            *string `json:"name"`
	Location        *string `json:"location"`
	FirmwareVersion *string `json:"firmwareVersion"`
	ExternalID      *string `json:"externalId"`

	AutoFanEnabled    *bool    `json:"autoFanEnabled"`
	AutoFanTempAbove  nullableFloat `json:"autoFanTempAbove"`
	AutoFanHysteresis *float64 `json:"autoFanHysteresis"`

	AutoPumpEnabled    *bool    `json:"autoPumpEnabled"`
	AutoPumpSoilBelow  nullableFloat `json:"autoPumpSoilBelow"`
	AutoPumpHysteresis *float64 `json:"autoPumpHysteresis"`

	AutoLightEnabled    *bool    `json:"autoLightEnabled"`
	AutoLightLuxBelow   nullableFloat `json:"autoLightLuxBelow"`
	AutoLightHysteresis *float64 `json:"autoLightHysteresis"`

	MinToggleIntervalSec *float64 `json:"minToggleIntervalSec"`
}

// ToUpdate converts the request into a partial device update
func (r UpdateDeviceRequest) ToUpdate() (sfmmodels.DeviceUpdate, error) {
	u := sfmmodels.DeviceUpdate{
		Name:                 r.Name,
		Location:             r.Location,
		FirmwareVersion:      r.FirmwareVersion,
		ExternalID:           r.ExternalID,
		MinToggleIntervalSec: r.MinToggleIntervalSec,
	}
	if u.MinToggleIntervalSec != nil && *u.MinToggleIntervalSec < 0 {
		return u, fmt.Errorf("minToggleIntervalSec must not be negative")
	}

	channels := []struct {
		ch         sfmmodels.Channel
		enabled    *bool
		threshold  nullableFloat
		hysteresis *float64
	}{
		{sfmmodels.ChannelFan, r.AutoFanEnabled, r.AutoFanTempAbove, r.AutoFanHysteresis},
		{sfmmodels.ChannelPump, r.AutoPumpEnabled, r.AutoPumpSoilBelow, r.AutoPumpHysteresis},
		{sfmmodels.ChannelLight, r.AutoLightEnabled, r.AutoLightLuxBelow, r.AutoLightHysteresis},
	}
	for _, c := range channels {
		if c.hysteresis != nil && *c.hysteresis < 0 {
			return u, fmt.Errorf("%s hysteresis must not be negative", c.ch)
		}
		if c.enabled == nil && !c.threshold.Set && c.hysteresis == nil {
			continue
		}
		u.SetChannel(c.ch, sfmmodels.ChannelUpdate{
			Enabled:        c.enabled,
			Threshold:      c.threshold.Value,
			ClearThreshold: c.threshold.Set && c.threshold.Value == nil,
			Hysteresis:     c.hysteresis,
		})
	}
	return u, nil
}

func (c *DeviceController) ListDevices(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	devices, err := c.deviceRepo.List(ctx.Request.Context(), c.authMiddleware.Authorizer().DeviceScope(p))
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, devices)
}

func (c *DeviceController) CreateDevice(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	var req CreateDeviceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = p.UserID
	}
	if err := c.authMiddleware.Authorizer().RequireOwnerOrAdmin(p, ownerID); err != nil {
		respondError(ctx, err, "")
		return
	}

	device, err := c.deviceRepo.Create(ctx.Request.Context(), &sfmmodels.Device{
		Name:            req.Name,
		Location:        req.Location,
		OwnerID:         ownerID,
		FirmwareVersion: req.FirmwareVersion,
		ExternalID:      req.ExternalID,
		Status:          sfmmodels.StatusOffline,
	})
	if err != nil {
		respondError(ctx, err, "")
		return
	}

	writeSystemLog(ctx, c.logRepo, p, "Device created", fmt.Sprintf("Device %s (%s) created", device.Name, device.ID))
	c.logger.Logger.Info().Str("device_id", device.ID).Str("owner_id", ownerID).Msg("device created")
	ctx.JSON(http.StatusCreated, device)
}

func (c *DeviceController) GetDevice(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	device, ok := c.access.load(ctx, p, ctx.Param("id"))
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, device)
}

func (c *DeviceController) UpdateDevice(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	var req UpdateDeviceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	update, err := req.ToUpdate()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := ctx.Param("id")
	unlock := c.locks.Lock(id)
	defer unlock()

	device, ok := c.access.load(ctx, p, id)
	if !ok {
		return
	}
	if update.IsEmpty() {
		ctx.JSON(http.StatusOK, device)
		return
	}

	updated, err := c.deviceRepo.UpdateFields(ctx.Request.Context(), id, update)
	if err != nil {
		respondError(ctx, err, "Device not found")
		return
	}

	writeSystemLog(ctx, c.logRepo, p, "Device updated", fmt.Sprintf("Device %s updated", id))
	ctx.JSON(http.StatusOK, updated)
}

func (c *DeviceController) DeleteDevice(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	id := ctx.Param("id")
	unlock := c.locks.Lock(id)
	defer unlock()

	device, ok := c.access.load(ctx, p, id)
	if !ok {
		return
	}

	if err := c.deviceRepo.Delete(ctx.Request.Context(), id); err != nil {
		respondError(ctx, err, "Device not found")
		return
	}
	if err := c.readingRepo.DeleteByDevice(ctx.Request.Context(), id); err != nil {
		c.logger.Logger.Error().Err(err).Str("device_id", id).Msg("failed to delete readings of removed device")
	}

	writeSystemLog(ctx, c.logRepo, p, "Device deleted", fmt.Sprintf("Device %s (%s) deleted", device.Name, id))
	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}
