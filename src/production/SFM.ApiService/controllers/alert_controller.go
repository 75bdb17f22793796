package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

// AlertController handles fired alerts shown on the dashboard
type AlertController struct {
	alertRepo      interfaces.AlertRepository
	authMiddleware *middleware.AuthMiddleware
	access         deviceAccess
}

// NewAlertController creates a new alert controller
func NewAlertController(deviceRepo interfaces.DeviceRepository, alertRepo interfaces.AlertRepository, authMiddleware *middleware.AuthMiddleware) *AlertController {
	return &AlertController{
		alertRepo:      alertRepo,
		authMiddleware: authMiddleware,
		access:         deviceAccess{devices: deviceRepo, authorizer: authMiddleware.Authorizer()},
	}
}

// RegisterRoutes registers the alert routes with Gin
func (c *AlertController) RegisterRoutes(router *gin.Engine) {
	alerts := router.Group("/api/alerts", c.authMiddleware.Authenticate())
	{
		alerts.GET("", c.ListAlerts)
		alerts.POST("", c.CreateAlert)
		alerts.PUT("/:id/read", c.MarkRead)
	}
}

type CreateAlertRequest struct {
	DeviceID  string     `json:"deviceId" binding:"required"`
	Type      string     `json:"type" binding:"required"`
	Message   string     `json:"message" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
}

func (c *AlertController) ListAlerts(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	var q sfmmodels.AlertQuery
	if deviceID := ctx.Query("deviceId"); deviceID != "" {
		if _, ok := c.access.load(ctx, p, deviceID); !ok {
			return
		}
		q.DeviceIDs = []string{deviceID}
	} else {
		ids, err := c.access.scope(ctx, p)
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		q.DeviceIDs = ids
	}

	if raw := ctx.Query("read"); raw != "" {
		read, err := strconv.ParseBool(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "read must be a boolean"})
			return
		}
		q.Read = &read
	}

	alerts, err := c.alertRepo.List(ctx.Request.Context(), q)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, alerts)
}

func (c *AlertController) CreateAlert(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	var req CreateAlertRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	alertType := sfmmodels.AlertType(req.Type)
	if alertType != sfmmodels.AlertWarning && alertType != sfmmodels.AlertError {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "type must be warning or error"})
		return
	}

	device, ok := c.access.load(ctx, p, req.DeviceID)
	if !ok {
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	alert, err := c.alertRepo.Create(ctx.Request.Context(), &sfmmodels.Alert{
		DeviceID:  device.ID,
		Type:      alertType,
		Message:   req.Message,
		Timestamp: ts,
	})
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, alert)
}

func (c *AlertController) MarkRead(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	alert, err := c.alertRepo.GetByID(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err, "Alert not found")
		return
	}
	if _, ok := c.access.load(ctx, p, alert.DeviceID); !ok {
		return
	}

	updated, err := c.alertRepo.MarkRead(ctx.Request.Context(), alert.ID)
	if err != nil {
		respondError(ctx, err, "Alert not found")
		return
	}
	ctx.JSON(http.StatusOK, updated)
}
