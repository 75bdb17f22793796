package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/rbac"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

const maxCooldownMinutes = 1440

// AlertRuleController handles per-device metric alert rules
type AlertRuleController struct {
	ruleRepo       interfaces.AlertRuleRepository
	authMiddleware *middleware.AuthMiddleware
	access         deviceAccess
}

// NewAlertRuleController creates a new alert rule controller
func NewAlertRuleController(deviceRepo interfaces.DeviceRepository, ruleRepo interfaces.AlertRuleRepository, authMiddleware *middleware.AuthMiddleware) *AlertRuleController {
	return &AlertRuleController{
		ruleRepo:       ruleRepo,
		authMiddleware: authMiddleware,
		access:         deviceAccess{devices: deviceRepo, authorizer: authMiddleware.Authorizer()},
	}
}

// RegisterRoutes registers the alert rule routes with Gin
func (c *AlertRuleController) RegisterRoutes(router *gin.Engine) {
	rules := router.Group("/api/alert-rules", c.authMiddleware.Authenticate())
	{
		rules.GET("", c.ListRules)
		rules.POST("", c.CreateRule)
		rules.PUT("/:id", c.UpdateRule)
		rules.DELETE("/:id", c.DeleteRule)
	}
}

// nullableFloat tells an explicit null apart from an absent field
type nullableFloat struct {
	Set   bool
	Value *float64
}

func (n *nullableFloat) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

type CreateAlertRuleRequest struct {
	DeviceID         string   `json:"deviceId" binding:"required"`
	Metric           string   `json:"metric" binding:"required"`
	MinThreshold     *float64 `json:"minThreshold"`
	MaxThreshold     *float64 `json:"maxThreshold"`
	Enabled          *bool    `json:"enabled"`
	NotificationType string   `json:"notificationType"`
	CooldownMinutes  *int     `json:"cooldownMinutes"`
}

type UpdateAlertRuleRequest struct {
	MinThreshold     nullableFloat `json:"minThreshold"`
	MaxThreshold     nullableFloat `json:"maxThreshold"`
	Enabled          *bool         `json:"enabled"`
	NotificationType *string       `json:"notificationType"`
	CooldownMinutes  *int          `json:"cooldownMinutes"`
}

// parseNotification accepts the dashboard's "app" as push delivery
func parseNotification(s string) (sfmmodels.NotificationType, bool) {
	if s == "" || s == "app" {
		return sfmmodels.NotifyPush, true
	}
	return sfmmodels.ParseNotificationType(s)
}

func validCooldown(m *int) bool {
	return m == nil || (*m >= 0 && *m <= maxCooldownMinutes)
}

func (c *AlertRuleController) ListRules(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	var deviceIDs []string
	if deviceID := ctx.Query("deviceId"); deviceID != "" {
		if _, ok := c.access.load(ctx, p, deviceID); !ok {
			return
		}
		deviceIDs = []string{deviceID}
	} else {
		ids, err := c.access.scope(ctx, p)
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		deviceIDs = ids
	}

	rules, err := c.ruleRepo.List(ctx.Request.Context(), deviceIDs)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, rules)
}

func (c *AlertRuleController) CreateRule(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	var req CreateAlertRuleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !sfmmodels.IsValidMetric(req.Metric) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "metric must be one of temperature, humidity, soilMoisture, lux"})
		return
	}
	notification, ok := parseNotification(req.NotificationType)
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "notificationType must be one of all, email, app"})
		return
	}
	if !validCooldown(req.CooldownMinutes) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "cooldownMinutes must be between 0 and 1440"})
		return
	}

	device, ok := c.access.load(ctx, p, req.DeviceID)
	if !ok {
		return
	}

	rule := &sfmmodels.AlertRule{
		DeviceID:         device.ID,
		Metric:           req.Metric,
		MinThreshold:     req.MinThreshold,
		MaxThreshold:     req.MaxThreshold,
		Enabled:          true,
		NotificationType: notification,
		CooldownMinutes:  sfmmodels.CreateCooldownMinutes,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.CooldownMinutes != nil {
		rule.CooldownMinutes = *req.CooldownMinutes
	}

	created, err := c.ruleRepo.Create(ctx.Request.Context(), rule)
	if err != nil {
		respondError(ctx, err, "")
		return
	}
	ctx.JSON(http.StatusCreated, created)
}

// owned loads a rule whose device the caller may manage
func (c *AlertRuleController) owned(ctx *gin.Context, p rbac.Principal) (*sfmmodels.AlertRule, bool) {
	rule, err := c.ruleRepo.GetByID(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err, "Alert rule not found")
		return nil, false
	}
	if _, ok := c.access.load(ctx, p, rule.DeviceID); !ok {
		return nil, false
	}
	return rule, true
}

func (c *AlertRuleController) UpdateRule(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	var req UpdateAlertRuleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validCooldown(req.CooldownMinutes) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "cooldownMinutes must be between 0 and 1440"})
		return
	}

	update := sfmmodels.AlertRuleUpdate{
		MinThreshold:    req.MinThreshold.Value,
		ClearMin:        req.MinThreshold.Set && req.MinThreshold.Value == nil,
		MaxThreshold:    req.MaxThreshold.Value,
		ClearMax:        req.MaxThreshold.Set && req.MaxThreshold.Value == nil,
		Enabled:         req.Enabled,
		CooldownMinutes: req.CooldownMinutes,
	}
	if req.NotificationType != nil {
		n, ok := parseNotification(*req.NotificationType)
		if !ok {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "notificationType must be one of all, email, app"})
			return
		}
		update.NotificationType = &n
	}

	rule, ok := c.owned(ctx, p)
	if !ok {
		return
	}

	updated, err := c.ruleRepo.Update(ctx.Request.Context(), rule.ID, update)
	if err != nil {
		respondError(ctx, err, "Alert rule not found")
		return
	}
	ctx.JSON(http.StatusOK, updated)
}

func (c *AlertRuleController) DeleteRule(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	rule, ok := c.owned(ctx, p)
	if !ok {
		return
	}

	if err := c.ruleRepo.Delete(ctx.Request.Context(), rule.ID); err != nil {
		respondError(ctx, err, "Alert rule not found")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Deleted"})
}
