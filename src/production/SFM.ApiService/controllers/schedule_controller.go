package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/rbac"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

// ScheduleController handles timed actuator schedules
type ScheduleController struct {
	scheduleRepo   interfaces.ScheduleRepository
	authMiddleware *middleware.AuthMiddleware
	access         deviceAccess
}

// NewScheduleController creates a new schedule controller
func NewScheduleController(deviceRepo interfaces.DeviceRepository, scheduleRepo interfaces.ScheduleRepository, authMiddleware *middleware.AuthMiddleware) *ScheduleController {
	return &ScheduleController{
		scheduleRepo:   scheduleRepo,
		authMiddleware: authMiddleware,
		access:         deviceAccess{devices: deviceRepo, authorizer: authMiddleware.Authorizer()},
	}
}

// RegisterRoutes registers the schedule routes with Gin
func (c *ScheduleController) RegisterRoutes(router *gin.Engine) {
	schedules := router.Group("/api/schedules", c.authMiddleware.Authenticate())
	{
		schedules.GET("", c.ListSchedules)
		schedules.POST("", c.CreateSchedule)
		schedules.PUT("/:id", c.UpdateSchedule)
		schedules.DELETE("/:id", c.DeleteSchedule)
	}
}

type CreateScheduleRequest struct {
	DeviceID string    `json:"deviceId" binding:"required"`
	Target   string    `json:"target"`
	Action   string    `json:"action" binding:"required"`
	Time     time.Time `json:"time" binding:"required"`
	Repeat   string    `json:"repeat"`
	Active   *bool     `json:"active"`
}

type UpdateScheduleRequest struct {
	Target *string    `json:"target"`
	Action *string    `json:"action"`
	Time   *time.Time `json:"time"`
	Repeat *string    `json:"repeat"`
	Active *bool      `json:"active"`
}

func (r UpdateScheduleRequest) toUpdate() (sfmmodels.ScheduleUpdate, string) {
	u := sfmmodels.ScheduleUpdate{Time: r.Time, Active: r.Active}
	if r.Target != nil {
		ch, ok := sfmmodels.ParseChannel(*r.Target)
		if !ok {
			return u, "target must be one of fan, light, pump, main"
		}
		u.Target = &ch
	}
	if r.Action != nil {
		a, ok := sfmmodels.ParseAction(*r.Action)
		if !ok {
			return u, "action must be ON or OFF"
		}
		u.Action = &a
	}
	if r.Repeat != nil {
		rep, ok := sfmmodels.ParseRepeat(*r.Repeat)
		if !ok {
			return u, "repeat must be daily or weekly"
		}
		u.Repeat = &rep
	}
	return u, ""
}

func (c *ScheduleController) ListSchedules(ctx *gin.Context) {
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
	}

	schedules, err := c.scheduleRepo.List(ctx.Request.Context(), deviceIDs)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Non-admins see the schedules they created
	if c.authMiddleware.Authorizer().DeviceScope(p) != "" {
		own := schedules[:0]
		for _, s := range schedules {
			if s.UserID == p.UserID {
				own = append(own, s)
			}
		}
		schedules = own
	}
	ctx.JSON(http.StatusOK, schedules)
}

func (c *ScheduleController) CreateSchedule(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	var req CreateScheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Target == "" {
		req.Target = string(sfmmodels.ChannelMain)
	}
	if req.Repeat == "" {
		req.Repeat = string(sfmmodels.RepeatDaily)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	update, msg := UpdateScheduleRequest{Target: &req.Target, Action: &req.Action, Repeat: &req.Repeat}.toUpdate()
	if msg != "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	device, ok := c.access.load(ctx, p, req.DeviceID)
	if !ok {
		return
	}

	schedule, err := c.scheduleRepo.Create(ctx.Request.Context(), &sfmmodels.Schedule{
		DeviceID: device.ID,
		UserID:   p.UserID,
		Target:   *update.Target,
		Action:   *update.Action,
		Time:     req.Time.UTC(),
		Repeat:   *update.Repeat,
		Active:   active,
	})
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, schedule)
}

// owned loads a schedule the caller created, or any schedule for an admin
func (c *ScheduleController) owned(ctx *gin.Context, p rbac.Principal) (*sfmmodels.Schedule, bool) {
	schedule, err := c.scheduleRepo.GetByID(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err, "Schedule not found")
		return nil, false
	}
	if err := c.authMiddleware.Authorizer().RequireOwnerOrAdmin(p, schedule.UserID); err != nil {
		respondError(ctx, err, "")
		return nil, false
	}
	return schedule, true
}

func (c *ScheduleController) UpdateSchedule(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	var req UpdateScheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	update, msg := req.toUpdate()
	if msg != "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	if update.Time != nil {
		t := update.Time.UTC()
		update.Time = &t
	}

	schedule, ok := c.owned(ctx, p)
	if !ok {
		return
	}

	updated, err := c.scheduleRepo.Update(ctx.Request.Context(), schedule.ID, update)
	if err != nil {
		respondError(ctx, err, "Schedule not found")
		return
	}
	ctx.JSON(http.StatusOK, updated)
}

func (c *ScheduleController) DeleteSchedule(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	schedule, ok := c.owned(ctx, p)
	if !ok {
		return
	}

	if err := c.scheduleRepo.Delete(ctx.Request.Context(), schedule.ID); err != nil {
		respondError(ctx, err, "Schedule not found")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}
