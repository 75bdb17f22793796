package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	metrics "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Metrics"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

// CommandPublisher delivers a control command to a device
type CommandPublisher interface {
	Publish(externalID string, channel sfmmodels.Channel, action sfmmodels.RelayState) error
}

// CommandController handles manual actuator commands
type CommandController struct {
	commandRepo    interfaces.CommandRepository
	logRepo        interfaces.SystemLogRepository
	publisher      CommandPublisher
	logger         *logger.Logger
	authMiddleware *middleware.AuthMiddleware
	access         deviceAccess
}

// NewCommandController creates a new command controller
func NewCommandController(deviceRepo interfaces.DeviceRepository, commandRepo interfaces.CommandRepository, logRepo interfaces.SystemLogRepository, publisher CommandPublisher, logger *logger.Logger, authMiddleware *middleware.AuthMiddleware) *CommandController {
	return &CommandController{
		commandRepo:    commandRepo,
		logRepo:        logRepo,
		publisher:      publisher,
		logger:         logger,
		authMiddleware: authMiddleware,
		access:         deviceAccess{devices: deviceRepo, authorizer: authMiddleware.Authorizer()},
	}
}

// RegisterRoutes registers the command routes with Gin
func (c *CommandController) RegisterRoutes(router *gin.Engine) {
	commands := router.Group("/api/commands", c.authMiddleware.Authenticate())
	{
		commands.POST("", c.CreateCommand)
		commands.GET("", c.ListCommands)
		commands.GET("/next", c.NextCommand)
		commands.PUT("/:id/status", c.UpdateStatus)
	}
}

type CreateCommandRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
	Target   string `json:"target"`
	Action   string `json:"action" binding:"required"`
}

func (c *CommandController) CreateCommand(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	var req CreateCommandRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Target == "" {
		req.Target = string(sfmmodels.ChannelMain)
	}
	target, ok := sfmmodels.ParseChannel(req.Target)
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "target must be one of fan, light, pump, main"})
		return
	}
	action, ok := sfmmodels.ParseAction(req.Action)
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "action must be ON or OFF"})
		return
	}

	device, ok := c.access.load(ctx, p, req.DeviceID)
	if !ok {
		return
	}

	cmd, err := c.commandRepo.Create(ctx.Request.Context(), &sfmmodels.Command{
		DeviceID: device.ID,
		UserID:   p.UserID,
		Target:   target,
		Action:   action,
		Status:   sfmmodels.CommandPending,
	})
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Delivery is best-effort; the command stays pending until acknowledged.
	if err := c.publisher.Publish(device.TopicID(), target, action); err != nil {
		metrics.IncPublishFailure("command")
		c.logger.Logger.Warn().Err(err).Str("device_id", device.ID).Str("command_id", cmd.ID).Msg("command publish failed")
	}

	writeSystemLog(ctx, c.logRepo, p, "Command sent", fmt.Sprintf("%s %s sent to device %s", target, action, device.ID))
	ctx.JSON(http.StatusCreated, cmd)
}

func (c *CommandController) ListCommands(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	device, ok := c.access.load(ctx, p, ctx.Query("deviceId"))
	if !ok {
		return
	}

	q := interfaces.CommandQuery{DeviceIDs: []string{device.ID}}
	if raw := ctx.Query("status"); raw != "" {
		status, ok := sfmmodels.ParseCommandStatus(raw)
		if !ok {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of pending, executed, queued"})
			return
		}
		q.Status = &status
	}

	commands, err := c.commandRepo.List(ctx.Request.Context(), q)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, commands)
}

// NextCommand returns the oldest undelivered command, null when there is none
func (c *CommandController) NextCommand(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	device, ok := c.access.load(ctx, p, ctx.Query("deviceId"))
	if !ok {
		return
	}

	cmd, err := c.commandRepo.Next(ctx.Request.Context(), device.ID)
	if errors.Is(err, interfaces.ErrNotFound) {
		ctx.JSON(http.StatusOK, nil)
		return
	}
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"id": cmd.ID, "action": cmd.Action, "target": cmd.Target})
}

type UpdateCommandStatusRequest struct {
	Status     string     `json:"status" binding:"required"`
	ExecutedAt *time.Time `json:"executedAt"`
}

func (c *CommandController) UpdateStatus(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	var req UpdateCommandStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, ok := sfmmodels.ParseCommandStatus(req.Status)
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of pending, executed, queued"})
		return
	}

	cmd, err := c.commandRepo.GetByID(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err, "Command not found")
		return
	}
	if _, ok := c.access.load(ctx, p, cmd.DeviceID); !ok {
		return
	}

	executedAt := req.ExecutedAt
	if executedAt == nil && status == sfmmodels.CommandExecuted {
		now := time.Now().UTC()
		executedAt = &now
	}

	updated, err := c.commandRepo.UpdateStatus(ctx.Request.Context(), cmd.ID, status, executedAt)
	if err != nil {
		respondError(ctx, err, "Command not found")
		return
	}
	ctx.JSON(http.StatusOK, updated)
}
