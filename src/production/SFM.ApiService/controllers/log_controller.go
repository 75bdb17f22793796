package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

const systemLogLimit = 500

// LogController exposes the audit log to admins
type LogController struct {
	logRepo        interfaces.SystemLogRepository
	authMiddleware *middleware.AuthMiddleware
}

func NewLogController(logRepo interfaces.SystemLogRepository, authMiddleware *middleware.AuthMiddleware) *LogController {
	return &LogController{logRepo: logRepo, authMiddleware: authMiddleware}
}

func (c *LogController) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/logs", c.authMiddleware.Authenticate(), c.authMiddleware.RequireAdmin(), c.ListLogs)
}

func (c *LogController) ListLogs(ctx *gin.Context) {
	logs, err := c.logRepo.ListRecent(ctx.Request.Context(), systemLogLimit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, logs)
}
