package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthReporter summarizes dependency health
type HealthReporter interface {
	GetHealthStatus(ctx context.Context) (map[string]interface{}, bool)
}

// HealthController handles health and metrics requests
type HealthController struct {
	health HealthReporter
}

// NewHealthController creates a new health controller
func NewHealthController(health HealthReporter) *HealthController {
	return &HealthController{health: health}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	// Public health endpoints
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// HealthReady fails with 503 while a datastore is unreachable. A
// disconnected broker only degrades the service.
func (c *HealthController) HealthReady(ctx *gin.Context) {
	status, ready := c.health.GetHealthStatus(ctx.Request.Context())
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, status)
}
