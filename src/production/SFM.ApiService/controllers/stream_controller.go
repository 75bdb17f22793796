package controllers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"
	hub "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Hub"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

const streamHeartbeat = 25 * time.Second

// StreamController serves live device events as server-sent events
type StreamController struct {
	deviceRepo     interfaces.DeviceRepository
	hub            *hub.Hub
	heartbeat      time.Duration
	logger         *logger.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewStreamController creates a new stream controller
func NewStreamController(deviceRepo interfaces.DeviceRepository, h *hub.Hub, logger *logger.Logger, authMiddleware *middleware.AuthMiddleware) *StreamController {
	return &StreamController{
		deviceRepo:     deviceRepo,
		hub:            h,
		heartbeat:      streamHeartbeat,
		logger:         logger,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers the stream routes with Gin
func (c *StreamController) RegisterRoutes(router *gin.Engine) {
	// EventSource cannot set headers, so the token may come in the query
	router.GET("/api/stream/devices/:externalId", c.authMiddleware.AuthenticateStream(), c.StreamDevice)
}

func (c *StreamController) StreamDevice(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	externalID := ctx.Param("externalId")
	device, err := c.deviceRepo.GetByExternalID(ctx.Request.Context(), externalID)
	if err != nil {
		respondError(ctx, err, "Device not found")
		return
	}
	if !c.authMiddleware.Authorizer().CanAccessDevice(p, device) {
		ctx.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	sub := c.hub.Subscribe(externalID, p.UserID)
	defer sub.Close()

	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")
	ctx.Status(http.StatusOK)
	// the server write timeout would cut long-lived streams
	_ = http.NewResponseController(ctx.Writer).SetWriteDeadline(time.Time{})
	ctx.Writer.Flush()

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	log := c.logger.Logger.With().Str("external_id", externalID).Str("user_id", p.UserID).Logger()
	log.Debug().Msg("stream opened")
	defer func() { log.Debug().Int("dropped", sub.Dropped()).Msg("stream closed") }()

	ctx.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Request.Context().Done():
			return false
		case ev, open := <-sub.Events():
			if !open {
				return false
			}
			ctx.SSEvent(string(ev.Type), ev.Data)
			return true
		case <-ticker.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		}
	})
}
