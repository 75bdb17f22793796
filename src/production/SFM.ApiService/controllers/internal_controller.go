package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	processor "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Processor"
)

// InboundHandler processes device messages forwarded by the ingestor
type InboundHandler interface {
	HandleTelemetry(ctx context.Context, externalID string, payload []byte, arrivedAt time.Time) processor.Result
	HandleStatus(ctx context.Context, externalID string, payload []byte) processor.Result
	HandleAck(ctx context.Context, externalID string, payload []byte) processor.Result
}

// InternalController handles internal API endpoints for service-to-service communication
type InternalController struct {
	handler InboundHandler
	secret  string
	logger  *logger.Logger
}

// NewInternalController creates a new internal controller
func NewInternalController(handler InboundHandler, secret string, logger *logger.Logger) *InternalController {
	return &InternalController{
		handler: handler,
		secret:  secret,
		logger:  logger,
	}
}

// RegisterRoutes registers the internal API routes
func (c *InternalController) RegisterRoutes(router *gin.Engine) {
	internal := router.Group("/internal")
	internal.Use(middleware.ServiceAuthMiddleware(c.secret, "ingestor"))

	internal.POST("/telemetry", c.Telemetry)
	internal.POST("/status", c.Status)
	internal.POST("/commands/ack", c.CommandAck)
}

// payloadBytes returns the device's original bytes. The ingestor wraps
// payloads that are not JSON, like a bare "online", in a JSON string.
func payloadBytes(raw json.RawMessage) []byte {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}

// process runs every message of the batch in arrival order
func (c *InternalController) process(ctx *gin.Context, kind sfmmodels.InboundKind, handle func(context.Context, sfmmodels.InboundMessage) processor.Result) {
	var batch sfmmodels.InboundBatch
	if err := ctx.ShouldBindJSON(&batch); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	result := sfmmodels.BatchResult{Received: len(batch.Messages)}
	for _, msg := range batch.Messages {
		if msg.ExternalID == "" {
			result.Dropped++
			continue
		}
		if handle(ctx.Request.Context(), msg) == processor.Processed {
			result.Processed++
		} else {
			result.Dropped++
		}
	}

	c.logger.Logger.Debug().
		Str("kind", string(kind)).
		Int("received", result.Received).
		Int("processed", result.Processed).
		Int("dropped", result.Dropped).
		Msg("inbound batch handled")
	ctx.JSON(http.StatusOK, result)
}

// Telemetry handles a batch of sensors/<id>/data messages
func (c *InternalController) Telemetry(ctx *gin.Context) {
	c.process(ctx, sfmmodels.InboundTelemetry, func(rctx context.Context, m sfmmodels.InboundMessage) processor.Result {
		arrived := m.ReceivedAt
		if arrived.IsZero() {
			arrived = time.Now()
		}
		return c.handler.HandleTelemetry(rctx, m.ExternalID, payloadBytes(m.Payload), arrived.UTC())
	})
}

// Status handles a batch of sensors/<id>/status messages
func (c *InternalController) Status(ctx *gin.Context) {
	c.process(ctx, sfmmodels.InboundStatus, func(rctx context.Context, m sfmmodels.InboundMessage) processor.Result {
		return c.handler.HandleStatus(rctx, m.ExternalID, payloadBytes(m.Payload))
	})
}

// CommandAck handles a batch of devices/<id>/cmd/ack messages
func (c *InternalController) CommandAck(ctx *gin.Context) {
	c.process(ctx, sfmmodels.InboundAck, func(rctx context.Context, m sfmmodels.InboundMessage) processor.Result {
		return c.handler.HandleAck(rctx, m.ExternalID, payloadBytes(m.Payload))
	})
}
