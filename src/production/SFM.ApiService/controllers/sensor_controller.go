package controllers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/rbac"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	implementation "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

// ReadingIngester runs an authenticated HTTP reading through the core pipeline
type ReadingIngester interface {
	HandleReading(ctx context.Context, dev *sfmmodels.Device, reading sfmmodels.Reading) (*sfmmodels.Reading, error)
}

// SensorController handles sensor reading requests
type SensorController struct {
	readingRepo    interfaces.ReadingRepository
	ingester       ReadingIngester
	logger         *logger.Logger
	authMiddleware *middleware.AuthMiddleware
	access         deviceAccess
}

// NewSensorController creates a new sensor controller
func NewSensorController(deviceRepo interfaces.DeviceRepository, readingRepo interfaces.ReadingRepository, ingester ReadingIngester, logger *logger.Logger, authMiddleware *middleware.AuthMiddleware) *SensorController {
	return &SensorController{
		readingRepo:    readingRepo,
		ingester:       ingester,
		logger:         logger,
		authMiddleware: authMiddleware,
		access:         deviceAccess{devices: deviceRepo, authorizer: authMiddleware.Authorizer()},
	}
}

// RegisterRoutes registers the sensor routes with Gin
func (c *SensorController) RegisterRoutes(router *gin.Engine) {
	sensors := router.Group("/api/sensors", c.authMiddleware.Authenticate())
	{
		sensors.POST("/ingest", c.Ingest)
		sensors.GET("", c.ListReadings)
		sensors.GET("/export", c.ExportReadings)
	}
}

type IngestRequest struct {
	DeviceID     string     `json:"deviceId" binding:"required"`
	Temperature  *float64   `json:"temperature"`
	Humidity     *float64   `json:"humidity"`
	SoilMoisture *float64   `json:"soilMoisture"`
	PH           *float64   `json:"pH"`
	Lux          *float64   `json:"lux"`
	Timestamp    *time.Time `json:"timestamp"`
}

func (c *SensorController) Ingest(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}

	var req IngestRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, ok := c.access.load(ctx, p, req.DeviceID)
	if !ok {
		return
	}

	reading := sfmmodels.Reading{
		Temperature:  req.Temperature,
		Humidity:     req.Humidity,
		SoilMoisture: req.SoilMoisture,
		PH:           req.PH,
		Lux:          req.Lux,
		Timestamp:    time.Now().UTC(),
	}
	if req.Timestamp != nil {
		reading.Timestamp = req.Timestamp.UTC()
	}

	stored, err := c.ingester.HandleReading(ctx.Request.Context(), device, reading)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, stored)
}

// query builds the reading query shared by list and export. On false the
// response has been written.
func (c *SensorController) query(ctx *gin.Context, p rbac.Principal) (sfmmodels.ReadingQuery, bool) {
	var q sfmmodels.ReadingQuery

	if deviceID := ctx.Query("deviceId"); deviceID != "" {
		if _, ok := c.access.load(ctx, p, deviceID); !ok {
			return q, false
		}
		q.DeviceIDs = []string{deviceID}
	} else {
		ids, err := c.access.scope(ctx, p)
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return q, false
		}
		q.DeviceIDs = ids
	}

	var ok bool
	if q.From, ok = parseTimeParam(ctx, "from"); !ok {
		return q, false
	}
	if q.To, ok = parseTimeParam(ctx, "to"); !ok {
		return q, false
	}

	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "100"))
	q.Limit = implementation.ClampLimit(limit)
	return q, true
}

func (c *SensorController) ListReadings(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	q, ok := c.query(ctx, p)
	if !ok {
		return
	}

	readings, err := c.readingRepo.List(ctx.Request.Context(), q)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if readings == nil {
		readings = []sfmmodels.Reading{}
	}
	ctx.JSON(http.StatusOK, readings)
}

func (c *SensorController) ExportReadings(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	q, ok := c.query(ctx, p)
	if !ok {
		return
	}

	readings, err := c.readingRepo.List(ctx.Request.Context(), q)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	data, err := BuildReadingsXLSX(readings)
	if err != nil {
		c.logger.Logger.Error().Err(err).Msg("failed to build readings export")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}

	filename := fmt.Sprintf("readings-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	ctx.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	ctx.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
