package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	container "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Container"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.IngestorService/client"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.IngestorService/ingestor"
	metrics "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Metrics"
)

func main() {
	ctr, err := container.NewIngestorContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting MQTT Ingestor Service")

	config := ctr.GetConfig()
	apiClient := client.NewAPIClient(config, logger)

	ing, err := ingestor.New(config, apiClient, logger)
	if err != nil {
		logger.FatalWithError(err, "Failed to create MQTT ingestor")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ing.Start(ctx); err != nil {
		logger.FatalWithError(err, "Failed to start MQTT ingestor")
	}
	defer ing.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), metrics.GinMiddleware())
	router.GET("/health", healthHandler(ing, apiClient))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:         ":" + config.Server.Port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}
	go func() {
		logger.Info("Health server starting on port " + config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.FatalWithError(err, "Failed to start health server")
		}
	}()

	logger.Info("MQTT ingestor running... press Ctrl+C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Health server shutdown failed")
	}
}

// healthHandler reports broker connectivity, API reachability and breaker state
func healthHandler(ing *ingestor.Ingestor, apiClient *client.APIClient) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
		defer cancel()

		mqttStatus := "disconnected"
		if ing.IsConnected() {
			mqttStatus = "connected"
		}
		apiStatus := "disconnected"
		if err := apiClient.Health(checkCtx); err == nil {
			apiStatus = "connected"
		}

		status, code := "healthy", http.StatusOK
		if mqttStatus != "connected" || apiStatus != "connected" {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}

		ctx.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"services": gin.H{
				"mqtt":        mqttStatus,
				"api_service": apiStatus,
			},
			"circuit_breaker": apiClient.BreakerStatus(),
		})
	}
}
