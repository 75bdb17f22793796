package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/controllers"
	container "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Container"
	metrics "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Metrics"

	// Auth imports
	authService "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/auth"
	jwt "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/jwt"
	rbac "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/implementation/rbac"
	authMiddleware "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/middleware"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewApiContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting API Service")

	// Initialize database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ctr.InitializeDatabase(ctx); err != nil {
		logger.FatalWithError(err, "Failed to initialize database")
	}
	if err := ctr.InitializeCore(); err != nil {
		logger.FatalWithError(err, "Failed to initialize automation core")
	}

	repos := ctr.Repositories()
	config := ctr.GetConfig()

	jwtService := jwt.NewService(config.Auth)
	rbacService := rbac.NewService()
	authMiddlewareInstance := authMiddleware.NewAuthMiddleware(jwtService, rbac.NewAuthorizer(rbacService), authMiddleware.DefaultConfig())

	// Initialize auth services
	authServiceInstance := authService.NewAuthService(repos.Users, jwtService, rbacService, config.Auth.PasswordMinLength)
	userServiceInstance := authService.NewUserService(repos.Users, rbacService)

	// Initialize roles and admin user
	roleInitializer := authService.NewRoleInitializerService(repos.Roles, repos.Users, rbacService, logger, config.Auth.Admin)
	if err := roleInitializer.InitializeRoles(ctx); err != nil {
		logger.FatalWithError(err, "Failed to initialize roles")
	}
	if err := roleInitializer.InitializeAdminUser(ctx); err != nil {
		logger.FatalWithError(err, "Failed to initialize admin user")
	}

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(metrics.GinMiddleware())

	// Configure CORS from config
	corsConfig := cors.Config{
		AllowOrigins:     config.CORS.AllowedOrigins,
		AllowMethods:     config.CORS.AllowedMethods,
		AllowHeaders:     config.CORS.AllowedHeaders,
		ExposeHeaders:    config.CORS.ExposedHeaders,
		AllowCredentials: config.CORS.AllowCredentials,
		MaxAge:           time.Duration(config.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	proc := ctr.Processor()

	// Create controllers and register routes
	routes := []interface{ RegisterRoutes(*gin.Engine) }{
		controllers.NewAuthController(authServiceInstance, authMiddlewareInstance, config.Auth.SecureCookies),
		controllers.NewUserController(userServiceInstance, authMiddlewareInstance),
		controllers.NewDeviceController(repos.Devices, repos.Readings, repos.Logs, proc.Locks(), logger, authMiddlewareInstance),
		controllers.NewSensorController(repos.Devices, repos.Readings, proc, logger, authMiddlewareInstance),
		controllers.NewCommandController(repos.Devices, repos.Commands, repos.Logs, ctr.Publisher(), logger, authMiddlewareInstance),
		controllers.NewScheduleController(repos.Devices, repos.Schedules, authMiddlewareInstance),
		controllers.NewAlertRuleController(repos.Devices, repos.AlertRules, authMiddlewareInstance),
		controllers.NewAlertController(repos.Devices, repos.Alerts, authMiddlewareInstance),
		controllers.NewLogController(repos.Logs, authMiddlewareInstance),
		controllers.NewStreamController(repos.Devices, ctr.Hub(), logger, authMiddlewareInstance),
		controllers.NewHealthController(ctr.GetHealthChecker()),
		controllers.NewInternalController(proc, config.InternalAPISecret, logger),
	}
	for _, r := range routes {
		r.RegisterRoutes(router)
	}

	// Background workers stop with this context
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	ctr.StartBackground(bgCtx)

	port := config.Server.Port

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("HTTP server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start HTTP server")
		}
	}()

	logger.Info("API service running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")
	stopBackground()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}
}
