package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	alerts "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Alerts"
	"gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.ApiService/health"
	automation "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Automation"
	config "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Config"
	hub "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Hub"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	metrics "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Metrics"
	presence "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Presence"
	processor "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Processor"
	publisher "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Publisher"
	repositories "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
	scheduler "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Scheduler"
	"go.mongodb.org/mongo-driver/mongo"
)

const connectTimeout = 20 * time.Second

// Repositories groups the stores the API service runs against
type Repositories struct {
	Users      interfaces.UserRepository
	Roles      interfaces.RoleRepository
	Devices    interfaces.DeviceRepository
	Readings   interfaces.ReadingRepository
	Commands   interfaces.CommandRepository
	Schedules  interfaces.ScheduleRepository
	AlertRules interfaces.AlertRuleRepository
	Alerts     interfaces.AlertRepository
	Logs       interfaces.SystemLogRepository
}

// Container manages dependencies and their lifecycle
type Container struct {
	config *config.Config
	logger *logger.Logger
	db     *sql.DB
	mongo  *mongo.Client

	healthChecker   *health.HealthChecker
	databaseManager *health.DatabaseManager

	repos     *Repositories
	publisher *publisher.MQTTPublisher
	hub       *hub.Hub
	processor *processor.Processor
	tracker   *presence.Tracker
	scheduler *scheduler.Runner

	mu           sync.Mutex
	cleanupFuncs []func() error
}

// ApiContainer manages dependencies for the API service
type ApiContainer struct {
	*Container
}

// IngestorContainer manages dependencies for the MQTT Ingestor service
type IngestorContainer struct {
	config *config.IngestorConfig
	logger *logger.Logger
}

// NewApiContainer loads configuration and the logger. Nothing is connected
// until Initialize.
func NewApiContainer() (*ApiContainer, error) {
	cfg, err := config.LoadApiConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load API configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging).WithService("api-service")
	metrics.Init()

	return &ApiContainer{Container: &Container{config: cfg, logger: log}}, nil
}

// NewIngestorContainer creates a new container for the MQTT Ingestor service
func NewIngestorContainer() (*IngestorContainer, error) {
	cfg, err := config.LoadIngestorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load ingestor configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging).WithService("mqtt-ingestor")
	metrics.Init()

	return &IngestorContainer{config: cfg, logger: log}, nil
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetConfig returns the ingestor configuration
func (c *IngestorContainer) GetConfig() *config.IngestorConfig {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetLogger returns the logger
func (c *IngestorContainer) GetLogger() *logger.Logger {
	return c.logger
}

// GetDatabase returns the Postgres pool, connecting on first use
func (c *Container) GetDatabase() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		db, err := health.ConnectPostgresWithTimeout(c.config, connectTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.db = db
		c.cleanupFuncs = append(c.cleanupFuncs, db.Close)
	}
	return c.db, nil
}

// GetMongo returns the reading store client, connecting on first use
func (c *Container) GetMongo() (*mongo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mongo == nil {
		client, err := health.ConnectMongoWithTimeout(c.config.Mongo, connectTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		c.mongo = client
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		})
	}
	return c.mongo, nil
}

// InitializeDatabase connects both stores and creates tables and indexes
func (c *Container) InitializeDatabase(ctx context.Context) error {
	db, err := c.GetDatabase()
	if err != nil {
		return err
	}
	client, err := c.GetMongo()
	if err != nil {
		return err
	}

	c.databaseManager = health.NewDatabaseManager(db)
	if err := c.databaseManager.CreateTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	readings := repositories.NewMongoReadingRepository(
		client.Database(c.config.Mongo.Database).Collection(c.config.Mongo.ReadingsColl))
	if err := readings.EnsureIndexes(ctx); err != nil {
		c.logger.Logger.Warn().Err(err).Msg("failed to ensure reading indexes")
	}

	c.repos = &Repositories{
		Users:      repositories.NewPostgresUserRepository(db),
		Roles:      repositories.NewPostgresRoleRepository(db),
		Devices:    repositories.NewPostgresDeviceRepository(db),
		Readings:   readings,
		Commands:   repositories.NewPostgresCommandRepository(db),
		Schedules:  repositories.NewPostgresScheduleRepository(db),
		AlertRules: repositories.NewPostgresAlertRuleRepository(db),
		Alerts:     repositories.NewPostgresAlertRepository(db),
		Logs:       repositories.NewPostgresSystemLogRepository(db),
	}

	if influx := c.config.Influx; influx.Enabled() {
		mirror := repositories.NewInfluxReadingMirror(influx.URL, influx.Token, influx.Org, influx.Bucket)
		c.repos.Readings = repositories.NewMirroredReadingRepository(readings, mirror, c.logger)
		c.AddCleanupFunc(func() error {
			mirror.Close()
			return nil
		})
		c.logger.Logger.Info().Str("url", influx.URL).Str("bucket", influx.Bucket).Msg("influx reading mirror enabled")
	}

	c.logger.Info("Database initialized successfully")
	return nil
}

// InitializeCore builds the publisher, hub, processor and background
// workers. InitializeDatabase must have run.
func (c *Container) InitializeCore() error {
	if c.repos == nil {
		return fmt.Errorf("database not initialized")
	}

	pub, err := publisher.NewMQTTPublisher(c.config.MQTT, c.config.CircuitBreaker, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create command publisher: %w", err)
	}
	c.publisher = pub

	auto := c.config.Automation
	c.hub = hub.New(auto.HubBufferSize, c.logger)

	notifier := alerts.NewEmailNotifier(c.config.Email)
	if !notifier.Enabled() {
		c.logger.Warn("email not configured, alert emails disabled")
	}
	evaluator := alerts.NewEvaluator(c.repos.AlertRules, c.repos.Alerts, c.repos.Users, notifier, c.logger)

	c.processor = processor.New(processor.Options{
		Devices:              c.repos.Devices,
		Readings:             c.repos.Readings,
		Commands:             c.repos.Commands,
		Logs:                 c.repos.Logs,
		Events:               c.hub,
		Engine:               automation.NewEngine(c.repos.Devices, pub, c.logger),
		Alerts:               evaluator,
		AutoProvisionOwnerID: auto.AutoProvisionOwnerID,
	}, c.logger)

	c.tracker = presence.NewTracker(c.repos.Devices, c.hub, c.processor.Locks(), presence.SystemClock{},
		auto.OfflineTimeout, auto.PresenceSweepInterval, c.logger)
	c.scheduler = scheduler.NewRunner(c.repos.Schedules, c.repos.Devices, pub, c.repos.Logs,
		auto.SchedulerLocation, auto.SchedulerInterval, c.logger)

	c.healthChecker = health.NewHealthChecker(c.db, c.mongo, pub)

	// Registered after the stores so they run first on shutdown
	c.AddCleanupFunc(pub.Close)
	c.AddCleanupFunc(func() error {
		c.hub.Close()
		return nil
	})
	c.AddCleanupFunc(func() error {
		c.processor.Wait()
		return nil
	})
	return nil
}

// StartBackground connects the publisher and starts the presence sweep and
// the schedule runner. All stop when ctx is cancelled.
func (c *Container) StartBackground(ctx context.Context) {
	go func() {
		if err := c.publisher.Connect(ctx); err != nil {
			c.logger.ErrorWithError(err, "command publisher never connected")
		}
	}()
	go c.tracker.Run(ctx)
	go c.scheduler.Run(ctx)
}

// Repositories returns the stores built by InitializeDatabase
func (c *Container) Repositories() *Repositories { return c.repos }

func (c *Container) Publisher() *publisher.MQTTPublisher { return c.publisher }

func (c *Container) Hub() *hub.Hub { return c.hub }

func (c *Container) Processor() *processor.Processor { return c.processor }

// GetHealthChecker returns the health checker
func (c *Container) GetHealthChecker() *health.HealthChecker {
	return c.healthChecker
}

// HealthCheck performs a comprehensive health check
func (c *Container) HealthCheck(ctx context.Context) map[string]interface{} {
	if c.healthChecker == nil {
		return map[string]interface{}{"status": "error", "error": "not initialized"}
	}
	status, _ := c.healthChecker.GetHealthStatus(ctx)
	return status
}

// Shutdown runs cleanup functions in reverse registration order
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}

// Shutdown gracefully shuts down the ingestor container
func (c *IngestorContainer) Shutdown(ctx context.Context) error {
	c.logger.Info("Ingestor container shutdown complete")
	return nil
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
