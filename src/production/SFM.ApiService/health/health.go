package health

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	config "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// BrokerStatus is the part of the command publisher readiness looks at
type BrokerStatus interface {
	IsConnected() bool
	BreakerState() string
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	db     *sql.DB
	mongo  *mongo.Client
	broker BrokerStatus
}

// NewHealthChecker creates a new health checker. mongo and broker may be nil.
func NewHealthChecker(db *sql.DB, mongo *mongo.Client, broker BrokerStatus) *HealthChecker {
	return &HealthChecker{db: db, mongo: mongo, broker: broker}
}

// PingPostgres checks if the PostgreSQL connection is healthy
func (h *HealthChecker) PingPostgres(ctx context.Context) error {
	if h.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return h.db.PingContext(ctx)
}

// CheckDatabaseHealth pings and runs a trivial query
func (h *HealthChecker) CheckDatabaseHealth(ctx context.Context) error {
	if err := h.PingPostgres(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

// PingMongo checks the reading store
func (h *HealthChecker) PingMongo(ctx context.Context) error {
	if h.mongo == nil {
		return fmt.Errorf("mongo client is nil")
	}
	return h.mongo.Ping(ctx, readpref.Primary())
}

// GetHealthStatus returns per-dependency checks. Overall status is "ok" only
// when both stores answer; a disconnected broker degrades but does not fail
// readiness since commands are fire-and-forget.
func (h *HealthChecker) GetHealthStatus(ctx context.Context) (map[string]interface{}, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	checks := make(map[string]interface{})
	ready := true

	record := func(name string, err error) {
		if err != nil {
			ready = false
			checks[name] = map[string]interface{}{"status": "error", "error": err.Error()}
			return
		}
		checks[name] = map[string]interface{}{"status": "ok"}
	}
	record("postgres", h.CheckDatabaseHealth(ctx))
	record("mongo", h.PingMongo(ctx))

	overall := "ok"
	if h.broker != nil {
		mqttStatus := "ok"
		if !h.broker.IsConnected() {
			mqttStatus = "disconnected"
			overall = "degraded"
		}
		checks["mqtt"] = map[string]interface{}{
			"status":  mqttStatus,
			"breaker": h.broker.BreakerState(),
		}
	}
	if !ready {
		overall = "error"
	}

	return map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":    overall,
		"checks":    checks,
	}, ready
}

// DatabaseManager handles schema creation
type DatabaseManager struct {
	db *sql.DB
}

// NewDatabaseManager creates a new database manager
func NewDatabaseManager(db *sql.DB) *DatabaseManager {
	return &DatabaseManager{db: db}
}

// connectBackOff retries for at most timeout
func connectBackOff(ctx context.Context, timeout time.Duration) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = timeout
	return backoff.WithContext(bo, ctx)
}

// ConnectPostgresWithTimeout opens the pool and retries the first ping with
// exponential backoff until timeout.
func ConnectPostgresWithTimeout(cfg *config.Config, timeout time.Duration) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open PostgreSQL connection: %w", err)
	}

	ping := func() error {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		return db.PingContext(pingCtx)
	}
	if err := backoff.Retry(ping, connectBackOff(ctx, timeout)); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// ConnectMongoWithTimeout connects the reading store client and pings the primary
func ConnectMongoWithTimeout(cfg config.MongoConfig, timeout time.Duration) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("MONGODB_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)
	if cfg.EnforceTLS12Min {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	clientOptions.SetServerSelectionTimeout(connectTimeout)
	clientOptions.SetConnectTimeout(connectTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}

	ping := func() error {
		return client.Ping(ctx, readpref.Primary())
	}
	if err := backoff.Retry(ping, connectBackOff(ctx, timeout)); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}

	return client, nil
}

// schema is applied in order; later tables reference earlier ones
var schema = []struct {
	name  string
	query string
}{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			user_id     TEXT PRIMARY KEY,
			username    TEXT NOT NULL UNIQUE,
			email       TEXT NOT NULL UNIQUE,
			password    TEXT NOT NULL,
			role        TEXT NOT NULL,
			active      BOOLEAN NOT NULL DEFAULT true,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`},
	{"roles", `
		CREATE TABLE IF NOT EXISTS roles (
			role_id     TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`},
	{"devices", `
		CREATE TABLE IF NOT EXISTS devices (
			id                      TEXT PRIMARY KEY,
			external_id             TEXT UNIQUE,
			name                    TEXT NOT NULL,
			location                TEXT NOT NULL DEFAULT '',
			firmware_version        TEXT NOT NULL DEFAULT '',
			owner_id                TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
			status                  TEXT NOT NULL DEFAULT 'offline' CHECK (status IN ('online', 'offline')),
			last_seen_at            TIMESTAMPTZ,
			auto_fan_enabled        BOOLEAN NOT NULL DEFAULT false,
			auto_fan_threshold      DOUBLE PRECISION,
			auto_fan_hysteresis     DOUBLE PRECISION,
			last_fan_state          TEXT,
			last_fan_toggle_at      TIMESTAMPTZ,
			auto_pump_enabled       BOOLEAN NOT NULL DEFAULT false,
			auto_pump_threshold     DOUBLE PRECISION,
			auto_pump_hysteresis    DOUBLE PRECISION,
			last_pump_state         TEXT,
			last_pump_toggle_at     TIMESTAMPTZ,
			auto_light_enabled      BOOLEAN NOT NULL DEFAULT false,
			auto_light_threshold    DOUBLE PRECISION,
			auto_light_hysteresis   DOUBLE PRECISION,
			last_light_state        TEXT,
			last_light_toggle_at    TIMESTAMPTZ,
			min_toggle_interval_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_devices_owner ON devices(owner_id);
		CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status);
	`},
	{"commands", `
		CREATE TABLE IF NOT EXISTS commands (
			id          TEXT PRIMARY KEY,
			device_id   TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			user_id     TEXT,
			target      TEXT NOT NULL,
			action      TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			executed_at TIMESTAMPTZ,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_commands_device_status ON commands(device_id, status, created_at);
	`},
	{"schedules", `
		CREATE TABLE IF NOT EXISTS schedules (
			id          TEXT PRIMARY KEY,
			device_id   TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			user_id     TEXT,
			target      TEXT NOT NULL DEFAULT 'main',
			action      TEXT NOT NULL DEFAULT 'ON',
			at_time     TIMESTAMPTZ NOT NULL,
			repeat      TEXT NOT NULL DEFAULT 'daily',
			active      BOOLEAN NOT NULL DEFAULT true,
			last_run_at TIMESTAMPTZ,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`},
	{"alert_rules", `
		CREATE TABLE IF NOT EXISTS alert_rules (
			id                TEXT PRIMARY KEY,
			device_id         TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			metric            TEXT NOT NULL,
			min_threshold     DOUBLE PRECISION,
			max_threshold     DOUBLE PRECISION,
			enabled           BOOLEAN NOT NULL DEFAULT true,
			notification_type TEXT NOT NULL DEFAULT 'push',
			cooldown_minutes  INTEGER NOT NULL DEFAULT 1,
			last_alert_time   TIMESTAMPTZ,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (device_id, metric)
		);
	`},
	{"alerts", `
		CREATE TABLE IF NOT EXISTS alerts (
			id          TEXT PRIMARY KEY,
			device_id   TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			type        TEXT NOT NULL DEFAULT 'warning',
			message     TEXT NOT NULL,
			timestamp   TIMESTAMPTZ NOT NULL DEFAULT now(),
			read        BOOLEAN NOT NULL DEFAULT false,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_device ON alerts(device_id, timestamp DESC);
	`},
	{"system_logs", `
		CREATE TABLE IF NOT EXISTS system_logs (
			id        TEXT PRIMARY KEY,
			actor     TEXT NOT NULL,
			action    TEXT NOT NULL,
			details   TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_system_logs_ts ON system_logs(timestamp DESC);
	`},
}

// CreateTables creates the required tables if they don't exist
func (dm *DatabaseManager) CreateTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, table := range schema {
		if _, err := dm.db.ExecContext(ctx, table.query); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}
	return nil
}

// Close closes the database connection
func (dm *DatabaseManager) Close() error {
	if dm.db != nil {
		return dm.db.Close()
	}
	return nil
}
