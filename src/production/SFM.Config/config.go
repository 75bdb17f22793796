package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "change-this-secret-in-production"

// Config holds the API service configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Mongo      MongoConfig      `json:"mongo"`
	Influx     InfluxConfig     `json:"influx"`
	MQTT       MQTTConfig       `json:"mqtt"`
	Auth       AuthConfig       `json:"auth"`
	Logging    LoggingConfig    `json:"logging"`
	CORS       CORSConfig       `json:"cors"`
	Automation AutomationConfig `json:"automation"`
	Email      EmailConfig      `json:"email"`

	// Guards the control publisher
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`

	// Shared secret the ingestor presents on /internal routes
	InternalAPISecret string `json:"-"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig holds Postgres configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
	MinConns int    `json:"min_conns"`
}

// MongoConfig holds the reading store configuration
type MongoConfig struct {
	URI             string        `json:"uri"`
	Database        string        `json:"database"`
	ReadingsColl    string        `json:"readings_coll"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`
	EnforceTLS12Min bool          `json:"enforce_tls12_min"`
}

// InfluxConfig holds the optional reading mirror configuration. An empty URL disables it.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"-"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// Enabled reports whether the Influx mirror should be wired
func (c InfluxConfig) Enabled() bool {
	return c.URL != ""
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost     string        `json:"broker_host"`
	BrokerPort     int           `json:"broker_port"`
	BrokerUser     string        `json:"broker_user"`
	BrokerPass     string        `json:"broker_pass"`
	UseTLS         bool          `json:"use_tls"`
	CACertPath     string        `json:"ca_cert_path"`
	ClientID       string        `json:"client_id"`
	SharedGroup    string        `json:"shared_group"`
	QoS            byte          `json:"qos"`
	KeepAlive      time.Duration `json:"keep_alive"`
	PingTimeout    time.Duration `json:"ping_timeout"`
	PublishTimeout time.Duration `json:"publish_timeout"`
}

// AuthConfig holds authentication-related configuration
type AuthConfig struct {
	JWTSecretKey         string        `json:"jwt_secret_key"`
	JWTIssuer            string        `json:"jwt_issuer"`
	AccessTokenDuration  time.Duration `json:"access_token_duration"`
	RefreshTokenDuration time.Duration `json:"refresh_token_duration"`
	PasswordMinLength    int           `json:"password_min_length"`
	SecureCookies        bool          `json:"secure_cookies"`
	Admin                AdminConfig   `json:"admin"`
}

// AdminConfig holds admin user configuration
type AdminConfig struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout or stderr
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// AutomationConfig holds the background task settings of the core
type AutomationConfig struct {
	AutoProvisionOwnerID  string         `json:"auto_provision_owner_id"`
	OfflineTimeout        time.Duration  `json:"offline_timeout"`
	PresenceSweepInterval time.Duration  `json:"presence_sweep_interval"`
	SchedulerInterval     time.Duration  `json:"scheduler_interval"`
	SchedulerLocation     *time.Location `json:"-"`
	HubBufferSize         int            `json:"hub_buffer_size"`
}

// EmailConfig holds SMTP settings for alert notifications
type EmailConfig struct {
	User string `json:"user"`
	Pass string `json:"-"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Enabled mirrors the original behavior: both user and password are needed
func (c EmailConfig) Enabled() bool {
	return c.User != "" && c.Pass != ""
}

// BatchConfig holds batch processing configuration
type BatchConfig struct {
	Size   int           `json:"size"`
	Window time.Duration `json:"window"`
}

// CircuitBreakerConfig configures gobreaker instances
type CircuitBreakerConfig struct {
	MaxFailures int           `json:"max_failures"`
	OpenTimeout time.Duration `json:"open_timeout"`
	Interval    time.Duration `json:"interval"`
}

// RetryConfig configures exponential backoff retries
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
}

// IngestorConfig holds configuration for the MQTT Ingestor service
type IngestorConfig struct {
	Server            ServerConfig         `json:"server"`
	MQTT              MQTTConfig           `json:"mqtt"`
	Logging           LoggingConfig        `json:"logging"`
	Batch             BatchConfig          `json:"batch"`
	CircuitBreaker    CircuitBreakerConfig `json:"circuit_breaker"`
	Retry             RetryConfig          `json:"retry"`
	ApiServiceURL     string               `json:"api_service_url"`
	InternalAPISecret string               `json:"-"`
}

// LoadIngestorConfig loads configuration for the MQTT Ingestor service
func LoadIngestorConfig() (*IngestorConfig, error) {
	// .env is optional
	_ = godotenv.Load()

	config := &IngestorConfig{
		Server: ServerConfig{
			Port:         getEnv("INGESTOR_PORT", "9003"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		MQTT:    loadMQTT("farm-ingestor"),
		Logging: loadLogging(),
		Batch: BatchConfig{
			Size:   getInt("INGEST_BATCH_SIZE", 100),
			Window: getDuration("INGEST_BATCH_WINDOW", 250*time.Millisecond),
		},
		CircuitBreaker: loadCircuitBreaker(),
		Retry: RetryConfig{
			MaxAttempts:     getInt("RETRY_MAX_ATTEMPTS", 3),
			InitialInterval: getDuration("RETRY_INITIAL_INTERVAL", 500*time.Millisecond),
			MaxInterval:     getDuration("RETRY_MAX_INTERVAL", 5*time.Second),
		},
		ApiServiceURL:     getEnv("API_SERVICE_URL", "http://api-service:9002"),
		InternalAPISecret: getEnv("INTERNAL_API_SECRET", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// Validate validates the ingestor configuration
func (c *IngestorConfig) Validate() error {
	if c.ApiServiceURL == "" {
		return fmt.Errorf("API_SERVICE_URL is required")
	}
	if c.InternalAPISecret == "" {
		return fmt.Errorf("INTERNAL_API_SECRET is required")
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be positive")
	}
	if c.Batch.Window <= 0 {
		return fmt.Errorf("INGEST_BATCH_WINDOW must be positive")
	}
	return validateQoS(c.MQTT.QoS)
}

// LoadApiConfig loads configuration for the API service
func LoadApiConfig() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	location, err := time.LoadLocation(getEnv("SCHEDULER_TZ", "Local"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_TZ: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "9002"),
			ReadTimeout: getDuration("READ_TIMEOUT", 30*time.Second),
			// SSE streams stay open; zero disables the write deadline
			WriteTimeout: getDuration("WRITE_TIMEOUT", 0),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", ""),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "smartfarm"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: getInt("POSTGRES_MAX_CONNS", 25),
			MinConns: getInt("POSTGRES_MIN_CONNS", 5),
		},
		Mongo: MongoConfig{
			URI:             getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:        getEnv("MONGO_DB", "smartfarm"),
			ReadingsColl:    getEnv("MONGO_READINGS_COLL", "sensor_data"),
			ConnectTimeout:  getDuration("MONGO_CONNECT_TIMEOUT", 20*time.Second),
			EnforceTLS12Min: getBool("MONGO_TLS", false),
		},
		Influx: InfluxConfig{
			URL:    getEnv("INFLUX_URL", ""),
			Token:  getEnv("INFLUX_TOKEN", ""),
			Org:    getEnv("INFLUX_ORG", "smartfarm"),
			Bucket: getEnv("INFLUX_BUCKET", "telemetry"),
		},
		MQTT: loadMQTT("farm-api"),
		Auth: AuthConfig{
			JWTSecretKey:         getEnv("JWT_SECRET_KEY", defaultJWTSecret),
			JWTIssuer:            getEnv("JWT_ISSUER", "sfm-api-service"),
			AccessTokenDuration:  getDuration("JWT_ACCESS_TOKEN_DURATION", 15*time.Minute),
			RefreshTokenDuration: getDuration("JWT_REFRESH_TOKEN_DURATION", 7*24*time.Hour),
			PasswordMinLength:    getInt("PASSWORD_MIN_LENGTH", 8),
			SecureCookies:        getBool("COOKIE_SECURE", false),
			Admin: AdminConfig{
				Username: getEnv("ADMIN_USERNAME", "admin"),
				Email:    getEnv("ADMIN_EMAIL", "admin@example.com"),
				Password: getEnv("ADMIN_PASSWORD", "adminpassword123"),
			},
		},
		Logging: loadLogging(),
		CORS: CORSConfig{
			AllowedOrigins:   getStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
			AllowedMethods:   getStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization"}),
			ExposedHeaders:   getStringSlice("CORS_EXPOSED_HEADERS", []string{"Content-Length", "Content-Disposition"}),
			AllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getInt("CORS_MAX_AGE", 43200), // 12 hours
		},
		Automation: AutomationConfig{
			AutoProvisionOwnerID:  getEnv("AUTO_PROVISION_OWNER_ID", ""),
			OfflineTimeout:        time.Duration(getInt("OFFLINE_TIMEOUT_SEC", 90)) * time.Second,
			PresenceSweepInterval: getDuration("PRESENCE_SWEEP_INTERVAL", 30*time.Second),
			SchedulerInterval:     getDuration("SCHEDULER_INTERVAL", 30*time.Second),
			SchedulerLocation:     location,
			HubBufferSize:         getInt("HUB_BUFFER_SIZE", 16),
		},
		Email: EmailConfig{
			User: getEnv("EMAIL_USER", ""),
			Pass: getEnv("EMAIL_PASS", ""),
			Host: getEnv("EMAIL_HOST", "smtp.gmail.com"),
			Port: getInt("EMAIL_PORT", 587),
		},
		CircuitBreaker:    loadCircuitBreaker(),
		InternalAPISecret: getEnv("INTERNAL_API_SECRET", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.User == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if c.InternalAPISecret == "" {
		return fmt.Errorf("INTERNAL_API_SECRET is required")
	}
	if c.Auth.JWTSecretKey == defaultJWTSecret {
		log.Println("WARNING: Using default JWT secret key. Change JWT_SECRET_KEY in production!")
	}
	if c.Auth.PasswordMinLength < 6 {
		return fmt.Errorf("password minimum length must be at least 6")
	}
	if c.Automation.OfflineTimeout <= 0 {
		return fmt.Errorf("OFFLINE_TIMEOUT_SEC must be positive")
	}
	if c.Automation.PresenceSweepInterval <= 0 || c.Automation.SchedulerInterval <= 0 {
		return fmt.Errorf("presence and scheduler intervals must be positive")
	}
	if c.Automation.HubBufferSize <= 0 {
		return fmt.Errorf("HUB_BUFFER_SIZE must be positive")
	}
	return validateQoS(c.MQTT.QoS)
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// BrokerURL returns the MQTT broker URL
func (c MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerHost, c.BrokerPort)
}

func loadMQTT(defaultClientID string) MQTTConfig {
	return MQTTConfig{
		BrokerHost:     getEnv("BROKER_HOST", "localhost"),
		BrokerPort:     getInt("BROKER_PORT", 1883),
		BrokerUser:     getEnv("BROKER_USER", ""),
		BrokerPass:     getEnv("BROKER_PASS", ""),
		UseTLS:         getBool("BROKER_TLS", false),
		CACertPath:     getEnv("BROKER_CA_FILE", ""),
		ClientID:       getEnv("MQTT_CLIENT_ID", defaultClientID),
		SharedGroup:    getEnv("MQTT_SHARED_GROUP", ""),
		QoS:            byte(getInt("MQTT_QOS", 1)),
		KeepAlive:      getDuration("MQTT_KEEP_ALIVE", 30*time.Second),
		PingTimeout:    getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
		PublishTimeout: getDuration("MQTT_PUBLISH_TIMEOUT", 2*time.Second),
	}
}

func loadLogging() LoggingConfig {
	return LoggingConfig{
		Level:        getEnv("LOG_LEVEL", "info"),
		Format:       getEnv("LOG_FORMAT", "text"),
		Output:       getEnv("LOG_OUTPUT", "stdout"),
		EnableCaller: getBool("LOG_ENABLE_CALLER", false),
	}
}

func loadCircuitBreaker() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures: getInt("CB_MAX_FAILURES", 5),
		OpenTimeout: getDuration("CB_OPEN_TIMEOUT", 30*time.Second),
		Interval:    getDuration("CB_INTERVAL", 60*time.Second),
	}
}

func validateQoS(qos byte) error {
	if qos > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return intValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if value == "1" || value == "true" || value == "TRUE" {
		return true
	}
	if value == "0" || value == "false" || value == "FALSE" {
		return false
	}
	log.Fatalf("invalid %s: %q (expected true/false or 1/0)", key, value)
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return duration
}

func getStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
