package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Config holds the process configuration for the Roomer tracker agent
type Config struct {
	// MQTT configuration
	MQTTBroker   string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	MQTTClientID string

	// Redis configuration
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Postgres configuration (training capture)
	PostgresHost               string
	PostgresPort               int
	PostgresUser               string
	PostgresPassword           string
	PostgresDB                 string
	PostgresSSLMode            string
	PostgresMaxConnections     int
	PostgresMaxIdleConnections int
	PostgresConnMaxLifetime    time.Duration

	// Service configuration
	ServiceName string
	HealthPort  int
	LogLevel    string

	// Tracker configuration
	HouseConfigPath     string
	InferenceEndpoint   string
	ConfidenceThreshold float64
	TrainingEnabled     bool
	TrainingPersonID    string
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		MQTTBroker:   "localhost",
		MQTTPort:     1883,
		MQTTUser:     "",
		MQTTPassword: "",
		MQTTClientID: "",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		PostgresHost:               "localhost",
		PostgresPort:               5432,
		PostgresUser:               "roomer",
		PostgresPassword:           "",
		PostgresDB:                 "roomer",
		PostgresSSLMode:            "disable",
		PostgresMaxConnections:     10,
		PostgresMaxIdleConnections: 5,
		PostgresConnMaxLifetime:    30 * time.Minute,

		ServiceName: "tracker-agent",
		HealthPort:  8080,
		LogLevel:    "info",

		HouseConfigPath:     "etc/house.yaml",
		InferenceEndpoint:   "http://localhost:8501",
		ConfidenceThreshold: 0.9,
		TrainingEnabled:     false,
		TrainingPersonID:    "",
	}
}

// LoadFromEnv loads configuration from environment variables with ROOMER_ prefix
func (c *Config) LoadFromEnv() {
	// MQTT configuration
	if v := os.Getenv("ROOMER_MQTT_BROKER"); v != "" {
		c.MQTTBroker = v
	}
	if v := os.Getenv("ROOMER_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTTPort = port
		}
	}
	if v := os.Getenv("ROOMER_MQTT_USER"); v != "" {
		c.MQTTUser = v
	}
	if v := os.Getenv("ROOMER_MQTT_PASSWORD"); v != "" {
		c.MQTTPassword = v
	}
	if v := os.Getenv("ROOMER_MQTT_CLIENT_ID"); v != "" {
		c.MQTTClientID = v
	}

	// Redis configuration
	if v := os.Getenv("ROOMER_REDIS_HOST"); v != "" {
		c.RedisHost = v
	}
	if v := os.Getenv("ROOMER_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.RedisPort = port
		}
	}
	if v := os.Getenv("ROOMER_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("ROOMER_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.RedisDB = db
		}
	}

	// Postgres configuration
	if v := os.Getenv("ROOMER_POSTGRES_HOST"); v != "" {
		c.PostgresHost = v
	}
	if v := os.Getenv("ROOMER_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.PostgresPort = port
		}
	}
	if v := os.Getenv("ROOMER_POSTGRES_USER"); v != "" {
		c.PostgresUser = v
	}
	if v := os.Getenv("ROOMER_POSTGRES_PASSWORD"); v != "" {
		c.PostgresPassword = v
	}
	if v := os.Getenv("ROOMER_POSTGRES_DB"); v != "" {
		c.PostgresDB = v
	}
	if v := os.Getenv("ROOMER_POSTGRES_SSL_MODE"); v != "" {
		c.PostgresSSLMode = v
	}

	// Service configuration
	if v := os.Getenv("ROOMER_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("ROOMER_HEALTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HealthPort = port
		}
	}
	if v := os.Getenv("ROOMER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	// Tracker configuration
	if v := os.Getenv("ROOMER_HOUSE_CONFIG"); v != "" {
		c.HouseConfigPath = v
	}
	if v := os.Getenv("ROOMER_INFERENCE_ENDPOINT"); v != "" {
		c.InferenceEndpoint = v
	}
	if v := os.Getenv("ROOMER_CONFIDENCE_THRESHOLD"); v != "" {
		if threshold, err := strconv.ParseFloat(v, 64); err == nil {
			c.ConfidenceThreshold = threshold
		}
	}
	if v := os.Getenv("ROOMER_TRAINING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.TrainingEnabled = enabled
		}
	}
	if v := os.Getenv("ROOMER_TRAINING_PERSON_ID"); v != "" {
		c.TrainingPersonID = v
	}
}

// LoadFromFlags parses command-line flags and overrides config values
func (c *Config) LoadFromFlags() {
	// MQTT flags
	pflag.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker hostname")
	pflag.IntVar(&c.MQTTPort, "mqtt-port", c.MQTTPort, "MQTT broker port")
	pflag.StringVar(&c.MQTTUser, "mqtt-user", c.MQTTUser, "MQTT username")
	pflag.StringVar(&c.MQTTPassword, "mqtt-password", c.MQTTPassword, "MQTT password")
	pflag.StringVar(&c.MQTTClientID, "mqtt-client-id", c.MQTTClientID, "MQTT client ID")

	// Redis flags
	pflag.StringVar(&c.RedisHost, "redis-host", c.RedisHost, "Redis hostname")
	pflag.IntVar(&c.RedisPort, "redis-port", c.RedisPort, "Redis port")
	pflag.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	pflag.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")

	// Postgres flags
	pflag.StringVar(&c.PostgresHost, "postgres-host", c.PostgresHost, "Postgres hostname")
	pflag.IntVar(&c.PostgresPort, "postgres-port", c.PostgresPort, "Postgres port")
	pflag.StringVar(&c.PostgresUser, "postgres-user", c.PostgresUser, "Postgres username")
	pflag.StringVar(&c.PostgresPassword, "postgres-password", c.PostgresPassword, "Postgres password")
	pflag.StringVar(&c.PostgresDB, "postgres-db", c.PostgresDB, "Postgres database name")
	pflag.StringVar(&c.PostgresSSLMode, "postgres-ssl-mode", c.PostgresSSLMode, "Postgres SSL mode")

	// Service flags
	pflag.StringVar(&c.ServiceName, "service-name", c.ServiceName, "Service name")
	pflag.IntVar(&c.HealthPort, "health-port", c.HealthPort, "Health check HTTP port")
	pflag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")

	// Tracker flags
	pflag.StringVar(&c.HouseConfigPath, "house-config", c.HouseConfigPath, "Path to house configuration YAML")
	pflag.StringVar(&c.InferenceEndpoint, "inference-endpoint", c.InferenceEndpoint, "Room classifier service URL")
	pflag.Float64Var(&c.ConfidenceThreshold, "confidence-threshold", c.ConfidenceThreshold, "Classifier confidence required before a room commit")
	pflag.BoolVar(&c.TrainingEnabled, "training-enabled", c.TrainingEnabled, "Capture labeled training samples to Postgres")
	pflag.StringVar(&c.TrainingPersonID, "training-person-id", c.TrainingPersonID, "Person whose sensor vectors are captured in training mode")

	pflag.Parse()
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT broker is required")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("MQTT port must be between 1 and 65535")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("Redis host is required")
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		return fmt.Errorf("Redis port must be between 1 and 65535")
	}
	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("Health port must be between 1 and 65535")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("Service name is required")
	}
	if c.HouseConfigPath == "" {
		return fmt.Errorf("house configuration path is required")
	}
	if c.InferenceEndpoint == "" {
		return fmt.Errorf("inference endpoint is required")
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in (0, 1], got %v", c.ConfidenceThreshold)
	}
	if c.TrainingEnabled && c.TrainingPersonID == "" {
		return fmt.Errorf("training-person-id is required when training is enabled")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// MQTTAddress returns the full MQTT broker address
func (c *Config) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

// RedisAddress returns the full Redis address
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresConnectionString returns a lib/pq connection string
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword,
		c.PostgresDB, c.PostgresSSLMode)
}
