package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Database  DatabaseConfig
	Routes    RoutesConfig
	Ingest    IngestConfig
	Tracker   TrackerConfig
	Eta       EtaConfig
	Broadcast BroadcastConfig
	Store     StoreConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// RoutesConfig locates the route definition files.
type RoutesConfig struct {
	Directory string
}

// IngestConfig for the ping ingestion boundary.
type IngestConfig struct {
	NATSURL string
	Subject string
	// TimestampUnit declares the unit of ping timestamps at the source:
	// "ms" or "s". The unit is converted once at the boundary and never
	// inferred from the value.
	TimestampUnit string
	// Staleness is the maximum age of a ping relative to receipt time.
	Staleness  time.Duration
	BufferSize int
}

// TrackerConfig for the vehicle state store.
type TrackerConfig struct {
	// MinPingGap is the debounce gap between two accepted pings of the
	// same vehicle.
	MinPingGap          time.Duration
	ArrivalRadiusMeters float64
}

// EtaConfig tunes the prediction estimator.
type EtaConfig struct {
	MinSpeed          float64 // m/s
	MaxSpeed          float64 // m/s
	MinUpdateInterval time.Duration
	InitialCovariance float64
	ProcessNoise      float64
	MeasurementNoise  float64
}

// BroadcastConfig for the outbound transport.
type BroadcastConfig struct {
	NATSURL      string
	StateSubject string
	EtaSubject   string
}

// StoreConfig for the durable prediction/arrival log.
type StoreConfig struct {
	RetentionDays   int
	CleanupInterval time.Duration
}

type MetricsConfig struct {
	// Addr is the /metrics listen address; empty disables the server.
	Addr string
}

type LoggingConfig struct {
	Level    string
	FilePath string
}

func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "etaengine"),
		},
		Routes: RoutesConfig{
			Directory: getEnv("ROUTES_DIR", "routes"),
		},
		Ingest: IngestConfig{
			NATSURL:       getEnv("NATS_URL", "nats://127.0.0.1:4222"),
			Subject:       getEnv("INGEST_SUBJECT", "pings.>"),
			TimestampUnit: getEnv("INGEST_TIMESTAMP_UNIT", "ms"),
			Staleness:     getDurationEnv("INGEST_STALENESS", 2*time.Minute),
			BufferSize:    getIntEnv("INGEST_BUFFER_SIZE", 1000),
		},
		Tracker: TrackerConfig{
			MinPingGap:          getDurationEnv("MIN_PING_GAP", 3*time.Millisecond),
			ArrivalRadiusMeters: getFloatEnv("ARRIVAL_RADIUS_METERS", 50),
		},
		Eta: EtaConfig{
			MinSpeed:          getFloatEnv("ETA_MIN_SPEED", 0.5),
			MaxSpeed:          getFloatEnv("ETA_MAX_SPEED", 20),
			MinUpdateInterval: getDurationEnv("ETA_MIN_UPDATE_INTERVAL", 5*time.Second),
			InitialCovariance: getFloatEnv("ETA_INITIAL_COVARIANCE", 1),
			ProcessNoise:      getFloatEnv("ETA_PROCESS_NOISE", 0.5),
			MeasurementNoise:  getFloatEnv("ETA_MEASUREMENT_NOISE", 5),
		},
		Broadcast: BroadcastConfig{
			NATSURL:      getEnv("BROADCAST_NATS_URL", getEnv("NATS_URL", "nats://127.0.0.1:4222")),
			StateSubject: getEnv("BROADCAST_STATE_SUBJECT", "vehicles.state"),
			EtaSubject:   getEnv("BROADCAST_ETA_SUBJECT", "vehicles.eta"),
		},
		Store: StoreConfig{
			RetentionDays:   getIntEnv("STORE_RETENTION_DAYS", 14),
			CleanupInterval: getDurationEnv("STORE_CLEANUP_INTERVAL", 6*time.Hour),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", "etaengine.log"),
		},
	}

	if err := cfg.Ingest.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

func (c *DatabaseConfig) Validate() error {
	if c.Host == "" || c.Port == "" {
		return fmt.Errorf("database host and port are required")
	}
	if c.User == "" || c.DBName == "" {
		return fmt.Errorf("database user and name are required")
	}
	return nil
}

func (c *IngestConfig) Validate() error {
	switch c.TimestampUnit {
	case "ms", "s":
	default:
		return fmt.Errorf("invalid INGEST_TIMESTAMP_UNIT %q (want \"ms\" or \"s\")", c.TimestampUnit)
	}
	if c.Staleness <= 0 {
		return fmt.Errorf("INGEST_STALENESS must be positive")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("INGEST_BUFFER_SIZE must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
