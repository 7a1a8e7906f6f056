// Package config loads the journal worker configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the journal worker.
type Config struct {
	// Version is the application version
	Version string

	// Environment is the deployment environment (development, staging, production)
	Environment string

	// LogLevel is one of debug, info, warn or error
	LogLevel string

	// Database is the Postgres database holding checkpoints, the event
	// buffer and the dead-letter queue
	Database DatabaseConfig

	Journal JournalConfig
	Host    HostConfig
	Catalog CatalogConfig

	// CDC configuration
	CDC CDCConfig

	// Metrics configuration
	Metrics MetricsConfig
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string

	// SSLMode is the SSL mode (disable, require, verify-ca, verify-full)
	SSLMode string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the database connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode,
	)
}

// JournalConfig selects the journal and the entries to capture.
type JournalConfig struct {
	// SourceName identifies the source in checkpoints, events and metrics
	SourceName string

	// Library and Name identify the journal, such as APPLIB/QSQJRN
	Library string
	Name    string

	// MaxEntries caps the entries covered by one retrieval
	MaxEntries int

	// BufferSize is the retrieval buffer size in bytes
	BufferSize int

	// JournalCodes and EntryTypes restrict the entries retrieved
	JournalCodes []string
	EntryTypes   []string

	// Tables lists SCHEMA.TABLE names to capture; empty captures every
	// table journaled to the journal
	Tables []string

	// AllowChainBreak resumes at the oldest reliable receiver when the
	// position was cut off by a receiver chain break
	AllowChainBreak bool

	// FailOnBufferTooSmall stops instead of skipping an entry that does
	// not fit the buffer
	FailOnBufferTooSmall bool

	// ResetOnReceiverLoss restarts from the beginning of the journal when
	// the recorded receiver is gone
	ResetOnReceiverLoss bool

	// PollInterval is the wait between retrievals at the end of the journal
	PollInterval time.Duration

	// DefaultCCSID decodes text columns without a CCSID
	DefaultCCSID int

	// Timezone interprets date, time and timestamp columns
	Timezone string
}

// HostConfig holds the program call gateway configuration.
type HostConfig struct {
	// GatewayURL is the base URL of the program call gateway
	GatewayURL string

	// Token is an optional bearer token for the gateway
	Token string

	// Timeout bounds a single program call
	Timeout time.Duration

	// InfoBufferSize and MaxInfoBufferSize bound the journal information
	// buffer used to list receivers
	InfoBufferSize    int
	MaxInfoBufferSize int
}

// CatalogConfig holds the connection to the host's SQL catalog.
type CatalogConfig struct {
	// Driver is the database/sql driver name registered by the deployment
	Driver string

	// DSN is the driver specific connection string
	DSN string

	// Database is the relational database name that qualifies tables
	Database string
}

// CDCConfig holds CDC pipeline configuration.
type CDCConfig struct {
	Checkpoint   CheckpointConfig
	Buffer       BufferConfig
	Retry        RetryConfig
	DeadLetter   DeadLetterConfig
	Health       HealthConfig
	Backpressure BackpressureConfig
}

// CheckpointConfig holds checkpointing configuration.
type CheckpointConfig struct {
	// Enabled enables checkpointing
	Enabled bool

	// Interval is the interval between checkpoints
	Interval time.Duration
}

// BufferConfig holds buffer database configuration.
type BufferConfig struct {
	// Enabled enables event buffering
	Enabled bool

	// Retention is how long to keep processed events before cleanup
	Retention time.Duration

	// CleanupSchedule is the cron schedule of the cleanup job
	CleanupSchedule string
}

// RetryConfig holds retry policy configuration.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DeadLetterConfig holds dead-letter queue configuration.
type DeadLetterConfig struct {
	// Enabled enables the dead-letter queue
	Enabled bool

	// Retention is how long to keep undecodable entries
	Retention time.Duration

	// CleanupSchedule is the cron schedule of the cleanup job
	CleanupSchedule string
}

// HealthConfig holds health check configuration.
type HealthConfig struct {
	// Enabled enables health check endpoints
	Enabled bool

	// ListenAddr is the address for health check endpoints
	ListenAddr string

	// ReadinessTimeout bounds each health check
	ReadinessTimeout time.Duration

	// MaxFetchAge is how long the journal may go without a completed
	// retrieval before the source is reported degraded
	MaxFetchAge time.Duration
}

// BackpressureConfig holds backpressure configuration.
type BackpressureConfig struct {
	// Enabled enables backpressure handling
	Enabled bool

	// HighWatermark is the buffer size threshold to trigger pause
	HighWatermark int

	// LowWatermark is the buffer size threshold to resume processing
	LowWatermark int

	// CheckInterval is how often to check buffer size
	CheckInterval time.Duration
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables the metrics endpoint
	Enabled bool

	// ListenAddr is the address for the metrics endpoint
	ListenAddr string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Version:     getEnv("PHILOTES_VERSION", "0.1.0"),
		Environment: getEnv("PHILOTES_ENV", "development"),
		LogLevel:    getEnv("PHILOTES_LOG_LEVEL", "info"),

		Database: DatabaseConfig{
			Host:            getEnv("PHILOTES_DB_HOST", "localhost"),
			Port:            getIntEnv("PHILOTES_DB_PORT", 5432),
			Name:            getEnv("PHILOTES_DB_NAME", "philotes"),
			User:            getEnv("PHILOTES_DB_USER", "philotes"),
			Password:        getEnv("PHILOTES_DB_PASSWORD", "philotes"),
			SSLMode:         getEnv("PHILOTES_DB_SSLMODE", "disable"),
			MaxOpenConns:    getIntEnv("PHILOTES_DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("PHILOTES_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("PHILOTES_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},

		Journal: JournalConfig{
			SourceName:           getEnv("PHILOTES_JOURNAL_SOURCE_NAME", "ibmi"),
			Library:              strings.ToUpper(getEnv("PHILOTES_JOURNAL_LIBRARY", "")),
			Name:                 strings.ToUpper(getEnv("PHILOTES_JOURNAL_NAME", "QSQJRN")),
			MaxEntries:           getIntEnv("PHILOTES_JOURNAL_MAX_ENTRIES", 10000),
			BufferSize:           getIntEnv("PHILOTES_JOURNAL_BUFFER_SIZE", 4*1024*1024),
			JournalCodes:         getSliceEnv("PHILOTES_JOURNAL_CODES", []string{"C", "D", "F", "R"}),
			EntryTypes:           getSliceEnv("PHILOTES_JOURNAL_ENTRY_TYPES", nil),
			Tables:               getSliceEnv("PHILOTES_JOURNAL_TABLES", nil),
			AllowChainBreak:      getBoolEnv("PHILOTES_JOURNAL_ALLOW_CHAIN_BREAK", false),
			FailOnBufferTooSmall: getBoolEnv("PHILOTES_JOURNAL_FAIL_ON_BUFFER_TOO_SMALL", false),
			ResetOnReceiverLoss:  getBoolEnv("PHILOTES_JOURNAL_RESET_ON_RECEIVER_LOSS", false),
			PollInterval:         getDurationEnv("PHILOTES_JOURNAL_POLL_INTERVAL", 5*time.Second),
			DefaultCCSID:         getIntEnv("PHILOTES_JOURNAL_DEFAULT_CCSID", 37),
			Timezone:             getEnv("PHILOTES_JOURNAL_TIMEZONE", "UTC"),
		},

		Host: HostConfig{
			GatewayURL:        getEnv("PHILOTES_HOST_GATEWAY_URL", "http://localhost:8090"),
			Token:             getEnv("PHILOTES_HOST_TOKEN", ""),
			Timeout:           getDurationEnv("PHILOTES_HOST_TIMEOUT", 30*time.Second),
			InfoBufferSize:    getIntEnv("PHILOTES_HOST_INFO_BUFFER_SIZE", 64*1024),
			MaxInfoBufferSize: getIntEnv("PHILOTES_HOST_MAX_INFO_BUFFER_SIZE", 16*1024*1024),
		},

		Catalog: CatalogConfig{
			Driver:   getEnv("PHILOTES_CATALOG_DRIVER", "odbc"),
			DSN:      getEnv("PHILOTES_CATALOG_DSN", ""),
			Database: getEnv("PHILOTES_CATALOG_DATABASE", ""),
		},

		CDC: CDCConfig{
			Checkpoint: CheckpointConfig{
				Enabled:  getBoolEnv("PHILOTES_CDC_CHECKPOINT_ENABLED", true),
				Interval: getDurationEnv("PHILOTES_CDC_CHECKPOINT_INTERVAL", 10*time.Second),
			},
			Buffer: BufferConfig{
				Enabled:         getBoolEnv("PHILOTES_BUFFER_ENABLED", true),
				Retention:       getDurationEnv("PHILOTES_BUFFER_RETENTION", 168*time.Hour), // 7 days
				CleanupSchedule: getEnv("PHILOTES_BUFFER_CLEANUP_SCHEDULE", "@hourly"),
			},
			Retry: RetryConfig{
				MaxAttempts:     getIntEnv("PHILOTES_RETRY_MAX_ATTEMPTS", 3),
				InitialInterval: getDurationEnv("PHILOTES_RETRY_INITIAL_INTERVAL", time.Second),
				MaxInterval:     getDurationEnv("PHILOTES_RETRY_MAX_INTERVAL", 30*time.Second),
				Multiplier:      getFloatEnv("PHILOTES_RETRY_MULTIPLIER", 2.0),
			},
			DeadLetter: DeadLetterConfig{
				Enabled:         getBoolEnv("PHILOTES_DLQ_ENABLED", true),
				Retention:       getDurationEnv("PHILOTES_DLQ_RETENTION", 168*time.Hour), // 7 days
				CleanupSchedule: getEnv("PHILOTES_DLQ_CLEANUP_SCHEDULE", "@daily"),
			},
			Health: HealthConfig{
				Enabled:          getBoolEnv("PHILOTES_HEALTH_ENABLED", true),
				ListenAddr:       getEnv("PHILOTES_HEALTH_LISTEN_ADDR", ":8081"),
				ReadinessTimeout: getDurationEnv("PHILOTES_HEALTH_READINESS_TIMEOUT", 5*time.Second),
				MaxFetchAge:      getDurationEnv("PHILOTES_HEALTH_MAX_FETCH_AGE", 2*time.Minute),
			},
			Backpressure: BackpressureConfig{
				Enabled:       getBoolEnv("PHILOTES_BACKPRESSURE_ENABLED", true),
				HighWatermark: getIntEnv("PHILOTES_BACKPRESSURE_HIGH_WATERMARK", 8000),
				LowWatermark:  getIntEnv("PHILOTES_BACKPRESSURE_LOW_WATERMARK", 5000),
				CheckInterval: getDurationEnv("PHILOTES_BACKPRESSURE_CHECK_INTERVAL", time.Second),
			},
		},

		Metrics: MetricsConfig{
			Enabled:    getBoolEnv("PHILOTES_METRICS_ENABLED", true),
			ListenAddr: getEnv("PHILOTES_METRICS_LISTEN_ADDR", ":9090"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var (
	// ErrMissingJournal is returned when no journal library is configured.
	ErrMissingJournal = errors.New("config: PHILOTES_JOURNAL_LIBRARY is required")

	// ErrInvalidValue is returned for settings outside their allowed range.
	ErrInvalidValue = errors.New("config: invalid value")
)

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Journal.Library == "" || c.Journal.Name == "" {
		return ErrMissingJournal
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Journal.MaxEntries <= 0 {
		return fmt.Errorf("%w: PHILOTES_JOURNAL_MAX_ENTRIES must be positive", ErrInvalidValue)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: PHILOTES_LOG_LEVEL %q", ErrInvalidValue, c.LogLevel)
	}
	return level, nil
}

// Location returns the time zone of date and time columns.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Journal.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: PHILOTES_JOURNAL_TIMEZONE: %v", ErrInvalidValue, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
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

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		if parts := splitAndTrim(value, ","); len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	var parts []string
	for _, p := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
