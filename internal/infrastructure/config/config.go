package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Wattline Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device       DeviceConfig        `yaml:"device"`
	Database     DatabaseConfig      `yaml:"database"`
	Datalog      DatalogConfig       `yaml:"datalog"`
	Measurements []MeasurementConfig `yaml:"measurements"`
	Uploaders    UploadersConfig     `yaml:"uploaders"`
	MQTT         MQTTConfig          `yaml:"mqtt"`
	Logging      LoggingConfig       `yaml:"logging"`
}

// DeviceConfig identifies this monitoring device.
type DeviceConfig struct {
	// Name is the device's runtime identity. It is substituted for the
	// $device token in uploader device-name templates.
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// DatalogConfig contains settings for the local append-only measurement log.
type DatalogConfig struct {
	// Interval is the spacing, in seconds, between successive log records.
	Interval int `yaml:"interval"`

	// RetentionDays is how long records are kept before pruning. 0 disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// MeasurementConfig declares one exported measurement: the average rate
// of a datalog accumulator channel, reported under a sensor name and
// unit category.
type MeasurementConfig struct {
	// Sensor is the name the value is reported under.
	Sensor string `yaml:"sensor"`

	// Unit is the unit category's wire name ("Watts", "Amps", "PF",
	// "VA", "VAR", "Volts", "Hz").
	Unit string `yaml:"unit"`

	// Channel is the datalog accumulator the rate is derived from.
	Channel string `yaml:"channel"`

	// Precision is the number of decimal places in tabular output.
	Precision int `yaml:"precision"`

	// Scale multiplies the computed rate. 0 means 1.
	Scale float64 `yaml:"scale"`
}

// UploadersConfig groups the interchangeable upload backends.
type UploadersConfig struct {
	PostgREST PostgRESTConfig `yaml:"postgrest"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
}

// PostgRESTConfig contains settings for the PostgREST upload backend.
//
// The backend POSTs CSV batches to /[schema.]table and resumes after restart
// by querying the remote for the last row stored for this device.
type PostgRESTConfig struct {
	Enabled bool `yaml:"enabled"`

	// URL is the PostgREST server base URL (no trailing slash required).
	URL string `yaml:"url"`

	// Table is the target table name. Required when the backend is enabled.
	Table string `yaml:"table"`

	// Schema is the PostgreSQL schema. Empty or "public" omits the schema
	// prefix from the endpoint path.
	Schema string `yaml:"schema"`

	// DeviceName is a template for the device column value. Any literal
	// occurrence of $device is replaced with device.name at runtime.
	DeviceName string `yaml:"device_name"`

	// JWTToken, when set, is sent as an Authorization bearer token.
	JWTToken string `yaml:"jwt_token"`

	// Interval is the spacing, in seconds, between uploaded rows.
	// Must be a multiple of datalog.interval.
	Interval int `yaml:"interval"`

	// BulkSend is a multiplier controlling how many intervals' worth of
	// data are batched per upload attempt.
	BulkSend int `yaml:"bulk_send"`

	// BufferLimit bounds the CSV batch size in bytes.
	BufferLimit int `yaml:"buffer_limit"`

	// StartDate, when set ("YYYY-MM-DD"), is the earliest date data is
	// uploaded from regardless of what the local log retains.
	StartDate string `yaml:"start_date"`
}

// InfluxDBConfig contains settings for the InfluxDB upload backend.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	Measurement   string `yaml:"measurement"`
	Interval      int    `yaml:"interval"`
	BulkSend      int    `yaml:"bulk_send"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
	StartDate     string `yaml:"start_date"`
}

// MQTTConfig contains MQTT broker connection settings for status publishing.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: WATTLINE_SECTION_KEY
// For example: WATTLINE_DATABASE_PATH, WATTLINE_POSTGREST_JWT_TOKEN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Normalise fields whose zero value has a defined meaning
	cfg.normalise()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name: "wattline",
		},
		Database: DatabaseConfig{
			Path:        "./data/wattline.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Datalog: DatalogConfig{
			Interval:      5,
			RetentionDays: 365,
		},
		Uploaders: UploadersConfig{
			PostgREST: PostgRESTConfig{
				Schema:      "public",
				DeviceName:  "$device",
				Interval:    60,
				BulkSend:    1,
				BufferLimit: 4000,
			},
			InfluxDB: InfluxDBConfig{
				Measurement:   "wattline",
				Interval:      60,
				BulkSend:      1,
				BatchSize:     100,
				FlushInterval: 10,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "wattline-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WATTLINE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("WATTLINE_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}

	// Database
	if v := os.Getenv("WATTLINE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// PostgREST (secrets should come from the environment in production)
	if v := os.Getenv("WATTLINE_POSTGREST_URL"); v != "" {
		cfg.Uploaders.PostgREST.URL = v
	}
	if v := os.Getenv("WATTLINE_POSTGREST_JWT_TOKEN"); v != "" {
		cfg.Uploaders.PostgREST.JWTToken = v
	}

	// InfluxDB
	if v := os.Getenv("WATTLINE_INFLUXDB_TOKEN"); v != "" {
		cfg.Uploaders.InfluxDB.Token = v
	}

	// MQTT
	if v := os.Getenv("WATTLINE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WATTLINE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WATTLINE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
}

// normalise fixes up fields whose zero value has a defined meaning.
func (c *Config) normalise() {
	// An empty schema means the default schema.
	if strings.TrimSpace(c.Uploaders.PostgREST.Schema) == "" {
		c.Uploaders.PostgREST.Schema = "public"
	}
	if strings.TrimSpace(c.Uploaders.PostgREST.DeviceName) == "" {
		c.Uploaders.PostgREST.DeviceName = "$device"
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Name == "" {
		errs = append(errs, "device.name is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Datalog.Interval <= 0 {
		errs = append(errs, "datalog.interval must be positive")
	}
	if c.Datalog.RetentionDays < 0 {
		errs = append(errs, "datalog.retention_days cannot be negative")
	}

	for i, m := range c.Measurements {
		if m.Sensor == "" {
			errs = append(errs, fmt.Sprintf("measurements[%d].sensor is required", i))
		}
		if m.Unit == "" {
			errs = append(errs, fmt.Sprintf("measurements[%d].unit is required", i))
		}
		if m.Channel == "" {
			errs = append(errs, fmt.Sprintf("measurements[%d].channel is required", i))
		}
		if m.Precision < 0 {
			errs = append(errs, fmt.Sprintf("measurements[%d].precision cannot be negative", i))
		}
	}

	if c.Uploaders.PostgREST.Enabled {
		pg := c.Uploaders.PostgREST
		if pg.Table == "" {
			errs = append(errs, "uploaders.postgrest.table is required")
		}
		if pg.URL == "" {
			errs = append(errs, "uploaders.postgrest.url is required")
		}
		if pg.Interval <= 0 {
			errs = append(errs, "uploaders.postgrest.interval must be positive")
		} else if c.Datalog.Interval > 0 && pg.Interval%c.Datalog.Interval != 0 {
			errs = append(errs, "uploaders.postgrest.interval must be a multiple of datalog.interval")
		}
		if pg.BulkSend <= 0 {
			errs = append(errs, "uploaders.postgrest.bulk_send must be positive")
		}
		if pg.BufferLimit <= 0 {
			errs = append(errs, "uploaders.postgrest.buffer_limit must be positive")
		}
		if pg.StartDate != "" {
			if _, err := time.Parse("2006-01-02", pg.StartDate); err != nil {
				errs = append(errs, "uploaders.postgrest.start_date must be YYYY-MM-DD")
			}
		}
	}

	if c.Uploaders.InfluxDB.Enabled {
		ifx := c.Uploaders.InfluxDB
		if ifx.URL == "" {
			errs = append(errs, "uploaders.influxdb.url is required")
		}
		if ifx.Bucket == "" {
			errs = append(errs, "uploaders.influxdb.bucket is required")
		}
		if ifx.Interval <= 0 {
			errs = append(errs, "uploaders.influxdb.interval must be positive")
		}
		if ifx.StartDate != "" {
			if _, err := time.Parse("2006-01-02", ifx.StartDate); err != nil {
				errs = append(errs, "uploaders.influxdb.start_date must be YYYY-MM-DD")
			}
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
		if c.MQTT.Broker.Port <= 0 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// StartDateEpoch parses a "YYYY-MM-DD" start date into UTC epoch seconds.
// An empty string resolves to 0 (no configured cutoff).
func StartDateEpoch(date string) int64 {
	if date == "" {
		return 0
	}
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0
	}
	return t.Unix()
}
