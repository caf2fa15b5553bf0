package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// DatabaseConfig selects and addresses the appointment store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
	Name   string `yaml:"name"`
}

// RedisConfig enables cross-instance booking locks when Address is set.
type RedisConfig struct {
	Address        string `yaml:"address"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

type HTTPConfig struct {
	Port           int     `yaml:"port"`
	APIKey         string  `yaml:"api_key"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type BookingConfig struct {
	Timezone            string `yaml:"timezone"`
	RetryAttempts       int    `yaml:"retry_attempts"`
	StoreTimeoutSeconds int    `yaml:"store_timeout_seconds"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	HTTP       HTTPConfig       `yaml:"http"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Backup     BackupConfig     `yaml:"backup"`
	Booking    BookingConfig    `yaml:"booking"`
	Logging    LoggingConfig    `yaml:"logging"`
	StaffPath  string           `yaml:"staff_path"`
}

// Load reads the YAML config at path, expanding ${ENV_VAR} placeholders.
// A .env file next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	// Missing .env is normal outside development.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if cfg.Database.Driver == DriverSQLite {
		if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/appointly.db"
	}
	if c.Database.Name == "" {
		c.Database.Name = "appointly"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.RateLimitRPS == 0 {
		c.HTTP.RateLimitRPS = 50
	}
	if c.HTTP.RateLimitBurst == 0 {
		c.HTTP.RateLimitBurst = 100
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "Local"
	}
	if c.Booking.RetryAttempts <= 0 {
		c.Booking.RetryAttempts = 3
	}
	if c.Booking.StoreTimeoutSeconds <= 0 {
		c.Booking.StoreTimeoutSeconds = 5
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "backups"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.StaffPath == "" {
		c.StaffPath = "configs/staff.yaml"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres, DriverMongo:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}

	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("booking.timezone: %w", err)
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port: invalid port %d", c.HTTP.Port)
	}
	if c.Backup.Enabled && c.Database.Driver != DriverSQLite {
		return fmt.Errorf("backup is only supported for the sqlite driver")
	}
	return nil
}

// Location returns the configured booking zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Booking.StoreTimeoutSeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	if c.Redis.LockTTLSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Redis.LockTTLSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
