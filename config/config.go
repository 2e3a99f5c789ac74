// Package config provides unified configuration loading for swarmflow.
// Precedence: coded defaults, then YAML file, then environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the complete swarmflow configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Swarm     SwarmConfig     `yaml:"swarm"`
}

// ServerConfig configures the health/metrics HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the durable relational store.
type DatabaseConfig struct {
	// Driver is one of postgres, mysql, sqlite.
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	// Path is the database file for the sqlite driver.
	Path string `yaml:"path"`
}

// DSN builds the driver-specific connection string.
func (c DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.Name)
	case "sqlite":
		return c.Path
	}
	return ""
}

// RedisConfig configures the agent snapshot cache and the optional redis
// event publisher.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DefaultTTL   time.Duration `yaml:"default_ttl"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	EventChannel string        `yaml:"event_channel"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`
}

// TelemetryConfig configures the optional OpenTelemetry exporters.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Insecure    bool    `yaml:"insecure"`
}

// SwarmConfig tunes the coordination services.
type SwarmConfig struct {
	// SweepInterval is the period of the expiry sweep. Callers tolerate
	// staleness bounded by this interval.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// HandoffExpiry is the age after which a pending handoff expires.
	HandoffExpiry time.Duration `yaml:"handoff_expiry"`
	// DistributionLimit bounds concurrent generation calls per distribution.
	DistributionLimit int `yaml:"distribution_limit"`
	// BroadcastRate limits broadcast fan-out, in notifications per second.
	BroadcastRate  float64 `yaml:"broadcast_rate"`
	BroadcastBurst int     `yaml:"broadcast_burst"`
	// SnapshotTTL is the TTL of cached agent snapshots.
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

// Default returns the coded default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":9090",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Path:    "swarmflow.db",
			SSLMode: "disable",
			Port:    5432,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DefaultTTL:   5 * time.Minute,
			PoolSize:     10,
			MinIdleConns: 2,
			EventChannel: "swarmflow:events",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "swarmflow",
			SampleRatio: 1.0,
			Insecure:    true,
		},
		Swarm: SwarmConfig{
			SweepInterval:     60 * time.Second,
			HandoffExpiry:     30 * time.Minute,
			DistributionLimit: 3,
			BroadcastRate:     100,
			BroadcastBurst:    25,
			SnapshotTTL:       time.Minute,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return fmt.Errorf("sqlite driver requires database.path")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	if c.Swarm.SweepInterval <= 0 {
		return fmt.Errorf("swarm.sweep_interval must be positive")
	}
	if c.Swarm.HandoffExpiry <= 0 {
		return fmt.Errorf("swarm.handoff_expiry must be positive")
	}
	if c.Swarm.DistributionLimit <= 0 {
		return fmt.Errorf("swarm.distribution_limit must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint required when telemetry is enabled")
	}
	return nil
}
