package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PROCESS_STORAGE_DRIVER.
const EnvPrefix = "PROCESS"

// Storage and event store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config holds all engine configuration
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Process ProcessConfig `mapstructure:"process"`
	Storage StorageConfig `mapstructure:"storage"`
	Events  EventsConfig  `mapstructure:"events"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// EngineConfig holds the backend polling schedule and id generation settings
type EngineConfig struct {
	PollInitialDelay time.Duration `mapstructure:"poll_initial_delay"`
	PollMaxDelay     time.Duration `mapstructure:"poll_max_delay"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout"`
	MachineID        uint16        `mapstructure:"machine_id"`
}

// ProcessConfig locates the process definition
type ProcessConfig struct {
	DefinitionPath string `mapstructure:"definition_path"`
	AppID          string `mapstructure:"app_id"`
}

// StorageConfig selects the instance store
type StorageConfig struct {
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// EventsConfig selects the instance event store
type EventsConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	OutputFile string `mapstructure:"output_file"`
}

// Load reads configuration from configPath and the environment.
// An empty configPath uses defaults and environment variables only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.poll_initial_delay", 100*time.Millisecond)
	v.SetDefault("engine.poll_max_delay", 2*time.Second)
	v.SetDefault("engine.poll_timeout", 100*time.Second)
	v.SetDefault("engine.machine_id", 1)

	v.SetDefault("process.definition_path", "process.yaml")
	v.SetDefault("process.app_id", "")

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.idle_timeout", 5*time.Minute)

	v.SetDefault("events.driver", DriverMemory)
	v.SetDefault("events.sqlite_path", "data/events.db")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output_file", "")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Engine.PollInitialDelay <= 0 {
		return errors.New("engine.poll_initial_delay must be positive")
	}
	if c.Engine.PollMaxDelay < c.Engine.PollInitialDelay {
		return errors.New("engine.poll_max_delay must not be less than engine.poll_initial_delay")
	}
	if c.Engine.PollTimeout <= 0 {
		return errors.New("engine.poll_timeout must be positive")
	}
	if c.Process.DefinitionPath == "" {
		return errors.New("process.definition_path is required")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Events.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Events.SQLitePath == "" {
			return errors.New("events.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown events.driver %q", c.Events.Driver)
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logger.format %q", c.Logger.Format)
	}

	return nil
}
