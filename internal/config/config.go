package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Flight  FlightConfig  `mapstructure:"flight_detection"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	State    StateConfig    `mapstructure:"state"`
}

// PostgresConfig defines the relational store connection
type PostgresConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

// DSN builds the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("user=%s", c.User),
		fmt.Sprintf("dbname=%s", c.Database),
		fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Password))
	}
	return strings.Join(parts, " ")
}

// StateConfig selects and configures the flight-state store backend
type StateConfig struct {
	Type  string      `mapstructure:"type"` // "redis" or "bolt"
	Redis RedisConfig `mapstructure:"redis"`
	Bolt  BoltConfig  `mapstructure:"bolt"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// BoltConfig defines the bbolt state store file
type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// FlightConfig defines flight detection and analytics settings
type FlightConfig struct {
	ActivityThreshold float64 `mapstructure:"activity_threshold"`
	IdleTimeout       string  `mapstructure:"idle_timeout"`
	MaxBatchSize      int     `mapstructure:"max_batch_size"`
	LiveTTL           string  `mapstructure:"live_ttl"`
	Workers           int     `mapstructure:"workers"`
	QueueSize         int     `mapstructure:"queue_size"`
	AuthCacheSize     int     `mapstructure:"auth_cache_size"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("FLIGHTDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaultsForDump exposes the default key set so tooling can diff a
// config file against what the application understands.
func SetDefaultsForDump(v *viper.Viper) {
	setDefaults(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "0.0.0.0")

	// Postgres defaults
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "flightdeck")
	v.SetDefault("storage.postgres.database", "flightdeck")
	v.SetDefault("storage.postgres.ssl_mode", "disable")
	v.SetDefault("storage.postgres.max_open_conns", 10)
	v.SetDefault("storage.postgres.max_idle_conns", 5)
	v.SetDefault("storage.postgres.conn_max_lifetime", "1h")

	// State store defaults
	v.SetDefault("storage.state.type", "redis")
	v.SetDefault("storage.state.redis.host", "localhost")
	v.SetDefault("storage.state.redis.port", 6379)
	v.SetDefault("storage.state.redis.db", 0)
	v.SetDefault("storage.state.redis.pool_size", 10)
	v.SetDefault("storage.state.redis.min_idle_conns", 2)
	v.SetDefault("storage.state.redis.dial_timeout", "5s")
	v.SetDefault("storage.state.redis.read_timeout", "3s")
	v.SetDefault("storage.state.redis.write_timeout", "3s")
	v.SetDefault("storage.state.bolt.path", "/var/lib/flightdeck/state.db")

	// Flight detection defaults
	v.SetDefault("flight_detection.activity_threshold", 0.10)
	v.SetDefault("flight_detection.idle_timeout", "15s")
	v.SetDefault("flight_detection.max_batch_size", 500)
	v.SetDefault("flight_detection.live_ttl", "60s")
	v.SetDefault("flight_detection.workers", 4)
	v.SetDefault("flight_detection.queue_size", 256)
	v.SetDefault("flight_detection.auth_cache_size", 1024)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate checks configuration for semantic errors
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("server.metrics_port out of range: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.State.Type {
	case "redis", "bolt":
	default:
		return fmt.Errorf("storage.state.type must be 'redis' or 'bolt', got %q", cfg.Storage.State.Type)
	}
	if cfg.Storage.State.Type == "bolt" && cfg.Storage.State.Bolt.Path == "" {
		return fmt.Errorf("storage.state.bolt.path is required for bolt state store")
	}

	if cfg.Storage.Postgres.Host == "" {
		return fmt.Errorf("storage.postgres.host is required")
	}
	if cfg.Storage.Postgres.Database == "" {
		return fmt.Errorf("storage.postgres.database is required")
	}

	if cfg.Flight.ActivityThreshold <= 0 || cfg.Flight.ActivityThreshold >= 1 {
		return fmt.Errorf("flight_detection.activity_threshold must be in (0, 1), got %v", cfg.Flight.ActivityThreshold)
	}
	if _, err := time.ParseDuration(cfg.Flight.IdleTimeout); err != nil {
		return fmt.Errorf("flight_detection.idle_timeout: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Flight.LiveTTL); err != nil {
		return fmt.Errorf("flight_detection.live_ttl: %w", err)
	}
	if cfg.Flight.MaxBatchSize <= 0 {
		return fmt.Errorf("flight_detection.max_batch_size must be positive, got %d", cfg.Flight.MaxBatchSize)
	}
	if cfg.Flight.Workers <= 0 {
		return fmt.Errorf("flight_detection.workers must be positive, got %d", cfg.Flight.Workers)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}
