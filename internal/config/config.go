package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Backend names accepted for the events and store adapters.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for the flowd engine.
type Config struct {
	// Server configuration
	HTTPPort int    `env:"FLOWD_HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Event hub configuration
	Events EventsConfig

	// Execution store configuration
	Store StoreConfig

	// Graph definition store configuration
	Graphs GraphsConfig

	// Redis configuration (used when a backend selects redis)
	Redis RedisConfig

	// Worker configuration
	Workers WorkerConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// EventsConfig selects and sizes the event hub.
type EventsConfig struct {
	Backend string `env:"FLOWD_EVENTS_BACKEND" envDefault:"memory"`

	// BacklogSize bounds the per-execution event backlog replayed to late
	// subscribers. SubscriberQueueSize bounds each subscriber's live queue;
	// a subscriber that overflows it is disconnected.
	BacklogSize         int `env:"FLOWD_EVENTS_BACKLOG" envDefault:"50"`
	SubscriberQueueSize int `env:"FLOWD_EVENTS_SUBSCRIBER_QUEUE" envDefault:"64"`
}

// StoreConfig selects the execution store backend.
type StoreConfig struct {
	Backend string        `env:"FLOWD_STORE_BACKEND" envDefault:"memory"`
	TTL     time.Duration `env:"FLOWD_STORE_TTL" envDefault:"24h"`
}

// GraphsConfig locates the graph definition store.
type GraphsConfig struct {
	Dir string `env:"FLOWD_GRAPHS_DIR" envDefault:"data/graphs"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	PoolSize            int           `env:"FLOWD_WORKER_POOL_SIZE" envDefault:"4"`
	QueueSize           int           `env:"FLOWD_WORKER_QUEUE_SIZE" envDefault:"64"`
	HealthCheckInterval time.Duration `env:"FLOWD_WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations. A zero node execution
// timeout disables the per-node deadline.
type TimeoutConfig struct {
	NodeExecution time.Duration `env:"FLOWD_TIMEOUT_NODE_EXECUTION" envDefault:"0"`
	Shutdown      time.Duration `env:"FLOWD_TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.Events.Backend != BackendMemory && c.Events.Backend != BackendRedis {
		return fmt.Errorf("invalid events backend: %s (must be memory or redis)", c.Events.Backend)
	}
	if c.Store.Backend != BackendMemory && c.Store.Backend != BackendRedis {
		return fmt.Errorf("invalid store backend: %s (must be memory or redis)", c.Store.Backend)
	}

	if c.Events.BacklogSize < 1 {
		return fmt.Errorf("events backlog size must be at least 1")
	}
	if c.Events.SubscriberQueueSize < 1 {
		return fmt.Errorf("events subscriber queue size must be at least 1")
	}

	if c.NeedsRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when a redis backend is selected")
	}

	if c.Graphs.Dir == "" {
		return fmt.Errorf("graphs directory is required")
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.QueueSize < 1 {
		return fmt.Errorf("worker queue size must be at least 1")
	}

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

// NeedsRedis reports whether any selected backend requires a Redis
// connection.
func (c *Config) NeedsRedis() bool {
	return c.Events.Backend == BackendRedis || c.Store.Backend == BackendRedis
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
