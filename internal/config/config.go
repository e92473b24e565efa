// Package config defines the ConstructOps configuration tree. Loading lives in
// loader.go; this file holds plain data types and validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
)

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	// TrustProxyHeaders makes the client key come from X-Forwarded-For.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
	// AllowedOrigins enables CORS for the listed browser origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// RedisConfig selects and configures the Redis deployment.
type RedisConfig struct {
	// Mode is standalone, sentinel or cluster.
	Mode         string        `mapstructure:"mode"`
	Addr         string        `mapstructure:"addr"`
	Addrs        []string      `mapstructure:"addrs"`
	MasterName   string        `mapstructure:"master_name"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// RateLimitConfig holds the default fixed-window policy.
type RateLimitConfig struct {
	// Store is "memory" or "redis".
	Store         string        `mapstructure:"store"`
	Window        time.Duration `mapstructure:"window"`
	MaxRequests   int           `mapstructure:"max_requests"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// WriteMaxRequests, when positive, gives every mutating route its own
	// bucket of this size per Window.
	WriteMaxRequests int `mapstructure:"write_max_requests"`
}

// SecurityConfig tunes the request guard.
type SecurityConfig struct {
	AnomalyDetection     bool          `mapstructure:"anomaly_detection"`
	ScannerSignatures    []string      `mapstructure:"scanner_signatures"`
	SlowRequestThreshold time.Duration `mapstructure:"slow_request_threshold"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	Issuer       string        `mapstructure:"issuer"`
	Audience     string        `mapstructure:"audience"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	LoadProfiles bool          `mapstructure:"load_profiles"`
}

// KafkaConfig configures security-event publication.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Async        bool          `mapstructure:"async"`
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// AuthzConfig overrides the built-in role to permission mapping. Roles absent
// from RolePermissions keep their defaults.
type AuthzConfig struct {
	RolePermissions map[string][]string `mapstructure:"role_permissions"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Database  DatabaseConfig    `mapstructure:"database"`
	Redis     RedisConfig       `mapstructure:"redis"`
	RateLimit RateLimitConfig   `mapstructure:"rate_limit"`
	Security  SecurityConfig    `mapstructure:"security"`
	Auth      AuthConfig        `mapstructure:"auth"`
	Kafka     KafkaConfig       `mapstructure:"kafka"`
	Log       logging.LogConfig `mapstructure:"log"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	Authz     AuthzConfig       `mapstructure:"authz"`
}

// minSecretLength is the shortest accepted HS256 secret.
const minSecretLength = 32

// Validate checks a defaulted Config and returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 1 {
		return fmt.Errorf("config: server.max_body_bytes must be >= 1, got %d", c.Server.MaxBodyBytes)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("config: database.db_name is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("config: database.max_open_conns must be >= 1, got %d", c.Database.MaxOpenConns)
	}

	switch c.RateLimit.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: rate_limit.store %q is invalid; expected memory|redis", c.RateLimit.Store)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("config: rate_limit.window must be positive")
	}
	if c.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("config: rate_limit.max_requests must be >= 1, got %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.WriteMaxRequests < 0 {
		return fmt.Errorf("config: rate_limit.write_max_requests must be >= 0, got %d", c.RateLimit.WriteMaxRequests)
	}
	if c.RateLimit.SweepInterval <= 0 {
		return fmt.Errorf("config: rate_limit.sweep_interval must be positive")
	}

	switch c.Redis.Mode {
	case "standalone":
		if c.RateLimit.Store == "redis" && c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
	case "sentinel":
		if c.Redis.MasterName == "" || len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("config: redis sentinel mode needs master_name and addrs")
		}
	case "cluster":
		if len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("config: redis cluster mode needs addrs")
		}
	default:
		return fmt.Errorf("config: redis.mode %q is invalid; expected standalone|sentinel|cluster", c.Redis.Mode)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
	}

	if len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("config: auth.jwt_secret must be at least %d characters", minSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("config: auth.token_ttl must be positive")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("config: kafka.topic is required")
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}
