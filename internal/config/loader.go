package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is prepended to every environment override,
// e.g. CONSTRUCTOPS_RATE_LIMIT_MAX_REQUESTS.
const envPrefix = "CONSTRUCTOPS"

// envOnlyKeys have no default but must still be reachable from the
// environment.
var envOnlyKeys = []string{
	"database.user",
	"database.password",
	"redis.password",
	"redis.master_name",
	"auth.jwt_secret",
	"auth.audience",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v)
	for _, k := range envOnlyKeys {
		_ = v.BindEnv(k)
	}
	return v
}

// registerDefaults makes every key known to viper so AutomaticEnv overrides
// reach Unmarshal even without a config file.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("server.host", DefaultServerHost)
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
	v.SetDefault("server.idle_timeout", DefaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("server.max_body_bytes", DefaultMaxBodyBytes)
	v.SetDefault("server.trust_proxy_headers", false)

	v.SetDefault("database.host", DefaultDBHost)
	v.SetDefault("database.port", DefaultDBPort)
	v.SetDefault("database.db_name", DefaultDBName)
	v.SetDefault("database.ssl_mode", DefaultDBSSLMode)
	v.SetDefault("database.max_open_conns", DefaultDBMaxOpenConns)
	v.SetDefault("database.max_idle_conns", DefaultDBMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", DefaultDBConnLifetime)
	v.SetDefault("database.query_timeout", DefaultDBQueryTimeout)
	v.SetDefault("database.migrate_on_start", false)

	v.SetDefault("redis.mode", DefaultRedisMode)
	v.SetDefault("redis.addr", DefaultRedisAddr)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", DefaultRedisPoolSize)
	v.SetDefault("redis.key_prefix", DefaultRedisKeyPrefix)

	v.SetDefault("rate_limit.store", DefaultRateLimitStore)
	v.SetDefault("rate_limit.window", DefaultRateLimitWindow)
	v.SetDefault("rate_limit.max_requests", DefaultRateLimitMax)
	v.SetDefault("rate_limit.sweep_interval", DefaultSweepInterval)
	v.SetDefault("rate_limit.write_max_requests", 0)

	v.SetDefault("security.anomaly_detection", true)
	v.SetDefault("security.slow_request_threshold", DefaultSlowRequestThreshold)

	v.SetDefault("auth.issuer", DefaultJWTIssuer)
	v.SetDefault("auth.token_ttl", DefaultTokenTTL)
	v.SetDefault("auth.load_profiles", true)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{DefaultKafkaBroker})
	v.SetDefault("kafka.topic", DefaultKafkaTopic)
	v.SetDefault("kafka.batch_timeout", DefaultKafkaBatchTimeout)
	v.SetDefault("kafka.async", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", DefaultMetricsNamespace)
	v.SetDefault("metrics.path", DefaultMetricsPath)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
}

// Load reads the YAML file at path, applies CONSTRUCTOPS_* overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", path, err)
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from defaults and CONSTRUCTOPS_* variables only.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Watch re-reads path on change and calls onChange with each valid result.
// Invalid edits are reported to onError (when non-nil) and otherwise ignored,
// so a bad save never replaces a working configuration.
func Watch(path string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read config file %q: %w", path, err)
	}
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is Load for main(): any error panics.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
