package config

import "time"

const (
	DefaultServerHost      = "0.0.0.0"
	DefaultServerPort      = 8080
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxBodyBytes    = 1 << 20

	DefaultDBHost         = "localhost"
	DefaultDBPort         = 5432
	DefaultDBName         = "constructops"
	DefaultDBSSLMode      = "disable"
	DefaultDBMaxOpenConns = 25
	DefaultDBMaxIdleConns = 5
	DefaultDBConnLifetime = 30 * time.Minute
	DefaultDBQueryTimeout = 10 * time.Second

	DefaultRedisMode      = "standalone"
	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisPoolSize  = 10
	DefaultRedisKeyPrefix = "constructops:"

	DefaultRateLimitStore  = "memory"
	DefaultRateLimitWindow = 15 * time.Minute
	DefaultRateLimitMax    = 100
	DefaultSweepInterval   = 5 * time.Minute

	DefaultSlowRequestThreshold = time.Second

	DefaultJWTIssuer = "constructops"
	DefaultTokenTTL  = time.Hour

	DefaultKafkaBroker       = "localhost:9092"
	DefaultKafkaTopic        = "constructops.security-events"
	DefaultKafkaBatchTimeout = 50 * time.Millisecond

	DefaultMetricsNamespace = "constructops"
	DefaultMetricsPath      = "/metrics"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills zero-value fields. Explicit settings always win. Boolean
// switches are not touched here; their defaults are registered with viper.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	s := &cfg.Server
	if s.Host == "" {
		s.Host = DefaultServerHost
	}
	if s.Port == 0 {
		s.Port = DefaultServerPort
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}

	db := &cfg.Database
	if db.Host == "" {
		db.Host = DefaultDBHost
	}
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.DBName == "" {
		db.DBName = DefaultDBName
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxOpenConns == 0 {
		db.MaxOpenConns = DefaultDBMaxOpenConns
	}
	if db.MaxIdleConns == 0 {
		db.MaxIdleConns = DefaultDBMaxIdleConns
	}
	if db.ConnMaxLifetime == 0 {
		db.ConnMaxLifetime = DefaultDBConnLifetime
	}
	if db.QueryTimeout == 0 {
		db.QueryTimeout = DefaultDBQueryTimeout
	}

	r := &cfg.Redis
	if r.Mode == "" {
		r.Mode = DefaultRedisMode
	}
	if r.Addr == "" && r.Mode == DefaultRedisMode {
		r.Addr = DefaultRedisAddr
	}
	if r.PoolSize == 0 {
		r.PoolSize = DefaultRedisPoolSize
	}
	if r.KeyPrefix == "" {
		r.KeyPrefix = DefaultRedisKeyPrefix
	}

	rl := &cfg.RateLimit
	if rl.Store == "" {
		rl.Store = DefaultRateLimitStore
	}
	if rl.Window == 0 {
		rl.Window = DefaultRateLimitWindow
	}
	if rl.MaxRequests == 0 {
		rl.MaxRequests = DefaultRateLimitMax
	}
	if rl.SweepInterval == 0 {
		rl.SweepInterval = DefaultSweepInterval
	}

	if cfg.Security.SlowRequestThreshold == 0 {
		cfg.Security.SlowRequestThreshold = DefaultSlowRequestThreshold
	}

	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = DefaultJWTIssuer
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = DefaultTokenTTL
	}

	k := &cfg.Kafka
	if len(k.Brokers) == 0 {
		k.Brokers = []string{DefaultKafkaBroker}
	}
	if k.Topic == "" {
		k.Topic = DefaultKafkaTopic
	}
	if k.BatchTimeout == 0 {
		k.BatchTimeout = DefaultKafkaBatchTimeout
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Log.ServiceName == "" {
		cfg.Log.ServiceName = "constructops"
	}
}
