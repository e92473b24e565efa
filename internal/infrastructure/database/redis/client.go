// Package redis provides the networked Redis client and the Redis-backed
// rate-limit store used when several ConstructOps replicas share one budget.
package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/ConstructOps/internal/config"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

var (
	ErrClientClosed     = errors.New(errors.ErrCodeCacheError, "redis client is closed")
	ErrInvalidMode      = errors.New(errors.ErrCodeValidation, "invalid redis mode")
	ErrConnectionFailed = errors.New(errors.ErrCodeCacheError, "redis connection failed")
)

const connectTimeout = 5 * time.Second

// Client wraps a UniversalClient so the same code serves standalone, sentinel
// and cluster deployments.
type Client struct {
	rdb    redis.UniversalClient
	cfg    config.RedisConfig
	logger logging.Logger
	mu     sync.RWMutex
	closed bool
}

// NewClient builds the client for cfg.Mode and pings it once.
func NewClient(cfg config.RedisConfig, log logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	applyDefaults(&cfg)

	rdb, err := universal(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{rdb: rdb, cfg: cfg, logger: log}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		log.Error("redis ping failed", logging.String("mode", cfg.Mode), logging.Err(err))
		return nil, ErrConnectionFailed.WithCause(err)
	}

	log.Info("redis client connected",
		logging.String("mode", cfg.Mode),
		logging.String("addr", cfg.Addr),
		logging.Strings("addrs", cfg.Addrs),
	)
	return c, nil
}

// NewClientFromUniversal wraps an existing client. Used by tests.
func NewClientFromUniversal(rdb redis.UniversalClient, cfg config.RedisConfig, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Client{rdb: rdb, cfg: cfg, logger: log}
}

func universal(cfg config.RedisConfig) (redis.UniversalClient, error) {
	switch cfg.Mode {
	case "cluster":
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}), nil
	case "sentinel":
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		}), nil
	case "", "standalone":
		return redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}), nil
	default:
		return nil, ErrInvalidMode.WithDetail(cfg.Mode)
	}
}

func applyDefaults(cfg *config.RedisConfig) {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = config.DefaultRedisPoolSize
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.rdb.Ping(ctx).Err()
}

// Close releases the pool. Calling it twice is harmless.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.rdb.Close()
	if err != nil {
		c.logger.Error("failed to close redis client", logging.Err(err))
		return err
	}
	c.logger.Info("redis client closed")
	return nil
}

// GetUnderlyingClient exposes the go-redis client for scripts.
func (c *Client) GetUnderlyingClient() redis.UniversalClient {
	return c.rdb
}

// IsCluster reports whether the client talks to a cluster.
func (c *Client) IsCluster() bool {
	_, ok := c.rdb.(*redis.ClusterClient)
	return ok
}

// Key prepends the configured prefix.
func (c *Client) Key(parts ...string) string {
	k := c.cfg.KeyPrefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
