package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/internal/security/ratelimit"
	"github.com/turtacn/ConstructOps/pkg/errors"
)

// incrementScript counts one hit and opens the window on the first one.
// A key that somehow lost its TTL is given a fresh one.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RateLimitStore implements ratelimit.Store on Redis. Window expiry is left to
// key TTLs, so Sweep has nothing to do.
type RateLimitStore struct {
	client *Client
	logger logging.Logger
}

var _ ratelimit.Store = (*RateLimitStore)(nil)

// NewRateLimitStore returns a store using client.
func NewRateLimitStore(client *Client, log logging.Logger) *RateLimitStore {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &RateLimitStore{client: client, logger: log}
}

// Increment implements ratelimit.Store.
func (s *RateLimitStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (ratelimit.Bucket, error) {
	if s.client.isClosed() {
		return ratelimit.Bucket{}, ErrClientClosed
	}
	windowMS := window.Milliseconds()
	if windowMS < 1 {
		windowMS = 1
	}

	res, err := incrementScript.Run(ctx, s.client.GetUnderlyingClient(), []string{s.client.Key("ratelimit", key)}, windowMS).Int64Slice()
	if err != nil {
		s.logger.Error("rate limit increment failed", logging.String("key", key), logging.Err(err))
		return ratelimit.Bucket{}, errors.Wrap(err, errors.ErrCodeCacheError, "rate limit store unavailable")
	}
	if len(res) != 2 {
		return ratelimit.Bucket{}, errors.New(errors.ErrCodeCacheError, "rate limit store unavailable").
			WithDetail(fmt.Sprintf("unexpected script reply of %d values", len(res)))
	}

	return ratelimit.Bucket{
		Key:     key,
		Count:   int(res[0]),
		ResetAt: now.Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

// Sweep implements ratelimit.Store.
func (s *RateLimitStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
