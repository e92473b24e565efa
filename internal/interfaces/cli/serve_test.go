package cli

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/ConstructOps/internal/config"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/internal/security/audit"
	"github.com/turtacn/ConstructOps/internal/security/authz"
	"github.com/turtacn/ConstructOps/internal/security/ratelimit"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestNewRateLimitStore_Memory(t *testing.T) {
	store, client, err := newRateLimitStore(testConfig(), nil)
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.IsType(t, &ratelimit.MemoryStore{}, store)
}

func TestNewRateLimitStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RateLimit.Store = "redis"
	cfg.Redis.Addr = mr.Addr()

	store, client, err := newRateLimitStore(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()

	now := time.Now()
	for i := 1; i <= 2; i++ {
		b, err := store.Increment(context.Background(), "203.0.113.9", time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, i, b.Count)
	}
	assert.NoError(t, client.Ping(context.Background()))
}

func TestNewRateLimitStore_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Store = "etcd"
	_, _, err := newRateLimitStore(cfg, nil)
	assert.ErrorContains(t, err, "unknown rate limit store")

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	cfg.RateLimit.Store = "redis"
	cfg.Redis.Addr = addr
	_, client, err := newRateLimitStore(cfg, nil)
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestWritePolicyFor(t *testing.T) {
	rl := config.RateLimitConfig{Window: time.Minute, MaxRequests: 100}
	assert.Nil(t, writePolicyFor(rl))

	rl.WriteMaxRequests = 10
	assert.Equal(t, &ratelimit.Policy{Window: time.Minute, Max: 10}, writePolicyFor(rl))
}

func TestNewEventSink_Disabled(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rt := &runtime{logger: logging.NewNopLogger()}

	sink, err := newEventSink(context.Background(), config.KafkaConfig{}, rt, logging.NewLoggerFromCore(core))
	require.NoError(t, err)
	assert.IsType(t, audit.LogSink{}, sink)
	assert.Empty(t, rt.closers)

	require.NoError(t, sink.Publish(context.Background(), audit.Event{ID: "ev-1", Type: audit.EventRateLimited}))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "security event", logs.All()[0].Message)
}

func TestNewDetector_ConfiguredSignatures(t *testing.T) {
	d := newDetector(config.SecurityConfig{ScannerSignatures: []string{"SiteCrawler"}})

	r := httptest.NewRequest("GET", "/api/v1/projects", nil)
	r.Header.Set("User-Agent", "sitecrawler/2.1")
	assert.True(t, d.Classify(r).Suspicious)

	r.Header.Set("User-Agent", "Mozilla/5.0")
	assert.False(t, d.Classify(r).Suspicious)
}

func TestApplyConfig(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rt := &runtime{
		policy:    ratelimit.NewDynamicPolicy(ratelimit.Policy{Window: 15 * time.Minute, Max: 100}),
		evaluator: authz.NewEvaluator(nil),
		logger:    logging.NewLoggerFromCore(core),
	}
	require.False(t, rt.evaluator.HasPermission(authz.RoleClient, authz.PermProjectsWrite))

	next := testConfig()
	next.RateLimit.Window = time.Minute
	next.RateLimit.MaxRequests = 5
	next.Authz.RolePermissions = map[string][]string{"client": {"projects:read", "projects:write"}}
	applyConfig(rt, next)

	assert.Equal(t, ratelimit.Policy{Window: time.Minute, Max: 5}, rt.policy.Policy())
	assert.True(t, rt.evaluator.HasPermission(authz.RoleClient, authz.PermProjectsWrite))
	assert.Equal(t, 1, logs.FilterMessage("configuration reloaded").Len())
}

func TestApplyConfig_BadMappingKeepsPrevious(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rt := &runtime{
		policy:    ratelimit.NewDynamicPolicy(ratelimit.Policy{Window: time.Minute, Max: 100}),
		evaluator: authz.NewEvaluator(nil),
		logger:    logging.NewLoggerFromCore(core),
	}

	next := testConfig()
	next.RateLimit.MaxRequests = 7
	next.Authz.RolePermissions = map[string][]string{"foreman": {"projects:write"}}
	applyConfig(rt, next)

	assert.Equal(t, 7, rt.policy.Policy().Max)
	assert.True(t, rt.evaluator.HasPermission(authz.RoleProjectManager, authz.PermProjectsWrite))
	assert.Equal(t, 1, logs.FilterMessage("role mapping reload rejected").Len())
	assert.Zero(t, logs.FilterMessage("configuration reloaded").Len())
}

func TestRuntimeClose_ReverseOrder(t *testing.T) {
	var order []string
	rt := &runtime{logger: logging.NewNopLogger()}
	rt.onClose(func() error { order = append(order, "postgres"); return nil })
	rt.onClose(func() error { order = append(order, "redis"); return nil })
	rt.close()
	assert.Equal(t, []string{"redis", "postgres"}, order)
}
