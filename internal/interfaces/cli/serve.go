package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/ConstructOps/internal/config"
	"github.com/turtacn/ConstructOps/internal/infrastructure/auth/jwt"
	"github.com/turtacn/ConstructOps/internal/infrastructure/database/postgres"
	"github.com/turtacn/ConstructOps/internal/infrastructure/database/redis"
	"github.com/turtacn/ConstructOps/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/prometheus"
	httpapi "github.com/turtacn/ConstructOps/internal/interfaces/http"
	"github.com/turtacn/ConstructOps/internal/interfaces/http/handlers"
	"github.com/turtacn/ConstructOps/internal/interfaces/http/middleware"
	"github.com/turtacn/ConstructOps/internal/security/audit"
	"github.com/turtacn/ConstructOps/internal/security/authz"
	"github.com/turtacn/ConstructOps/internal/security/detector"
	"github.com/turtacn/ConstructOps/internal/security/ratelimit"
)

// eventSource names this process in published security events.
const eventSource = "constructops-api"

func newServeCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cliCtx, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload rate limit and role mappings when the config file changes")
	return cmd
}

// runtime holds the parts of a running server that react to config reloads
// or must be released on exit.
type runtime struct {
	policy    *ratelimit.DynamicPolicy
	evaluator *authz.Evaluator
	closers   []func() error
	logger    logging.Logger
}

func (rt *runtime) onClose(fn func() error) { rt.closers = append(rt.closers, fn) }

// close releases resources in reverse acquisition order.
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("shutdown: release failed", logging.Err(err))
		}
	}
}

func runServe(ctx context.Context, cliCtx *CLIContext, watch bool) error {
	cfg, logger := cliCtx.Config, cliCtx.Logger
	rt := &runtime{logger: logger}
	defer rt.close()

	conn, err := postgres.NewConnection(cfg.Database, logger)
	if err != nil {
		return err
	}
	rt.onClose(conn.Close)

	if cfg.Database.MigrateOnStart {
		if err := migrateUp(cfg.Database, logger); err != nil {
			return err
		}
	}

	exec := postgres.NewExecutor(conn.DB(), cfg.Database.QueryTimeout, logger)
	access := postgres.NewProjectAccessChecker(conn.DB(), logger)

	var authOpts []jwt.Option
	if cfg.Auth.LoadProfiles {
		authOpts = append(authOpts, jwt.WithProfileLoader(postgres.NewProfileStore(conn.DB(), logger)))
	}
	authenticator, err := jwt.NewAuthenticator(cfg.Auth, logger, authOpts...)
	if err != nil {
		return err
	}

	checks := []handlers.HealthChecker{handlers.CheckFunc("postgres", conn.HealthCheck)}

	store, redisClient, err := newRateLimitStore(cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		rt.onClose(redisClient.Close)
		checks = append(checks, handlers.CheckFunc("redis", redisClient.Ping))
	}

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Metrics.Namespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, logger)
	if err != nil {
		return err
	}
	metrics := prometheus.NewSecurityMetrics(collector)

	events, err := newEventSink(ctx, cfg.Kafka, rt, logger)
	if err != nil {
		return err
	}

	mapping, err := authz.MappingFromConfig(cfg.Authz.RolePermissions)
	if err != nil {
		return err
	}
	rt.evaluator = authz.NewEvaluator(mapping)
	rt.policy = ratelimit.NewDynamicPolicy(policyFor(cfg.RateLimit))

	limiter := ratelimit.NewLimiter(store)
	sweeper := ratelimit.NewSweeper(store, cfg.RateLimit.SweepInterval, logger,
		ratelimit.WithSweepObserver(metrics.ObserveSwept))
	sweeper.Start()
	defer sweeper.Stop()

	guardCfg := middleware.GuardConfig{
		Limiter:       limiter,
		Policy:        rt.policy,
		Authenticator: authenticator,
		Permissions:   rt.evaluator,
		Access:        access,
		Events:        events,
		Metrics:       metrics,
		Logger:        logger.Named("guard"),
		KeyFunc:       middleware.KeyFuncFor(cfg.Server.TrustProxyHeaders),
		SlowThreshold: cfg.Security.SlowRequestThreshold,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	}
	if cfg.Security.AnomalyDetection {
		guardCfg.Detector = newDetector(cfg.Security)
	}
	guard, err := middleware.NewGuard(guardCfg)
	if err != nil {
		return err
	}

	routerCfg := httpapi.RouterConfig{
		Guard:       guard,
		Executor:    exec,
		Access:      access,
		WritePolicy: writePolicyFor(cfg.RateLimit),
		Health:      handlers.NewHealthHandler(Version, logger, checks...),
		MetricsPath: cfg.Metrics.Path,
		Logging:     middleware.DefaultLoggingConfig(),
		Logger:      logger,
	}
	if cfg.Metrics.Enabled {
		routerCfg.Metrics = collector
	}
	if len(cfg.Server.AllowedOrigins) > 0 {
		cors := middleware.DefaultCORSConfig()
		cors.AllowedOrigins = cfg.Server.AllowedOrigins
		routerCfg.CORS = &cors
	}
	routerCfg.Logging.SlowThreshold = cfg.Security.SlowRequestThreshold

	if watch && cliCtx.ConfigPath != "" {
		err := config.Watch(cliCtx.ConfigPath,
			func(next *config.Config) { applyConfig(rt, next) },
			func(err error) { logger.Warn("config reload rejected", logging.Err(err)) })
		if err != nil {
			return err
		}
	}

	server := httpapi.NewServer(cfg.Server, httpapi.NewRouter(routerCfg), logger)
	l, err := net.Listen("tcp", server.Addr())
	if err != nil {
		return fmt.Errorf("serve: listen %s: %w", server.Addr(), err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, l) })
	logger.Info("constructops started",
		logging.String("addr", l.Addr().String()),
		logging.String("version", Version),
		logging.String("rate_limit_store", cfg.RateLimit.Store))
	return g.Wait()
}

// newRateLimitStore returns the configured counter store. The Redis client is
// returned so the caller can probe and close it.
func newRateLimitStore(cfg *config.Config, logger logging.Logger) (ratelimit.Store, *redis.Client, error) {
	switch cfg.RateLimit.Store {
	case "", config.DefaultRateLimitStore:
		return ratelimit.NewMemoryStore(), nil, nil
	case "redis":
		client, err := redis.NewClient(cfg.Redis, logger)
		if err != nil {
			return nil, nil, err
		}
		return redis.NewRateLimitStore(client, logger), client, nil
	default:
		return nil, nil, fmt.Errorf("serve: unknown rate limit store %q", cfg.RateLimit.Store)
	}
}

// newEventSink always logs security events and also publishes them to Kafka
// when enabled.
func newEventSink(ctx context.Context, cfg config.KafkaConfig, rt *runtime, logger logging.Logger) (audit.Sink, error) {
	logSink := audit.LogSink{Logger: logger.Named("security")}
	if !cfg.Enabled {
		return logSink, nil
	}

	topics, err := kafka.NewTopicManager(ctx, cfg.Brokers, logger)
	if err != nil {
		return nil, err
	}
	err = topics.EnsureTopic(kafka.SecurityEventsTopic(cfg.Topic))
	if cerr := topics.Close(); cerr != nil {
		logger.Warn("kafka topic manager close failed", logging.Err(cerr))
	}
	if err != nil {
		return nil, err
	}

	producer, err := kafka.NewProducer(cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.onClose(producer.Close)
	return audit.Multi{logSink, kafka.NewSecurityEventPublisher(producer, eventSource, logger)}, nil
}

func newDetector(cfg config.SecurityConfig) *detector.Detector {
	var opts []detector.Option
	if len(cfg.ScannerSignatures) > 0 {
		opts = append(opts, detector.WithScannerSignatures(cfg.ScannerSignatures...))
	}
	return detector.New(opts...)
}

func policyFor(cfg config.RateLimitConfig) ratelimit.Policy {
	return ratelimit.Policy{Window: cfg.Window, Max: cfg.MaxRequests}
}

func writePolicyFor(cfg config.RateLimitConfig) *ratelimit.Policy {
	if cfg.WriteMaxRequests <= 0 {
		return nil
	}
	return &ratelimit.Policy{Window: cfg.Window, Max: cfg.WriteMaxRequests}
}

// applyConfig hot-swaps the settings that can change without a restart: the
// default rate limit policy and the role mapping. An invalid role mapping
// keeps the previous one.
func applyConfig(rt *runtime, next *config.Config) {
	rt.policy.Set(policyFor(next.RateLimit))

	mapping, err := authz.MappingFromConfig(next.Authz.RolePermissions)
	if err != nil {
		rt.logger.Warn("role mapping reload rejected", logging.Err(err))
		return
	}
	rt.evaluator.UpdateMapping(mapping)
	rt.logger.Info("configuration reloaded",
		logging.Int("rate_limit_max", next.RateLimit.MaxRequests),
		logging.Duration("rate_limit_window", next.RateLimit.Window))
}

// migrateUp applies pending schema migrations.
func migrateUp(cfg config.DatabaseConfig, logger logging.Logger) error {
	m, err := postgres.NewMigrator(cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
