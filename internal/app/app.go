package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rakrong1/ladicare-sub000/internal/auth"
	"github.com/rakrong1/ladicare-sub000/internal/catalog"
	"github.com/rakrong1/ladicare-sub000/internal/config"
	"github.com/rakrong1/ladicare-sub000/internal/event"
	handler "github.com/rakrong1/ladicare-sub000/internal/handler/http"
	"github.com/rakrong1/ladicare-sub000/internal/repository"
	"github.com/rakrong1/ladicare-sub000/internal/repository/memory"
	"github.com/rakrong1/ladicare-sub000/internal/repository/postgres"
	"github.com/rakrong1/ladicare-sub000/internal/service"
	"github.com/rakrong1/ladicare-sub000/migrations"
	"github.com/rakrong1/ladicare-sub000/pkg/database"
	"github.com/rakrong1/ladicare-sub000/pkg/health"
	"github.com/rakrong1/ladicare-sub000/pkg/httpclient"
	pkgkafka "github.com/rakrong1/ladicare-sub000/pkg/kafka"
	"github.com/rakrong1/ladicare-sub000/pkg/tracing"
)

// App owns the cart service's connections and its HTTP server.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool        *pgxpool.Pool
	rdb         *redis.Client
	producer    *pkgkafka.Producer
	invalidator *pkgkafka.Consumer
	server      *http.Server
	stopTracing func(context.Context) error

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewApp opens every dependency and builds the router. Whatever was opened
// is closed again when a later step fails.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Shutdown()
		}
	}()

	otlpEndpoint := ""
	if cfg.OTELEnabled {
		otlpEndpoint = cfg.OTELEndpoint
	}
	a.stopTracing, err = tracing.Setup(ctx, tracing.Options{
		Service:     "cart",
		Version:     "0.1.0",
		Environment: cfg.Environment,
		Endpoint:    otlpEndpoint,
		SampleRatio: cfg.OTELSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("set up tracing: %w", err)
	}

	checks := health.NewHandler()
	lines, err := a.openStore(ctx, checks)
	if err != nil {
		return nil, err
	}
	products := a.openCatalog(ctx, checks)
	events := a.openEvents(checks)

	carts := service.NewCartService(lines, products, events, logger, cfg.CatalogLookupConcurrency)
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler.NewRouter(carts, checks, logger, a.routerOptions()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// openStore returns the configured cart line store. The Postgres store is
// migrated before use and is a critical readiness check.
func (a *App) openStore(ctx context.Context, checks *health.Handler) (repository.CartLineRepository, error) {
	cfg := a.cfg
	if cfg.Store == config.StoreMemory {
		a.logger.Warn("using in-memory cart store, carts are lost on restart")
		return memory.NewCartLineRepository(), nil
	}

	pool, err := database.OpenPostgres(ctx, cfg.PostgresConfig(), a.logger)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	database.RegisterPoolMetrics(pool, "cart")
	checks.RegisterCritical("postgres", pool.Ping)

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, err
	}
	a.logger.Info("cart store ready",
		slog.String("host", cfg.PostgresHost),
		slog.String("database", cfg.PostgresDB),
	)

	obs := database.NewObserver(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
	return postgres.NewCartLineRepository(pool, obs), nil
}

// openCatalog returns the product lookup: the breaker-guarded client,
// fronted by the Redis cache and its invalidation consumer when the cache
// TTL is positive. Redis is only dialed for the cache. A cache outage only
// degrades readiness since lookups then fall through to the catalog.
func (a *App) openCatalog(ctx context.Context, checks *health.Handler) service.ProductCatalog {
	cfg := a.cfg
	client := catalog.NewClient(httpclient.New(cfg.CatalogClientOptions(), a.logger), cfg.CatalogURL)

	ttl := cfg.CatalogCacheTTL()
	if ttl <= 0 {
		a.logger.Info("catalog cache disabled, every read goes to the product service")
		return client
	}

	a.rdb = database.NewRedisClient(database.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		a.logger.Warn("redis unreachable, catalog reads bypass the cache until it recovers",
			slog.String("addr", cfg.RedisAddr),
			slog.String("error", err.Error()),
		)
	}
	rdb := a.rdb
	checks.RegisterNonCritical("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	cache := catalog.NewCache(rdb, client, ttl, a.logger)
	a.invalidator = pkgkafka.NewConsumer(pkgkafka.ConsumerOptions{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaConsumerGroup,
		Topics:   event.InvalidationTopics(),
		Attempts: 3,
		Backoff:  100 * time.Millisecond,
	}, event.InvalidationHandler(cache, a.logger), a.logger)
	return cache
}

// openEvents returns the cart event publisher. Publishing is asynchronous
// so broker latency stays out of the request path.
func (a *App) openEvents(checks *health.Handler) *event.Producer {
	a.producer = pkgkafka.NewProducer(pkgkafka.ProducerOptions{
		Brokers:      a.cfg.KafkaBrokers,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}, a.logger)
	checks.RegisterNonCritical("kafka", a.producer.Ping)
	return event.NewProducer(a.producer, a.logger)
}

func (a *App) routerOptions() handler.RouterOptions {
	cfg := a.cfg
	opts := handler.RouterOptions{
		TrustUserHeader: cfg.TrustGatewayUserHeader,
		PprofCIDRs:      cfg.PprofAllowedCIDRs,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		CORSCredentials: cfg.CORSAllowCredentials,
		RateLimitRPS:    cfg.RateLimitRPS,
		RateLimitBurst:  cfg.RateLimitBurst,
	}
	if cfg.JWTSecret != "" {
		opts.TokenValidator = auth.NewVerifier(cfg.JWTSecret).UserID
	} else {
		a.logger.Warn("JWT_SECRET not set, bearer tokens are ignored")
	}
	if cfg.TrustGatewayUserHeader {
		a.logger.Warn("X-User-ID is trusted as the cart owner, the gateway must strip it from client requests")
	}
	return opts
}

// Run serves HTTP and consumes catalog invalidations until ctx is canceled
// or the server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.invalidator != nil {
		g.Go(func() error { return a.invalidator.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown drains HTTP first, then flushes spans, then closes Kafka and the
// stores. Only the first call does anything.
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down")
		var errs []error
		step := func(name string, timeout time.Duration, stop func(context.Context) error) {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := stop(ctx); err != nil {
				a.logger.Error("shutdown step failed", slog.String("step", name), slog.String("error", err.Error()))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
		closer := func(c func() error) func(context.Context) error {
			return func(context.Context) error { return c() }
		}

		if a.server != nil {
			step("http server", 10*time.Second, a.server.Shutdown)
		}
		if a.stopTracing != nil {
			step("tracing", 3*time.Second, a.stopTracing)
		}
		if a.invalidator != nil {
			step("catalog invalidation consumer", time.Second, closer(a.invalidator.Close))
		}
		if a.producer != nil {
			step("kafka producer", time.Second, closer(a.producer.Close))
		}
		if a.rdb != nil {
			step("redis", time.Second, closer(a.rdb.Close))
		}
		if a.pool != nil {
			a.pool.Close()
		}

		a.shutdownErr = errors.Join(errs...)
		a.logger.Info("shutdown complete")
	})
	return a.shutdownErr
}
