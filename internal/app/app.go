// Package app wires the tenantauth components into a runnable service.
package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	tenantauth "github.com/goliatone/go-tenantauth"
	"github.com/goliatone/go-tenantauth/activitymap"
	"github.com/goliatone/go-tenantauth/cache"
	"github.com/goliatone/go-tenantauth/config"
	"github.com/goliatone/go-tenantauth/metrics"
	kratosstore "github.com/goliatone/go-tenantauth/provider/kratos"
	"github.com/goliatone/go-tenantauth/repository"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ClientStores hands out the SessionStore view of one browser client
type ClientStores interface {
	Client(clientID string) tenantauth.SessionStore
}

type App struct {
	config   *config.Config
	logger   tenantauth.Logger
	bunDB    *bun.DB
	repo     tenantauth.RepositoryManager
	redis    *redis.Client
	relay    *cache.EventRelay
	metrics  *metrics.Metrics
	tokens   *tenantauth.TokenService
	stores   ClientStores
	resolver tenantauth.EntitlementResolver
	registry *tenantauth.SessionRegistry
	guard    *tenantauth.RouteGuard
	auth     *tenantauth.AuthController
	srv      router.Server[*fiber.App]
	httpApp  *fiber.App
	closers  []func(context.Context) error
}

func New(cfg *config.Config, logger tenantauth.Logger) *App {
	if logger == nil {
		logger = tenantauth.NoopLogger()
	}
	return &App{config: cfg, logger: logger}
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) DB() *bun.DB {
	return a.bunDB
}

func (a *App) Registry() *tenantauth.SessionRegistry {
	return a.registry
}

// Server is the fiber app behind the router adapter
func (a *App) Server() *fiber.App {
	return a.httpApp
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// OpenDB opens the configured database with the matching bun dialect
func OpenDB(cfg config.Persistence) (*bun.DB, error) {
	switch cfg.Driver {
	case "postgres":
		sqldb, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	case "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return nil, err
		}
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	}
	return nil, errors.New("unsupported persistence driver", errors.CategoryBadInput).
		WithMetadata(map[string]any{"driver": cfg.Driver})
}

// WithPersistence opens the database, applies migrations and builds the
// repositories
func WithPersistence(ctx context.Context, app *App) error {
	db, err := OpenDB(app.config.Persistence)
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, errors.CategoryExternal, "database not reachable")
	}

	group, err := tenantauth.Migrate(ctx, db)
	if err != nil {
		_ = db.Close()
		return err
	}
	if group != nil && !group.IsZero() {
		app.logger.Info("applied migrations", "group", group.String())
	}

	if app.config.Persistence.Debug {
		db.AddQueryHook(queryLogger{logger: app.logger})
	}

	app.bunDB = db
	app.repo = tenantauth.NewRepositoryManager(db)
	app.onClose(func(context.Context) error { return db.Close() })

	return app.repo.Validate()
}

// WithTracing installs an OTLP HTTP exporter when an endpoint is set,
// otherwise the global no-op provider stays in place
func WithTracing(ctx context.Context, app *App) error {
	endpoint := app.config.Telemetry.OTLPEndpoint
	if endpoint == "" {
		app.logger.Debug("tracing disabled, no otlp endpoint")
		return nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(app.config.App.Name),
			semconv.DeploymentEnvironment(app.config.App.Environment),
		),
	)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	app.onClose(tp.Shutdown)

	app.logger.Info("tracing initialized", "endpoint", endpoint)
	return nil
}

// WithMetrics creates the Prometheus collectors
func WithMetrics(_ context.Context, app *App) error {
	m, err := metrics.New(app.config.Telemetry.MetricsNamespace, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	app.metrics = m
	return nil
}

// WithSessions builds the session store, entitlement resolver, route guard
// and the per client session registry
func WithSessions(ctx context.Context, app *App) error {
	if app.bunDB == nil {
		return errors.New("persistence must be configured before sessions", errors.CategoryInternal)
	}
	authCfg := app.config.Auth

	var storage tenantauth.TokenStorage = tenantauth.NewMemoryTokenStorage()
	if app.config.Redis.URL != "" {
		client, err := cache.NewClient(app.config.Redis.URL)
		if err != nil {
			return err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return errors.Wrap(err, errors.CategoryExternal, "redis not reachable")
		}
		app.redis = client
		app.onClose(func(context.Context) error { return client.Close() })
		storage = cache.NewTokenStorage(client, "")
	}

	app.tokens = tenantauth.NewTokenServiceFromConfig(authCfg, app.logger)

	if app.config.Kratos.PublicURL != "" {
		app.stores = kratosstore.NewStore(app.config.Kratos.PublicURL, storage, kratosstore.WithLogger(app.logger))
		app.logger.Info("using kratos session store", "url", app.config.Kratos.PublicURL)
	} else {
		provider := tenantauth.NewUserProvider(app.repo.Users()).WithLogger(app.logger)

		opts := []tenantauth.LocalStoreOption{tenantauth.WithStoreLogger(app.logger)}
		if app.redis != nil {
			app.relay = cache.NewEventRelay(app.redis, cache.WithRelayLogger(app.logger))
			opts = append(opts, tenantauth.WithEventPublisher(app.relay))
		}

		local := tenantauth.NewLocalSessionStore(provider, app.tokens, storage, opts...)
		if app.relay != nil {
			app.relay.Attach(local)
		}
		app.stores = local
	}

	var resolver tenantauth.EntitlementResolver = repository.NewResolver(app.bunDB).WithLogger(app.logger)
	sinks := tenantauth.ActivitySinks{activitymap.NewLogSink(app.logger)}
	guardOpts := []tenantauth.RouteGuardOption{tenantauth.WithLoginRoute(authCfg.GetLoginRoute())}

	if app.metrics != nil {
		resolver = app.metrics.InstrumentResolver(resolver)
		sinks = append(sinks, app.metrics)
		guardOpts = append(guardOpts, tenantauth.WithDecisionHook(app.metrics.DecisionHook()))
	}
	app.resolver = resolver

	guard, err := tenantauth.NewRouteGuard(guardOpts...)
	if err != nil {
		return err
	}
	app.guard = guard

	app.registry = tenantauth.NewSessionRegistry(func(clientID string) *tenantauth.SessionContext {
		return tenantauth.NewSessionContext(app.stores.Client(clientID), resolver,
			tenantauth.WithClientID(clientID),
			tenantauth.WithSessionLogger(app.logger),
			tenantauth.WithActivitySink(sinks),
		)
	},
		tenantauth.WithIdleTTL(authCfg.GetSessionIdleTTL()),
		tenantauth.WithRegistryLogger(app.logger),
	)
	app.onClose(func(context.Context) error {
		app.registry.Close()
		return nil
	})

	return nil
}

// Run serves HTTP until ctx is done, then shuts everything down
func (a *App) Run(ctx context.Context) error {
	if a.srv == nil {
		return errors.New("http server not configured", errors.CategoryInternal)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.relay != nil {
		go func() {
			if err := a.relay.Run(runCtx, nil); err != nil {
				a.logger.Error("auth event relay stopped", "error", err)
			}
		}()
	}

	go a.registry.Run(runCtx, time.Minute)

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if a.metrics != nil {
					a.metrics.SetSessionContexts(a.registry.Len())
				}
				if a.auth != nil {
					a.auth.Limiter.Prune(10 * time.Minute)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "address", a.config.Server.Address)
		errCh <- a.srv.Serve(a.config.Server.Address)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	if err := a.httpApp.ShutdownWithContext(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown", "error", err)
	}
	return a.Close(shutdownCtx)
}

// Close releases resources in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

type queryLogger struct {
	logger tenantauth.Logger
}

func (q queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (q queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	args := []any{"query", event.Query, "duration", time.Since(event.StartTime)}
	if event.Err != nil {
		args = append(args, "error", event.Err)
	}
	q.logger.Debug("sql", args...)
}
