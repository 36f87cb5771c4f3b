package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderflow/internal/clients"
	"github.com/xenking/orderflow/internal/clients/inventory"
	"github.com/xenking/orderflow/internal/clients/users"
	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/handler"
	"github.com/xenking/orderflow/internal/lock"
	"github.com/xenking/orderflow/internal/notify"
	"github.com/xenking/orderflow/internal/repository"
	"github.com/xenking/orderflow/internal/storage/memory"
	"github.com/xenking/orderflow/pkg/health"
	"github.com/xenking/orderflow/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	healthSvc := health.New(lg.Named("health"))
	healthSvc.Register(health.Check{
		Name:  "goroutines",
		Probe: health.Liveness,
		Func:  health.GoroutineCountCheck(10000),
	})

	// Order store.
	var store order.Store
	switch cfg.Storage {
	case StorageMemory:
		lg.Warn("Using in-memory order storage; orders are lost on restart")
		store = memory.New()
	default:
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := repository.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		healthSvc.Register(health.Check{
			Name:    "postgres",
			Probe:   health.Readiness,
			Timeout: 5 * time.Second,
			Func:    health.PingCheck(pool),
		})
		store = repository.NewOrderStore(pool)
	}

	// Order locks, SKU locks and the SKU cache are shared through Redis
	// when configured.
	var (
		locker    order.Locker    = lock.NewLocal()
		skuLocker order.Locker    = lock.NewLocal()
		cache     inventory.Cache = inventory.NopCache{}
	)
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		healthSvc.Register(health.Check{
			Name:    "redis",
			Probe:   health.Readiness,
			Timeout: 2 * time.Second,
			Func: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
		locker = lock.NewRedis(rdb, lock.RedisConfig{TTL: cfg.Lock.TTL, Wait: cfg.Lock.Wait}, lg.Named("lock"))
		skuLocker = lock.NewRedis(rdb, lock.RedisConfig{
			TTL:       cfg.Lock.TTL,
			Wait:      cfg.Inventory.Timeout,
			Namespace: "sku",
		}, lg.Named("lock"))
		cache = inventory.NewRedisCache(rdb, cfg.Inventory.CacheTTL)
	}

	// Collaborators.
	httpClient := clients.NewHTTPClient(m.TracerProvider(), m.MeterProvider())
	usersClient := users.New(httpClient, clients.Config{
		BaseURL: cfg.Users.URL,
		Timeout: cfg.Users.Timeout,
	})
	inventoryClient := inventory.New(httpClient, clients.Config{
		BaseURL: cfg.Inventory.URL,
		Timeout: cfg.Inventory.Timeout,
	}, cache, skuLocker, lg.Named("inventory"))

	// Notifications.
	var sinks []notify.Sink
	for _, u := range notify.ParseURLs(cfg.Webhook.URLs) {
		sinks = append(sinks, notify.NewWebhook(httpClient, u, cfg.Webhook.Timeout))
	}
	if brokers := notify.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		sinks = append(sinks, notify.NewKafka(notify.NewKafkaWriter(brokers, cfg.Kafka.Topic)))
	}
	dispatcher, err := notify.New(notify.Config{
		QueueSize: cfg.Webhook.QueueSize,
		Workers:   cfg.Webhook.Workers,
	}, sinks, lg.Named("notify"), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create dispatcher")
	}
	lg.Info("Notification sinks configured", zap.Int("count", len(sinks)))

	// Domain service.
	orders, err := order.NewService(store, usersClient, inventoryClient, dispatcher, locker, order.Options{
		Logger:         lg.Named("order"),
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Router: probes and the orders API on one server.
	router := chi.NewRouter()
	router.Use(httpmiddleware.LogRequests())
	router.Get("/livez", healthSvc.Handler(health.Liveness))
	router.Get("/readyz", healthSvc.Handler(health.Readiness))
	router.Group(func(r chi.Router) {
		r.Use(httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}))
		handler.New(orders).Mount(r)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.Instrument("orders-api", m.TracerProvider(), m.MeterProvider()),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: leave the load balancer, drain requests, then
		// flush queued notifications.
		<-gctx.Done()
		healthSvc.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			lg.Warn("Notifications not drained", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	return g.Wait()
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse url")
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping")
	}
	return rdb, nil
}
