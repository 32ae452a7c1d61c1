package app

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-engine/internal/cache"
	"github.com/xenking/storefront-engine/internal/domain/cart"
	"github.com/xenking/storefront-engine/internal/domain/order"
	"github.com/xenking/storefront-engine/internal/domain/promo"
	"github.com/xenking/storefront-engine/internal/events"
	"github.com/xenking/storefront-engine/internal/handler"
	"github.com/xenking/storefront-engine/pkg/health"
	"github.com/xenking/storefront-engine/pkg/httpmiddleware"
)

const serviceName = "storefront-api"

// Telemetry provides the OpenTelemetry providers. *app.Telemetry from
// go-faster/sdk implements it.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// service is the assembled application without its listener.
type service struct {
	handler http.Handler
	health  *health.Health

	events     errgroup.Group
	stopEvents context.CancelFunc
	closers    []func()
}

// shutdownEvents flushes queued events and waits for the publisher.
func (s *service) shutdownEvents() error {
	s.stopEvents()
	return s.events.Wait()
}

// Close releases clients and the store in reverse order of creation.
func (s *service) Close() {
	for _, c := range slices.Backward(s.closers) {
		c()
	}
}

func build(ctx context.Context, lg *zap.Logger, tel Telemetry, cfg *Config) (_ *service, rerr error) {
	svc := &service{health: health.New()}
	defer func() {
		if rerr != nil {
			svc.Close()
		}
	}()

	st, err := openStore(ctx, lg, cfg.Storage)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, st.close)

	svc.health.AddReadinessCheck("store", 5*time.Second, st.ping)
	svc.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Checkout always validates against the store. Only cart pricing may see
	// a cached promo.
	checkoutPromos := promo.NewRepoValidator(st.promos)
	displayPromos := checkoutPromos
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		svc.closers = append(svc.closers, func() { _ = rdb.Close() })
		displayPromos = promo.NewRepoValidator(cache.NewPromoRepository(st.promos, rdb, cfg.Redis.PromoTTL))
		svc.health.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb), health.WithThresholds(5, 1))
		lg.Info("Promo cache enabled", zap.String("redis", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.PromoTTL))
	}

	// Events are published from their own context so in-flight requests can
	// still queue them while the server drains.
	pubCtx, stopEvents := context.WithCancel(context.WithoutCancel(ctx))
	svc.stopEvents = stopEvents
	svc.closers = append(svc.closers, stopEvents)

	orderOpts := []order.Option{order.WithTelemetry(tel.TracerProvider(), tel.MeterProvider())}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := events.NewPublisher(
			events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			lg.Named("events"), serviceName, cfg.Kafka.Buffer,
		)
		svc.events.Go(func() error { return pub.Run(pubCtx) })
		orderOpts = append(orderOpts, order.WithNotifier(pub))
		svc.health.AddReadinessCheck("kafka", 3*time.Second, health.KafkaCheck(cfg.Kafka.Brokers), health.WithThresholds(5, 1))
		lg.Info("Order events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	orderService, err := order.NewService(st.products, checkoutPromos, st.payments, st.orders, orderOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	h := handler.NewHandler(
		st.products,
		st.payments,
		displayPromos,
		cart.NewService(st.products, displayPromos),
		orderService,
	)
	router := h.Router(handler.RouterConfig{
		Auth: handler.NewAPIKeyAuth(st.apiKeys, []byte(cfg.APIKeyPepper)),
		Throttle: httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
	})
	router.Get("/livez", svc.health.LiveEndpoint)
	router.Get("/readyz", svc.health.ReadyEndpoint)

	svc.handler = httpmiddleware.Wrap(router,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", handler.HeaderOrderToken, handler.HeaderAPIKey, httpmiddleware.HeaderRequestID},
			ExposeHeaders:    []string{"Location", httpmiddleware.HeaderRequestID},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.Instrument(serviceName, tel.TracerProvider(), tel.MeterProvider()),
		httpmiddleware.LogRequests(),
	)

	svc.health.Start(ctx, 10*time.Second)
	svc.closers = append(svc.closers, svc.health.Stop)
	svc.health.SetReady(true)
	return svc, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, tel Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("storage", cfg.Storage.Driver))

	svc, err := build(ctx, lg, tel, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := svc.shutdownEvents(); err != nil {
			lg.Error("Event publisher stopped with error", zap.Error(err))
		}
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
