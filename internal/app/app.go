package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/giftshop/internal/domain/auth"
	"github.com/xenking/giftshop/internal/domain/cart"
	"github.com/xenking/giftshop/internal/domain/catalog"
	"github.com/xenking/giftshop/internal/domain/discount"
	"github.com/xenking/giftshop/internal/domain/order"
	"github.com/xenking/giftshop/internal/domain/payment"
	"github.com/xenking/giftshop/internal/domain/profile"
	"github.com/xenking/giftshop/internal/handler"
	"github.com/xenking/giftshop/internal/payment/stripe"
	"github.com/xenking/giftshop/internal/storage/postgres"
	"github.com/xenking/giftshop/internal/storage/redis"
	"github.com/xenking/giftshop/pkg/health"
	"github.com/xenking/giftshop/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	shipping, err := cfg.Pricing.Shipping()
	if err != nil {
		return errors.Wrap(err, "pricing config")
	}
	packagingCost, err := cfg.Pricing.PackagingCost()
	if err != nil {
		return errors.Wrap(err, "pricing config")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Shared state: Redis when configured, process memory otherwise.
	var (
		snapshots cart.SnapshotStore = cart.NewMemorySnapshots()
		guard     order.Guard        = order.NewLocalGuard()
		limiter   httpmiddleware.Limiter
	)
	if cfg.RedisURL != "" {
		rdb, err := redis.New(ctx, redis.Options{URL: cfg.RedisURL})
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(redisPinger{rdb}))
		snapshots = redis.NewSnapshots(rdb, cfg.Sessions.CartTTL)
		guard = redis.NewGuard(rdb, cfg.Submit.GuardTTL, lg.Named("guard"))
		limiter = redis.NewRateLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
	} else {
		lg.Warn("Redis is not configured, carts and submission guards are process-local")
		sw := httpmiddleware.NewSlidingWindow(cfg.RateLimit.Max, cfg.RateLimit.Window)
		go sw.RunCleanup(ctx)
		limiter = sw
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	catalogRepo := postgres.NewCatalogRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	profileRepo := postgres.NewProfileRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	// Payment provider.
	var gateway payment.Gateway = payment.Unavailable{}
	if cfg.Stripe.SecretKey != "" {
		g, err := stripe.New(cfg.Stripe.SecretKey, cfg.Stripe.Environment, lg.Named("stripe"))
		if err != nil {
			return errors.Wrap(err, "create stripe gateway")
		}
		gateway = g
	} else {
		lg.Warn("Stripe is not configured, card payments are unavailable")
	}

	// Domain services.
	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return errors.Wrap(err, "create token issuer")
	}
	catalogSvc := catalog.NewService(catalogRepo, shipping, packagingCost)
	discounts := discount.NewRepoValidator(discountRepo)
	profiles := profile.NewResolver(profileRepo, lg.Named("profile"))
	accounts := auth.NewService(userRepo, profiles, tokens, auth.DefaultPasswordParams(), lg.Named("auth"))

	metrics, err := order.NewMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create order metrics")
	}
	submitter := order.NewSubmitter(catalogSvc, discounts, gateway, profiles, orderRepo, guard, metrics, order.SubmitConfig{
		ActionTimeout:   cfg.Submit.ActionTimeout,
		PollInterval:    cfg.Submit.PollInterval,
		MaxAttempts:     cfg.Submit.MaxAttempts,
		InitialInterval: cfg.Submit.InitialInterval,
	})

	notifier := cart.NewLogNotifier(lg.Named("cart"))
	sessions := handler.NewSessions(cfg.Sessions.IdleTTL, func(ctx context.Context, key string) *cart.Store {
		return cart.New(ctx, key, catalogSvc, snapshots, notifier, zctx.From(ctx))
	})
	go sessions.Run(ctx, cfg.Sessions.SweepInterval, lg.Named("sessions"))

	// HTTP handlers.
	h := handler.NewHandler(
		handler.HandlerConfig{Currency: cfg.Currency, ImageBaseURL: cfg.ImageBaseURL},
		handler.Deps{
			Catalog:   catalogSvc,
			Discounts: discounts,
			Accounts:  accounts,
			Payments:  gateway,
			Submitter: submitter,
			Orders:    orderRepo,
			Sessions:  sessions,
		},
	)

	// Router: health endpoints + API routes on one server.
	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Card submissions may wait for a payment step-up.
		WriteTimeout:   cfg.Submit.ActionTimeout + 30*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.SessionHeader},
				ExposeHeaders:    []string{handler.SessionHeader, httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{Limiter: limiter}),
			httpmiddleware.Instrument("giftshop-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// redisPinger adapts the go-redis client to health.Pinger.
type redisPinger struct {
	client *goredis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
