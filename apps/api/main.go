package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	fleethandler "github.com/mutare-labs/fleetpay-saas/domains/fleet/be/handler"
	fleetrepo "github.com/mutare-labs/fleetpay-saas/domains/fleet/be/repo"
	fleetservice "github.com/mutare-labs/fleetpay-saas/domains/fleet/be/service"
	impersonationhandler "github.com/mutare-labs/fleetpay-saas/domains/impersonation/be/handler"
	impersonationservice "github.com/mutare-labs/fleetpay-saas/domains/impersonation/be/service"
	paymentshandler "github.com/mutare-labs/fleetpay-saas/domains/payments/be/handler"
	paymentsrepo "github.com/mutare-labs/fleetpay-saas/domains/payments/be/repo"
	paymentsservice "github.com/mutare-labs/fleetpay-saas/domains/payments/be/service"
	remittanceshandler "github.com/mutare-labs/fleetpay-saas/domains/remittances/be/handler"
	remittancesrepo "github.com/mutare-labs/fleetpay-saas/domains/remittances/be/repo"
	remittancesservice "github.com/mutare-labs/fleetpay-saas/domains/remittances/be/service"
	tenantshandler "github.com/mutare-labs/fleetpay-saas/domains/tenants/be/handler"
	tenantsrepo "github.com/mutare-labs/fleetpay-saas/domains/tenants/be/repo"
	tenantsservice "github.com/mutare-labs/fleetpay-saas/domains/tenants/be/service"
	usershandler "github.com/mutare-labs/fleetpay-saas/domains/users/be/handler"
	usersrepo "github.com/mutare-labs/fleetpay-saas/domains/users/be/repo"
	usersservice "github.com/mutare-labs/fleetpay-saas/domains/users/be/service"
	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	platformauth "github.com/mutare-labs/fleetpay-saas/platform/go/auth"
	platformlogging "github.com/mutare-labs/fleetpay-saas/platform/go/logging"
	platformmiddleware "github.com/mutare-labs/fleetpay-saas/platform/go/middleware"
	"github.com/mutare-labs/fleetpay-saas/platform/go/persistence"
	"github.com/mutare-labs/fleetpay-saas/platform/go/ratelimit"
	tenantmiddleware "github.com/mutare-labs/fleetpay-saas/platform/go/tenant/middleware"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"local"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	BootstrapSchema bool          `env:"BOOTSTRAP_SCHEMA" envDefault:"false"`

	AuthProvider        string `env:"AUTH_PROVIDER" envDefault:"firebase"` // firebase | dev
	FirebaseCredentials string `env:"FIREBASE_CREDENTIALS"`

	PaynowIntegrationKey string        `env:"PAYNOW_INTEGRATION_KEY,required"`
	ReplayRetention      time.Duration `env:"REPLAY_RETENTION" envDefault:"1h"`
	WebhookRateLimit     int           `env:"WEBHOOK_RATE_LIMIT" envDefault:"60"`
	WebhookRateWindow    time.Duration `env:"WEBHOOK_RATE_WINDOW" envDefault:"1m"`

	ImpersonationTTL              time.Duration `env:"IMPERSONATION_SESSION_TTL" envDefault:"1h"`
	ImpersonationMaxSessions      int           `env:"IMPERSONATION_MAX_SESSIONS" envDefault:"3"`
	ImpersonationRateLimit        int           `env:"IMPERSONATION_RATE_LIMIT" envDefault:"5"`
	ImpersonationRateWindow       time.Duration `env:"IMPERSONATION_RATE_WINDOW" envDefault:"15m"`
	ImpersonationMinJustification int           `env:"IMPERSONATION_MIN_JUSTIFICATION" envDefault:"10"`

	// When set, the replay guard and rate-limit budgets live in Redis so they
	// hold across instances. Empty means in-process state, single instance only.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component:   "api-server",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if cfg.BootstrapSchema {
		if err := persistence.BootstrapSchema(ctx, pool); err != nil {
			logger.Fatal("bootstrap schema", zap.Error(err))
		}
	}

	auditStore := audit.NewStore(pool)

	tenantDB := persistence.NewTenantDB(persistence.TenantDBConfig{
		Pool:  pool,
		Audit: auditStore,
	})

	var redisClient redis.UniversalClient
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close() // nolint:errcheck
	}

	var (
		limitStore  ratelimit.Store
		replayGuard paymentsservice.ReplayGuard
	)
	if redisClient != nil {
		limitStore = ratelimit.NewRedisStore(redisClient, "fleetpay:ratelimit")
		replayGuard = paymentsservice.NewRedisReplayGuard(redisClient, cfg.ReplayRetention)
	} else {
		limitStore = ratelimit.NewMemoryStore()
		replayGuard = paymentsservice.NewMemoryReplayGuard(cfg.ReplayRetention)
	}

	tenantService := tenantsservice.New(tenantsrepo.NewPostgresRepository(pool), auditStore)
	tenantHTTPHandler := tenantshandler.New(tenantService, logger)

	userService := usersservice.New(usersrepo.NewPostgresRepository(tenantDB), auditStore)
	userHTTPHandler := usershandler.New(userService, logger)

	fleetService := fleetservice.New(fleetrepo.NewPostgresRepository(tenantDB), auditStore)
	fleetHTTPHandler := fleethandler.New(fleetService, logger)

	remittanceService := remittancesservice.New(
		remittancesrepo.NewPostgresRepository(tenantDB),
		fleetService,
		fleetService,
		auditStore,
	)
	remittanceHTTPHandler := remittanceshandler.New(remittanceService, logger)

	paymentService := paymentsservice.New(paymentsservice.Config{
		Repo:    paymentsrepo.NewPostgresRepository(tenantDB),
		Gateway: paymentsservice.NewPaynowGateway(cfg.PaynowIntegrationKey),
		Tenants: tenantService,
		Audit:   auditStore,
		Logger:  logger,
	})
	paymentHTTPHandler := paymentshandler.New(paymentService, logger)

	webhookHandler := paymentshandler.NewWebhook(paymentshandler.WebhookConfig{
		Service:        paymentService,
		Guard:          replayGuard,
		Limiter:        ratelimit.NewLimiter(limitStore, cfg.WebhookRateLimit, cfg.WebhookRateWindow),
		Audit:          auditStore,
		IntegrationKey: cfg.PaynowIntegrationKey,
		Logger:         logger,
	})

	impersonationService := impersonationservice.New(impersonationservice.Config{
		Users:            userService,
		Limiter:          ratelimit.NewLimiter(limitStore, cfg.ImpersonationRateLimit, cfg.ImpersonationRateWindow),
		Audit:            auditStore,
		Logger:           logger,
		SessionTTL:       cfg.ImpersonationTTL,
		MaxConcurrent:    cfg.ImpersonationMaxSessions,
		MinJustification: cfg.ImpersonationMinJustification,
	})
	impersonationHTTPHandler := impersonationhandler.New(impersonationService, logger)

	authMiddleware := buildAuthMiddleware(ctx, cfg, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
		audit.ClientMetaMiddleware,
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	// Gateway notifications are unauthenticated; the webhook handler carries
	// its own defenses (rate limit, hash check, replay guard).
	rootRouter.Mount("/webhooks", webhookHandler.Routes())

	apiRouter := chi.NewRouter()
	apiRouter.Use(authMiddleware)

	// Platform surface: the tenant registry needs no tenant scope, only the
	// manage-tenants capability.
	apiRouter.Group(func(r chi.Router) {
		r.Use(platformauth.RequireCapability(platformauth.CapManageTenants))
		r.Mount("/tenants", tenantHTTPHandler.Routes())
	})

	// Tenant surface: everything below runs with a tenant scope attached.
	apiRouter.Group(func(r chi.Router) {
		r.Use(tenantmiddleware.WithTenantScope(tenantService, tenantmiddleware.Config{
			CacheTTL: time.Minute,
		}))

		r.Group(func(r chi.Router) {
			r.Use(platformauth.RequireCapability(platformauth.CapManageFleet))
			r.Mount("/users", userHTTPHandler.Routes())
			r.Mount("/fleet", fleetHTTPHandler.Routes())
		})

		r.Mount("/remittances", remittanceHTTPHandler.Routes())
		r.Mount("/billing", paymentHTTPHandler.Routes())
		r.Mount("/impersonation", impersonationHTTPHandler.Routes())
	})

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
