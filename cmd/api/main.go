// Package main is the entry point for the payments API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fullstackragab/wihngo-payments/internal/api"
	"github.com/fullstackragab/wihngo-payments/internal/auth"
	"github.com/fullstackragab/wihngo-payments/internal/chain"
	"github.com/fullstackragab/wihngo-payments/internal/claim"
	"github.com/fullstackragab/wihngo-payments/internal/config"
	"github.com/fullstackragab/wihngo-payments/internal/health"
	"github.com/fullstackragab/wihngo-payments/internal/intent"
	"github.com/fullstackragab/wihngo-payments/internal/jobs"
	"github.com/fullstackragab/wihngo-payments/internal/ledger"
	"github.com/fullstackragab/wihngo-payments/internal/middleware"
	"github.com/fullstackragab/wihngo-payments/internal/notify"
	"github.com/fullstackragab/wihngo-payments/internal/payment"
	"github.com/fullstackragab/wihngo-payments/internal/settlement"
	"github.com/fullstackragab/wihngo-payments/internal/submission"
	"github.com/fullstackragab/wihngo-payments/internal/subscription"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Wihngo Payments API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		logger.Error("failed to ping database", "error", err)
		cancelPing()
		os.Exit(1)
	}
	cancelPing()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	} else {
		logger.Warn("redis not configured; using in-memory rate limiting and notifications")
	}

	solClient := rpc.New(cfg.SolanaRPCURL)

	// Metrics
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}
	settlementMetrics := settlement.NewMetrics()
	if err := settlementMetrics.Register(registry); err != nil {
		logger.Error("failed to register settlement metrics", "error", err)
		os.Exit(1)
	}
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	// Repositories
	intentRepo := intent.NewPostgresRepository(db, logger)
	directory := intent.NewPostgresDirectory(db)
	subscriptionRepo := subscription.NewPostgresRepository(db, logger)
	submissionRepo := submission.NewPostgresRepository(db, logger)
	balanceStore := ledger.NewPostgresStore(db, logger)
	checkoutRepo := payment.NewPostgresCheckoutRepository(db, logger)
	webhookRepo := payment.NewPostgresWebhookRepository(db, logger)

	// Services
	verifier := chain.NewSolanaVerifier(solClient, chain.SolanaConfig{USDCMint: cfg.USDCMint}, logger)
	registryService := intent.NewRegistry(intentRepo, directory, intent.RegistryConfig{
		PlatformWallet:        cfg.PlatformWallet,
		RequiredConfirmations: uint64(cfg.RequiredConfirmations),
		Expiry:                cfg.IntentExpiry(),
		PlatformFeeBps:        int64(cfg.PlatformFeeBps),
		ClaimBaseURL:          cfg.ClaimBaseURL,
	}, logger)

	accumulator := ledger.NewAccumulator(balanceStore)

	var sink notify.Sink
	if redisClient != nil {
		sink = notify.NewRedisSink(redisClient, logger)
	} else {
		sink = notify.NewMemorySink()
	}

	settlementSvc := settlement.NewService(intentRepo, directory, verifier, accumulator, sink, settlementMetrics, logger)
	guard := submission.NewGuard(submissionRepo, intentRepo, verifier, verifier, logger)
	claimSvc := claim.NewService(intentRepo, logger)
	engine := subscription.NewEngine(subscriptionRepo, registryService, logger)

	var stripeClient payment.Client
	if cfg.StripeEnabled() {
		stripeClient = payment.NewStripeClient(cfg.StripeAPIKey)
	}

	// Auth
	var jwtService *auth.JWTService
	if cfg.JWTPreviousSecret != "" {
		jwtService = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	} else {
		jwtService = auth.NewJWTService(cfg.JWTSecret)
	}

	// Handlers
	paymentHandlers := api.NewPaymentHandlers(
		registryService, settlementSvc, guard, claimSvc,
		stripeClient, checkoutRepo,
		cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL,
	)
	subscriptionHandlers := api.NewSubscriptionHandlers(engine)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:     health.NewDBChecker(db),
		RedisChecker:  redisChecker(redisClient),
		SolanaChecker: health.NewSolanaChecker(solClient),
	})

	// Rate limiting
	var rateLimitStore middleware.RateLimitStore
	if redisClient != nil {
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient).WithMetrics(httpMetrics)
	} else {
		rateLimitStore = middleware.NewInMemoryRateLimitStore()
	}
	globalLimiter := middleware.RateLimiter(rateLimitStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc())
	submitLimiter := middleware.RateLimiter(rateLimitStore, middleware.DefaultSubmitLimit(), middleware.IPKeyFunc())

	authRequired := middleware.Authenticate(jwtService)
	optionalAuth := middleware.OptionalAuth(jwtService)

	mux := http.NewServeMux()

	mux.Handle("/payments/intents", authRequired(http.HandlerFunc(paymentHandlers.CreateIntent)))
	mux.Handle("/payments/intents/", optionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/payments/intents/")
		switch {
		case path == "manual":
			paymentHandlers.CreateManualIntent(w, r)
		case strings.HasSuffix(path, "/cancel"):
			paymentHandlers.CancelIntent(w, r)
		default:
			paymentHandlers.GetIntent(w, r)
		}
	})))
	mux.Handle("/payments/confirm", optionalAuth(http.HandlerFunc(paymentHandlers.Confirm)))
	mux.Handle("/payments/submit", submitLimiter(
		middleware.IdempotencyKey()(
			optionalAuth(http.HandlerFunc(paymentHandlers.Submit)))))
	mux.Handle("/payments/claim", authRequired(http.HandlerFunc(paymentHandlers.Claim)))

	if cfg.StripeEnabled() {
		webhookHandlers := api.NewWebhookHandlers(cfg.StripeWebhookSecret, checkoutRepo, webhookRepo, settlementSvc)
		mux.Handle("/payments/checkout", authRequired(http.HandlerFunc(paymentHandlers.CreateCheckout)))
		mux.HandleFunc("/payments/webhook/stripe", webhookHandlers.HandleStripeWebhook)
	}

	mux.Handle("/subscriptions/approvals", authRequired(http.HandlerFunc(subscriptionHandlers.ListPendingApprovals)))
	mux.Handle("/subscriptions/", authRequired(http.HandlerFunc(subscriptionHandlers.Approve)))

	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	profiling := middleware.ProfilingConfig{
		Enabled:     os.Getenv("PPROF_ENABLED") == "true",
		Environment: cfg.Env,
	}
	mux.HandleFunc("/debug/profiling-status", middleware.ProfilingStatus(profiling))

	mux.HandleFunc("/", rootHandler())

	// Apply middleware: RequestID -> Logging -> HTTPMetrics -> CORS -> rate limit
	handler := middleware.RequestID(
		middleware.Logging(logger)(
			middleware.HTTPMetrics(httpMetrics)(
				middleware.CORS(corsConfig())(
					globalLimiter(mux)))))

	// pprof is opt-in and refuses to run in production.
	handler = middleware.Profiling(profiling)(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background settlement sweeps
	sweeper := jobs.NewSweeper(intentRepo, settlementSvc, accumulator, submissionRepo, jobMetrics, logger, jobs.SweeperConfig{})
	stopSweeper := make(chan struct{})
	go sweeper.RunPeriodic(context.Background(), jobs.DefaultSweepInterval, stopSweeper)

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	close(stopSweeper)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// rootHandler serves the service banner at "/" and a JSON 404 for every
// path no other route claimed.
func rootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"wihngo-payments-api","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	}
}

// redisChecker wraps the optional redis client; a nil client means the
// readiness probe skips the check.
func redisChecker(client *redis.Client) api.HealthChecker {
	if client == nil {
		return nil
	}
	return health.NewRedisChecker(client)
}

// corsConfig builds the CORS policy from the ALLOWED_ORIGINS environment
// variable (comma-separated). Empty means no cross-origin access.
func corsConfig() middleware.CORSConfig {
	var origins []string
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return middleware.CORSConfig{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.IdempotencyKeyHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}
}
