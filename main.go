package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"nearGoAPI/handlers"
	"nearGoAPI/internal/config"
	"nearGoAPI/internal/migrations"
	"nearGoAPI/internal/notification"
	"nearGoAPI/internal/ratelimit"
	"nearGoAPI/internal/repository"
	"nearGoAPI/internal/token"
	"nearGoAPI/internal/workers"
	"nearGoAPI/middleware"
	"nearGoAPI/services"

	_ "net/http/pprof"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	cfg.ConfigureLogger()

	if cfg.ClerkSecretKey == "" {
		log.Warn("CLERK_SECRET_KEY is not set, session authentication will reject every token")
	}
	clerk.SetKey(cfg.ClerkSecretKey)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := connectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Database unavailable")
	}
	defer func() {
		log.Info("Closing database connection pool...")
		dbPool.Close()
	}()

	if err := migrations.Up(cfg.DatabaseURL); err != nil {
		log.WithError(err).Fatal("Migrations failed")
	}

	signer, err := token.NewSigner(cfg.TokenSigningSecret)
	if err != nil {
		log.WithError(err).Fatal("Invalid token signing secret")
	}

	// Repositories
	entitlementRepo := repository.NewEntitlementRepository(dbPool)
	offerRepo := repository.NewOfferRepository(dbPool)
	preferenceRepo := repository.NewPreferenceRepository(dbPool)
	premiumRepo := repository.NewPremiumRepository(dbPool)
	inboxRepo := repository.NewInboxRepository(dbPool)
	rateCounterRepo := repository.NewRateCounterRepository(dbPool)
	verificationRepo := repository.NewVerificationRepository(dbPool)
	rewardRepo := repository.NewRewardRepository(dbPool)
	accountRepo := repository.NewAccountRepository(dbPool)

	guard := ratelimit.NewGuard(rateCounterRepo)

	var mailer services.Mailer = notification.LogMailer{}
	if cfg.SMTP.Enabled() {
		mailer = notification.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
		log.WithField("host", cfg.SMTP.Host).Info("SMTP mailer initialized")
	} else {
		log.Warn("SMTP_HOST is not set, emails will only be logged")
	}

	var pusher services.Pusher
	if fcmService, err := notification.NewFCMService(ctx, cfg.FCM.CredentialsFile); err != nil {
		log.WithError(err).Warn("Could not initialize FCM, push notifications disabled")
	} else {
		pusher = fcmService
		log.Info("FCM push provider initialized successfully")
	}

	var stripeAPI services.StripeAPI
	if cfg.Stripe.Enabled() {
		stripeAPI = services.NewStripeClient(cfg.Stripe.SecretKey)
	} else {
		log.Warn("STRIPE_SECRET_KEY is not set, checkout is disabled")
	}

	// Services
	entitlementService := services.NewEntitlementService(entitlementRepo, offerRepo, signer, guard, mailer, services.EntitlementConfig{
		PublicBaseURL:   cfg.PublicBaseURL,
		FreeCouponDaily: cfg.Limits.FreeCouponDaily,
	})
	earlyAccessService := services.NewEarlyAccessService(offerRepo, preferenceRepo, premiumRepo, inboxRepo, guard, mailer, pusher, services.EarlyAccessConfig{
		Window:        cfg.EarlyWindow(),
		MonthlyLimit:  cfg.Limits.EarlyMonthly,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	offerService := services.NewOfferService(offerRepo, earlyAccessService, cfg.Stripe.Currency)
	preferenceService := services.NewPreferenceService(preferenceRepo)
	verificationService := services.NewVerificationService(verificationRepo, guard, mailer, services.VerificationConfig{
		PerIdentity:     cfg.Limits.VerifyPerIdentity,
		PerIP:           cfg.Limits.VerifyPerIP,
		ConfirmAttempts: cfg.Limits.VerifyConfirmAttempts,
	})
	rewardsService := services.NewRewardsService(rewardRepo, entitlementService, cfg.RewardsPointsPerCoupon)
	paymentService := services.NewPaymentService(stripeAPI, offerRepo, premiumRepo, entitlementService, rewardsService, services.PaymentConfig{
		PremiumPriceID: cfg.Stripe.PremiumPriceID,
		SuccessURL:     cfg.Stripe.SuccessURL,
		CancelURL:      cfg.Stripe.CancelURL,
	})
	accountService := services.NewAccountService(accountRepo)

	// Handlers
	entitlementHandler := handlers.NewEntitlementHandler(entitlementService)
	offerHandler := handlers.NewOfferHandler(offerService)
	earlyAccessHandler := handlers.NewEarlyAccessHandler(earlyAccessService, accountService)
	preferenceHandler := handlers.NewPreferenceHandler(preferenceService, accountService)
	verificationHandler := handlers.NewVerificationHandler(verificationService)
	rewardsHandler := handlers.NewRewardsHandler(rewardsService, accountService)
	checkoutHandler := handlers.NewCheckoutHandler(paymentService, accountService)
	webhookHandler := handlers.NewWebhookHandler(paymentService, accountService, cfg.Stripe.WebhookSecret, cfg.ClerkWebhookSecret)

	middleware.SetTrustedProxyHops(cfg.TrustedProxyHops)
	auth := middleware.NewAuth(middleware.ClerkVerifier, cfg.ScannerKeys)
	if len(cfg.ScannerKeys) == 0 {
		log.Warn("SCANNER_KEYS is empty, only signed-in sessions can redeem")
	}
	ipLimiter := middleware.NewIPRateLimiter(float64(cfg.Limits.IPRequestsPerSecond), cfg.Limits.IPBurst)
	go ipLimiter.Cleanup(ctx)

	middleware.InitPrometheus(prometheus.DefaultRegisterer)

	r := mux.NewRouter()
	r.Use(ipLimiter.Middleware)
	r.Use(middleware.MonitorMiddleware)

	r.Handle("/metrics", middleware.BasicAuth(cfg.MetricsUser, cfg.MetricsPass)(promhttp.Handler()))
	r.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurity(cfg.PprofSecret)(http.DefaultServeMux))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := dbPool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"ok": false, "status": "unhealthy", "error": "database_unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok": true, "status": "healthy", "service": "neargo-api"}`))
	}).Methods("GET")

	r.HandleFunc("/webhooks/stripe", webhookHandler.HandleStripeWebhook).Methods("POST")
	r.HandleFunc("/webhooks/clerk", webhookHandler.HandleClerkWebhook).Methods("POST")

	// -------------------------------------------------------------------------
	// API V1 SUBROUTER
	// -------------------------------------------------------------------------
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/offers", offerHandler.Search).Methods("GET")
	api.HandleFunc("/offers/{id}", offerHandler.Get).Methods("GET")
	api.HandleFunc("/entitlements/{token}", entitlementHandler.Lookup).Methods("GET")
	api.HandleFunc("/coupons/free", entitlementHandler.FreeCoupon).Methods("POST")
	api.HandleFunc("/verify/request", verificationHandler.Request).Methods("POST")
	api.HandleFunc("/verify/confirm", verificationHandler.Confirm).Methods("POST")

	// Session or scanner key; the handlers decide what each requester may do.
	scan := api.PathPrefix("").Subrouter()
	scan.Use(auth.IdentifyRequester)
	scan.HandleFunc("/redeem", entitlementHandler.Redeem).Methods("POST")
	scan.HandleFunc("/entitlements/cancel", entitlementHandler.Cancel).Methods("POST")

	// -------------------------------------------------------------------------
	// PROTECTED ROUTES (REQUIRE AUTH HEADER)
	// -------------------------------------------------------------------------
	protected := api.PathPrefix("").Subrouter()
	protected.Use(auth.RequireSession)

	protected.HandleFunc("/offers", offerHandler.Submit).Methods("POST")
	protected.HandleFunc("/offers/{id}", offerHandler.Update).Methods("PUT")
	protected.HandleFunc("/early/offers", earlyAccessHandler.Offers).Methods("GET")
	protected.HandleFunc("/early/inbox", earlyAccessHandler.Inbox).Methods("GET")
	protected.HandleFunc("/preferences", preferenceHandler.Get).Methods("GET")
	protected.HandleFunc("/preferences", preferenceHandler.Save).Methods("PUT")
	protected.HandleFunc("/preferences/devices", preferenceHandler.RegisterDevice).Methods("POST")
	protected.HandleFunc("/rewards", rewardsHandler.Balance).Methods("GET")
	protected.HandleFunc("/rewards/convert", rewardsHandler.Convert).Methods("POST")
	protected.HandleFunc("/checkout", checkoutHandler.Ticket).Methods("POST")
	protected.HandleFunc("/checkout/premium", checkoutHandler.Premium).Methods("POST")

	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Scanner-Key", "X-Pprof-Secret"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length", "Retry-After"}),
	)

	worker := workers.New(earlyAccessService, map[string]workers.Expirer{
		"rate_counters":      rateCounterRepo,
		"verification_codes": verificationRepo,
	})
	go worker.Run(ctx)

	server := http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Error starting server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown error")
	}

	log.Info("Server shutdown complete")
}

func connectDB(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("Successfully connected to Postgres")
	return pool, nil
}
