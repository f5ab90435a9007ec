package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/app"
	"dispatch/internal/config"
	"dispatch/internal/geo"
	"dispatch/internal/handler"
	"dispatch/internal/hub"
	"dispatch/internal/ratelimit"
	internalRedis "dispatch/internal/redis"
	"dispatch/internal/repository"
	"dispatch/internal/repository/postgres"
	"dispatch/internal/service"
	"dispatch/internal/store"
	"dispatch/internal/wallet"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Printf("failed to initialize New Relic: %v", err)
		} else {
			log.Printf("New Relic enabled: app=%s (with DB instrumentation)", cfg.NewRelic.AppName)
		}
	}

	// The audit archive is optional; without it transition history is
	// only kept in memory on the trip records.
	var auditRepo repository.AuditRepository
	if cfg.Database.Enabled {
		db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer db.Close()
		auditRepo = postgres.NewAuditRepository(db)
		log.Println("Connected to PostgreSQL")
	}

	// Redis backs idempotency replay and the driver offer locks; both
	// degrade gracefully when it is absent.
	var redisClient *redis.Client
	var lockStore internalRedis.LockStoreInterface
	if cfg.Redis.Enabled {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		lockStore = internalRedis.NewLockStore(redisClient)
		log.Println("Connected to Redis")
	}

	// Wire dependencies.
	rematchCtx, stopRematch := context.WithCancel(context.Background())
	defer stopRematch()
	server := wireServer(rematchCtx, cfg, nrApp, redisClient, lockStore, auditRepo)

	// Start server in goroutine.
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	stopRematch()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(
	rematchCtx context.Context,
	cfg *config.Config,
	nrApp *newrelic.Application,
	redisClient *redis.Client,
	lockStore internalRedis.LockStoreInterface,
	auditRepo repository.AuditRepository,
) *http.Server {
	// Core state.
	index := geo.NewIndex(uint(cfg.Geo.Precision), cfg.Geo.StaleAfter)
	limiter := ratelimit.NewLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSecond, cfg.RateLimit.IdleTTL)
	trips := store.NewStore()
	events := hub.NewHub(cfg.Hub.QueueSize, cfg.Hub.Grace)

	var wallets wallet.Service
	if cfg.Wallet.UseMock || cfg.Wallet.BaseURL == "" {
		wallets = wallet.NewMock(cfg.Wallet.DefaultBalance)
		log.Println("Using mock wallet service")
	} else {
		wallets = wallet.NewClient(cfg.Wallet.BaseURL, cfg.Wallet.Timeout)
	}

	// Initialize services.
	policy := service.DefaultMatchingPolicy()
	policy.InitialRadiusMeters = cfg.Matching.InitialRadiusMeters
	policy.MaxRadiusMeters = cfg.Matching.MaxRadiusMeters
	policy.RadiusMultiplier = cfg.Matching.RadiusMultiplier
	policy.CandidateLimit = cfg.Matching.CandidateLimit
	policy.MaxSearchAttempts = cfg.Matching.MaxSearchAttempts
	policy.RematchInterval = cfg.Matching.RematchInterval
	policy.OfferLockTTL = cfg.Matching.OfferLockTTL

	engine := service.NewMatchingEngine(policy, trips, index, limiter, wallets, events, lockStore, auditRepo)
	engine.StartRematcher(rematchCtx)
	driverService := service.NewDriverService(index)

	// Initialize handlers.
	driverHandler := handler.NewDriverHandler(driverService)
	tripHandler := handler.NewTripHandler(engine)
	wsHandler := handler.NewWSHandler(engine, events)
	handler.SetAllowedWebSocketOrigins(cfg.Server.AllowedOrigins)

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		DriverHandler:  driverHandler,
		TripHandler:    tripHandler,
		WSHandler:      wsHandler,
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// Create HTTP server.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
