package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	"github.com/go-redis/redis/v8"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"festLogAPI/handlers"
	"festLogAPI/internal/notification"
	"festLogAPI/internal/resolve"
	"festLogAPI/middleware"
	"festLogAPI/services"

	_ "net/http/pprof"
)

var (
	dbPool            *pgxpool.Pool
	redisClient       *redis.Client
	logService        *services.LogService
	syncService       *services.SyncService
	preferenceService *services.PreferenceService
	registryService   *services.RegistryService
	resolver          *resolve.Resolver
	fcmService        *notification.FCMService
	registryCron      *cron.Cron
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	clerkSecretKey := os.Getenv("CLERK_SECRET_KEY")
	if clerkSecretKey != "" {
		clerk.SetKey(clerkSecretKey)
		log.Println("Clerk initialized successfully")
	} else {
		log.Println("CLERK_SECRET_KEY not set, running with anonymous device keys only")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		log.Fatal("Failed to parse database URL:", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatal("Failed to create connection pool:", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Fatal("Failed to ping database:", err)
	}

	log.Println("Successfully connected to Postgres")

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatal("Failed to parse REDIS_URL:", err)
		}
		redisClient = redis.NewClient(opt)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to connect to Redis:", err)
		}
		log.Println("Connected to Redis")
	} else {
		log.Println("REDIS_URL not set, registry cache is in-memory only")
	}

	registryBaseURL := os.Getenv("REGISTRY_BASE_URL")
	if registryBaseURL == "" {
		log.Fatal("REGISTRY_BASE_URL environment variable is not set")
	}
	defaultFestival := os.Getenv("DEFAULT_FESTIVAL_ID")
	if defaultFestival == "" {
		log.Fatal("DEFAULT_FESTIVAL_ID environment variable is not set")
	}

	registryService = services.NewRegistryService(registryBaseURL, redisClient)
	syncService = services.NewSyncService(dbPool)
	preferenceService = services.NewPreferenceService(dbPool)
	resolver = resolve.New(preferenceService, defaultFestival)
	logService = services.NewLogService(syncService)
	syncService.SetSnapshotSink(logService)

	fcmService, err = notification.NewFCMService("./serviceAccountKey.json")
	if err != nil {
		log.Printf("Warning: Could not initialize FCM, sync pings disabled: %v", err)
	} else {
		syncService.SetPushProvider(fcmService)
		log.Println("FCM sync ping provider initialized successfully")
	}

	middleware.InitPrometheus()
}

func main() {
	defer func() {
		log.Println("Closing database connection pool...")
		dbPool.Close()
	}()

	registryCron = services.StartRegistryCron(registryService)

	scope := handlers.NewFestivalScope(registryService, resolver)
	logHandler := handlers.NewLogHandler(logService, scope)
	syncHandler := handlers.NewSyncHandler(syncService, scope)
	registryHandler := handlers.NewRegistryHandler(registryService, scope)
	preferenceHandler := handlers.NewPreferenceHandler(resolver, registryService)

	r := mux.NewRouter()

	go middleware.CleanupVisitors()

	r.Use(middleware.RateLimitMiddleware)
	r.Use(middleware.MonitorMiddleware)

	r.Handle("/metrics", middleware.BasicAuthMiddleware(promhttp.Handler()))
	r.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(http.DefaultServeMux))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := dbPool.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "festLog-api"}`))
	}).Methods("GET")

	// -------------------------------------------------------------------------
	// API V1 SUBROUTER
	// -------------------------------------------------------------------------
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/festivals", registryHandler.GetFestivals).Methods("GET")
	api.HandleFunc("/festivals/{festivalID}/drinks", registryHandler.GetDrinks).Methods("GET")

	// -------------------------------------------------------------------------
	// PROTECTED ROUTES (BEARER TOKEN OR X-DEVICE-KEY)
	// -------------------------------------------------------------------------
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware)

	protected.HandleFunc("/resolve", preferenceHandler.ResolveRoot).Methods("GET")
	protected.HandleFunc("/user/preferences/festival", preferenceHandler.GetPreference).Methods("GET")
	protected.HandleFunc("/user/preferences/festival", preferenceHandler.SetPreference).Methods("PUT")
	protected.HandleFunc("/user/claim", syncHandler.ClaimIdentity).Methods("POST")

	protected.HandleFunc("/festivals/{festivalID}/log", logHandler.GetLog).Methods("GET")
	protected.HandleFunc("/festivals/{festivalID}/log/summary", logHandler.GetSummary).Methods("GET")
	protected.HandleFunc("/festivals/{festivalID}/log/{drinkID}", logHandler.GetEntry).Methods("GET")
	protected.HandleFunc("/festivals/{festivalID}/log/{drinkID}", logHandler.AddWantToTry).Methods("POST")
	protected.HandleFunc("/festivals/{festivalID}/log/{drinkID}", logHandler.RemoveEntry).Methods("DELETE")
	protected.HandleFunc("/festivals/{festivalID}/log/{drinkID}/notes", logHandler.SetNotes).Methods("PUT")
	protected.HandleFunc("/festivals/{festivalID}/log/{drinkID}/toggle", logHandler.Toggle).Methods("POST")
	protected.HandleFunc("/festivals/{festivalID}/log/{drinkID}/tries", logHandler.MarkTried).Methods("POST")
	protected.HandleFunc("/festivals/{festivalID}/log/{drinkID}/tries", logHandler.UpdateTried).Methods("PUT")
	protected.HandleFunc("/festivals/{festivalID}/log/{drinkID}/tries", logHandler.RemoveTried).Methods("DELETE")

	protected.HandleFunc("/sync/register-device", syncHandler.RegisterDevice).Methods("POST")
	protected.HandleFunc("/sync/{festivalID}", syncHandler.Push).Methods("POST")
	protected.HandleFunc("/sync/{festivalID}", syncHandler.Pull).Methods("GET")

	// CORS configuration
	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Device-Key", "X-Device-ID", "X-Pprof-Secret"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorilllaHandlers.AllowCredentials(),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3333"
	}
	port = ":" + port

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	if registryCron != nil {
		registryCron.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	logService.Flush()

	log.Println("Server shutdown complete")
}
