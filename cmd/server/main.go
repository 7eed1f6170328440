package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"autopilot/internal/allowlist"
	"autopilot/internal/autonomy"
	"autopilot/internal/config"
	"autopilot/internal/crypto"
	"autopilot/internal/database"
	"autopilot/internal/handlers"
	"autopilot/internal/health"
	"autopilot/internal/jobs"
	"autopilot/internal/logging"
	"autopilot/internal/middleware"
	"autopilot/internal/reasoning"
	"autopilot/internal/services"
	"autopilot/internal/store"
	"autopilot/internal/workflow"
	"autopilot/pkg/auth"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

// workflowEngine is what main needs from either engine
type workflowEngine interface {
	workflow.Engine
	workflow.Worker
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Autopilot Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s)", cfg.Port, cfg.Environment)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	instanceID := uuid.New().String()
	healthChecks := map[string]handlers.HealthCheck{}

	// Persistence: MongoDB when configured, in-memory otherwise
	var stores *store.Stores
	if cfg.MongoURI != "" {
		log.Println("🔗 Connecting to MongoDB...")
		mongoDB, err := database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
		}
		defer mongoDB.Close(context.Background())

		if err := mongoDB.Initialize(rootCtx); err != nil {
			log.Fatalf("❌ Failed to initialize MongoDB: %v", err)
		}
		stores = store.NewMongoStores(mongoDB)
		healthChecks["mongodb"] = mongoDB.Ping
		log.Println("✅ MongoDB connected successfully")
	} else {
		if cfg.IsProduction() {
			log.Fatal("❌ MONGODB_URI is required in production")
		}
		stores = store.NewMemoryStores()
		log.Println("⚠️ MONGODB_URI not set - using in-memory stores (data is lost on restart)")
	}

	// Redis: workflow engine, learning locks, cross-instance draft events
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		var err error
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (durable workflows run in-process)", err)
			redisService = nil
		} else {
			defer redisService.Close()
			healthChecks["redis"] = redisService.Ping
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - durable workflows run in-process and are not crash-recoverable")
	}

	// Gate audit log (optional)
	var auditService *services.GateAuditService
	if cfg.DatabaseURL != "" {
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to audit database: %v", err)
		}
		defer db.Close()

		if err := db.Initialize(); err != nil {
			log.Fatalf("❌ Failed to initialize audit database: %v", err)
		}
		auditService = services.NewGateAuditService(db)
		healthChecks["audit_db"] = db.PingContext
		log.Println("✅ Gate audit log enabled")
	} else {
		log.Println("⚠️ DATABASE_URL not set - gate decisions are not audited")
	}

	// Note encryption (required in production)
	var encryptionService *crypto.EncryptionService
	if cfg.EncryptionMasterKey != "" {
		var err error
		encryptionService, err = crypto.NewEncryptionService(cfg.EncryptionMasterKey)
		if err != nil {
			log.Fatalf("❌ Failed to initialize encryption: %v", err)
		}
		log.Println("✅ Encryption service initialized")
	} else if cfg.IsProduction() {
		log.Fatal("❌ CRITICAL SECURITY ERROR: ENCRYPTION_MASTER_KEY is required in production. Generate with: openssl rand -hex 32")
	} else {
		log.Println("⚠️ ENCRYPTION_MASTER_KEY not set - outcome notes stored in clear (development mode only)")
	}

	// Reasoning backend
	catalog, err := reasoning.LoadCatalog(cfg.PromptsFile)
	if err != nil {
		log.Fatalf("❌ Failed to load prompt catalog: %v", err)
	}
	go catalog.Watch(rootCtx)
	backend := newReasoningBackend(rootCtx, cfg, catalog)
	if tracked, ok := backend.(interface{ Health() *health.Tracker }); ok {
		healthChecks["reasoning"] = tracked.Health().Check
	}

	metrics := services.NewMetrics(prometheus.DefaultRegisterer)

	// The allowlist is built once and shared read-only
	registry := allowlist.DefaultRegistry()
	log.Printf("🛡️  [GATE] Allowlist loaded with %d capabilities", registry.Len())

	gateOpts := []autonomy.Option{autonomy.WithObserver(metrics)}
	if auditService != nil {
		gateOpts = append(gateOpts, autonomy.WithAuditSink(auditService))
	}
	gate := autonomy.NewGate(registry, gateOpts...)

	// Draft events
	pubsubService := services.NewPubSubService(redisService, instanceID)
	if err := pubsubService.Start(); err != nil {
		log.Printf("⚠️ Failed to start PubSub: %v", err)
	}

	// Workflow engine
	wfRegistry := workflow.NewRegistry()
	engine := newWorkflowEngine(cfg, redisService, wfRegistry, metrics)

	contexts := services.NewContextBuilder(stores, cfg.ContextStrategyLimit, cfg.ContextOutcomeLimit)
	orchestrator := services.NewOrchestratorService(services.OrchestratorConfig{
		Stores:    stores,
		Reasoning: backend,
		Gate:      gate,
		Actions:   services.NewActionHandlers(registry, backend),
		Contexts:  contexts,
		Engine:    engine,
		TaskQueue: cfg.WorkflowTaskQueue,
		Events:    pubsubService,
		Metrics:   metrics,
	})
	orchestrator.RegisterWorkflows(wfRegistry)
	if err := engine.Run(rootCtx); err != nil {
		log.Fatalf("❌ Failed to start workflow engine: %v", err)
	}

	var locker services.UserLocker
	if redisService != nil {
		locker = services.NewRedisUserLocker(redisService, 2*time.Minute)
	} else {
		locker = services.NewLocalUserLocker()
	}

	intakeService := services.NewIntakeService(stores.Signals, contexts, orchestrator, metrics)
	learningService := services.NewLearningService(stores, backend, locker, encryptionService, metrics, cfg.ContextStrategyLimit)
	draftService := services.NewDraftService(stores.Drafts, pubsubService)

	// Background jobs
	jobScheduler := jobs.NewJobScheduler()
	sweep, err := jobs.NewStuckSignalSweepJob(stores.Signals, cfg.SignalSweepCron, cfg.SignalStuckTTL)
	if err != nil {
		log.Fatalf("❌ Failed to create stuck-signal sweep: %v", err)
	}
	jobScheduler.Register("stuck_signal_sweep", sweep)
	healthChecks["stuck_signal_sweep"] = func(context.Context) error {
		return jobScheduler.Check("stuck_signal_sweep")
	}
	if err := jobScheduler.Start(); err != nil {
		log.Fatalf("❌ Failed to start job scheduler: %v", err)
	}

	// Auth
	var jwtAuth *auth.JWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewJWTAuth(cfg.JWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
		log.Println("🔐 JWT authentication enabled")
	} else if cfg.IsProduction() {
		log.Fatal("❌ CRITICAL SECURITY ERROR: JWT_SECRET is required in production")
	} else {
		log.Printf("⚠️  JWT_SECRET not set - every request runs as %q (development mode only)", middleware.DevUserID)
	}

	app := fiber.New(fiber.Config{
		AppName:      "Autopilot v1.0",
		ReadTimeout:  2 * cfg.ReasoningTimeout,
		WriteTimeout: 2 * cfg.ReasoningTimeout,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prom := fiberprometheus.New("autopilot")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: cfg.AllowedOrigins != "*",
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	rateLimitConfig := middleware.NewRateLimitConfig(cfg.RateLimitDefault, cfg.RateLimitSignals, cfg.Environment)
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	app.Get("/health", handlers.NewHealthHandler(healthChecks).WithJobs(jobScheduler.GetStatus).Handle)

	signalHandler := handlers.NewSignalHandler(intakeService)
	outcomeHandler := handlers.NewOutcomeHandler(learningService)
	draftHandler := handlers.NewDraftHandler(draftService)
	capabilityHandler := handlers.NewCapabilityHandler(registry)
	draftStreamHandler := handlers.NewDraftStreamHandler(pubsubService, metrics)

	api := app.Group("/api", middleware.AuthMiddleware(jwtAuth, cfg.Environment))

	api.Post("/signals", middleware.SignalRateLimiter(rateLimitConfig), signalHandler.Ingest)
	api.Get("/signals", signalHandler.List)
	api.Get("/signals/:id", signalHandler.Get)

	api.Post("/outcomes", outcomeHandler.Record)
	api.Get("/outcomes", outcomeHandler.List)

	api.Get("/drafts", draftHandler.List)
	api.Get("/drafts/:id", draftHandler.Get)
	api.Post("/drafts/:id/approve", draftHandler.Approve)
	api.Post("/drafts/:id/deny", draftHandler.Deny)
	api.Post("/drafts/:id/executed", draftHandler.MarkExecuted)

	api.Get("/capabilities", capabilityHandler.List)

	// WebSocket route (requires auth)
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	wsConfig := websocket.Config{Origins: strings.Split(cfg.AllowedOrigins, ",")}
	app.Get("/ws/drafts",
		middleware.WebSocketRateLimiter(rateLimitConfig),
		middleware.AuthMiddleware(jwtAuth, cfg.Environment),
		websocket.New(draftStreamHandler.Handle, wsConfig),
	)

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("🔌 Draft stream: ws://localhost:%s/ws/drafts", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		// Stop accepting HTTP first so no new workflows are started
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}

		if !engine.Shutdown(30 * time.Second) {
			log.Println("⚠️ Workflow runs still active after 30s; they will be reclaimed on the next start")
		}

		jobScheduler.Stop()

		if err := pubsubService.Stop(); err != nil {
			log.Printf("⚠️ Error stopping PubSub: %v", err)
		}
		cancelRoot()
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// newReasoningBackend picks the configured provider. Without credentials every
// prompt fails and signals are recorded with an error.
func newReasoningBackend(ctx context.Context, cfg *config.Config, catalog *reasoning.Catalog) reasoning.Backend {
	switch cfg.ReasoningProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			break
		}
		backend, err := reasoning.NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.ReasoningModel, cfg.ReasoningRPS, catalog)
		if err != nil {
			log.Printf("⚠️ [REASONING] Failed to create Gemini backend: %v", err)
			break
		}
		log.Println("🧠 [REASONING] Using Gemini backend")
		return backend
	default:
		if cfg.ReasoningBaseURL == "" || cfg.ReasoningAPIKey == "" {
			break
		}
		log.Printf("🧠 [REASONING] Using OpenAI-compatible backend at %s", cfg.ReasoningBaseURL)
		return reasoning.NewOpenAIBackend(reasoning.OpenAIConfig{
			BaseURL:           cfg.ReasoningBaseURL,
			APIKey:            cfg.ReasoningAPIKey,
			Model:             cfg.ReasoningModel,
			RequestsPerSecond: cfg.ReasoningRPS,
			Timeout:           cfg.ReasoningTimeout,
		}, catalog)
	}

	log.Println("⚠️ [REASONING] No reasoning backend configured - signals will be stored with an error")
	return reasoning.Disabled()
}

// newWorkflowEngine uses Redis when available so runs survive restarts
func newWorkflowEngine(cfg *config.Config, redisService *services.RedisService, registry *workflow.Registry, metrics *services.Metrics) workflowEngine {
	wfConfig := workflow.Config{
		TaskQueue:   cfg.WorkflowTaskQueue,
		Workers:     cfg.WorkflowWorkers,
		MaxAttempts: cfg.WorkflowMaxAttempts,
		Lease:       cfg.WorkflowLease,
		Observer:    metrics,
	}

	if redisService != nil {
		engine, err := workflow.NewRedisEngine(redisService.Client(), redisService, registry, wfConfig)
		if err == nil {
			log.Printf("✅ [WORKFLOW] Redis engine on queue %q with %d workers", cfg.WorkflowTaskQueue, cfg.WorkflowWorkers)
			return engine
		}
		log.Printf("⚠️ [WORKFLOW] Failed to create Redis engine: %v (falling back to in-process)", err)
	}

	log.Printf("⚠️ [WORKFLOW] In-process engine on queue %q: runs are lost on restart", cfg.WorkflowTaskQueue)
	return workflow.NewLocalEngine(registry, wfConfig)
}
