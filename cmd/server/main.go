package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/mindtune/api/internal/auth"
	"github.com/mindtune/api/internal/client"
	"github.com/mindtune/api/internal/config"
	"github.com/mindtune/api/internal/handler"
	"github.com/mindtune/api/internal/logger"
	"github.com/mindtune/api/internal/middleware"
	"github.com/mindtune/api/internal/pipeline"
	"github.com/mindtune/api/internal/service"
	"github.com/mindtune/api/internal/storage"
	ws "github.com/mindtune/api/internal/websocket"
	"github.com/mindtune/api/internal/worker"
)

func main() {
	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	flush, err := logger.InitSentry(logger.SentryOptions{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Server.Env,
		Debug:       strings.EqualFold(cfg.Server.LogLevel, "debug"),
	})
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	defer flush()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	asynqClient := asynq.NewClient(redisOpt(cfg))
	defer asynqClient.Close()

	// Attempt history
	store, err := storage.New(cfg.Database.Type, cfg.Database.DSN, cfg.Database.Debug)
	if err != nil {
		log.Fatalf("Failed to open attempt store: %v", err)
	}
	if err := store.Start(ctx); err != nil {
		log.Fatalf("Failed to connect attempt store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate attempt store: %v", err)
	}
	recorder := storage.NewRecorder(store)

	validate := validator.New()
	pipeline.RegisterValidations(validate)

	hub := ws.NewHub()
	go hub.Run()

	// Collaborators
	registryClient := client.NewRegistryClient(&cfg.Registry)
	composerClient := client.NewComposerClient(&cfg.Composer)
	artifactClient := client.NewArtifactClient(&cfg.Artifacts)
	connectionClient := client.NewConnectionClient(&cfg.Connections)

	var prompts pipeline.PromptSynthesizer
	switch strings.ToLower(cfg.Prompt.Provider) {
	case "openai":
		openaiClient := client.NewOpenAIPromptClient(&cfg.Prompt)
		if !openaiClient.IsConfigured() {
			log.Println("Warning: PROMPT_PROVIDER=openai but PROMPT_API_KEY is empty")
		}
		prompts = openaiClient
	default:
		prompts = client.NewPromptClient(&cfg.Prompt)
	}

	// R2 is optional; without it only http(s) audio references can be played back
	var r2Client *client.R2Client
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err = client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		}
	} else {
		log.Println("Info: R2 storage not configured, signed playback disabled")
	}

	var jwksVerifier *auth.JWKSVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			defer jwksVerifier.Close()
		}
	}

	jobStore := service.NewJobStore(redisClient)

	orchestrator := pipeline.New(pipeline.Config{
		Registry:    registryClient,
		Prompts:     prompts,
		Composer:    composerClient,
		Artifacts:   artifactClient,
		Connections: connectionClient,
		Validate:    validate,
		Ledger:      pipeline.NewRedisLedger(redisClient, time.Duration(cfg.Pipeline.LedgerTTL)*time.Hour),
		Observers: []pipeline.Observer{
			recorder,
			worker.NewProgressObserver(jobStore, hub),
		},
		Orphans: recorder,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: cfg.Prompt.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Prompt.BaseDelayMs) * time.Millisecond,
			Multiplier:  2,
		},
		ComposeTimeout: time.Duration(cfg.Composer.Timeout) * time.Second,
	})

	var submitter pipeline.Submitter = orchestrator
	if cfg.Pipeline.OwnerLockEnabled {
		log.Println("Info: per-owner generation lock enabled")
		lock := pipeline.NewRedisOwnerLock(redisClient, time.Duration(cfg.Pipeline.OwnerLockTTL)*time.Second)
		submitter = pipeline.NewLockedOrchestrator(orchestrator, lock)
	}

	authorizer := pipeline.NewAuthorizer(connectionClient)

	// Services
	generationService := service.NewGenerationService(submitter, orchestrator, authorizer, jobStore, asynqClient, store)
	var locator client.AudioLocator
	if r2Client != nil {
		locator = r2Client
	}
	trackService := service.NewTrackService(artifactClient, locator, authorizer, time.Duration(cfg.R2.URLExpiry)*time.Minute)

	// Handlers
	generationHandler := handler.NewGenerationHandler(generationService, validate)
	trackHandler := handler.NewTrackHandler(trackService)

	var tokenVerifier auth.TokenVerifier
	if jwksVerifier != nil {
		tokenVerifier = jwksVerifier
	}
	authHandler := handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret)

	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		var authMiddleware *middleware.AuthMiddleware
		if jwksVerifier != nil && cfg.JWT.Secret != "" {
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(jwksVerifier, cfg.JWT.Secret)
		} else if jwksVerifier != nil {
			authMiddleware = middleware.NewAuthMiddleware(jwksVerifier)
		} else {
			authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
		}
		apiAuthMiddleware = authMiddleware.Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"registry":    registryClient.IsConfigured(),
				"composer":    composerClient.IsConfigured(),
				"artifacts":   artifactClient.IsConfigured(),
				"connections": connectionClient.IsConfigured(),
				"redis":       redisClient.Ping(c.UserContext()).Err() == nil,
				"database":    store.Ping(c.UserContext()) == nil,
				"r2":          r2Client != nil,
				"auth":        jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", apiAuthMiddleware)

	generations := api.Group("/generations")
	generations.Post("/", rateLimiter.GenerationLimit(cfg.RateLimit.GenerationsPerHour), generationHandler.Submit)
	generations.Post("/async", rateLimiter.GenerationLimit(cfg.RateLimit.GenerationsPerHour), generationHandler.SubmitAsync)
	generations.Post("/repair", rateLimiter.RepairLimit(cfg.RateLimit.GenerationsPerHour), generationHandler.Repair)
	generations.Get("/jobs/:jobId", generationHandler.JobStatus)
	generations.Get("/jobs/:jobId/result", generationHandler.JobResult)
	generations.Get("/history", generationHandler.History)
	generations.Get("/history/:attemptId", generationHandler.HistoryDetail)

	tracks := api.Group("/tracks")
	tracks.Get("/", trackHandler.List)
	tracks.Get("/:trackId/playback", trackHandler.Playback)
	api.Get("/sessions/:sessionId/track", trackHandler.BySession)

	app.Use("/ws", apiAuthMiddleware, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", generationHandler.WatchGuard, websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	workerServer := newWorkerServer(cfg)
	go func() {
		mux := asynq.NewServeMux()
		mux.HandleFunc(service.TaskTypeGeneration, worker.NewGenerationWorker(generationService, jobStore, hub).ProcessTask)
		if err := workerServer.Run(mux); err != nil {
			log.Printf("Asynq worker error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		workerServer.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	if cfg.Server.ApiDomain != "" {
		log.Printf("Server starting on %s (public domain %s)", addr, cfg.Server.ApiDomain)
	} else {
		log.Printf("Server starting on %s", addr)
	}
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func newWorkerServer(cfg *config.Config) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				service.QueueGeneration: 1,
			},
			LogLevel: asynqLogLevel,
		},
	)
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	} else {
		logger.Error("unhandled request error", err, logger.Fields{"path": c.Path()})
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
