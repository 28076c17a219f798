package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/drumscribe/api/internal/bus"
	"github.com/drumscribe/api/internal/client"
	"github.com/drumscribe/api/internal/config"
	"github.com/drumscribe/api/internal/handler"
	"github.com/drumscribe/api/internal/middleware"
	"github.com/drumscribe/api/internal/pipeline"
	"github.com/drumscribe/api/internal/service"
	"github.com/drumscribe/api/internal/storage"
	"github.com/drumscribe/api/internal/store"
	"github.com/drumscribe/api/internal/worker"
	ws "github.com/drumscribe/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize storage backends
	localBackend, err := storage.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		log.Fatalf("Failed to initialize local storage: %v", err)
	}
	var remoteBackend storage.Backend
	if cfg.S3.Configured() {
		s3Backend, err := storage.NewS3(&cfg.S3)
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
		remoteBackend = s3Backend
		log.Printf("Object storage enabled (bucket %s)", cfg.S3.Bucket)
	} else {
		log.Println("Object storage not configured, using local storage only")
	}
	objects := storage.NewManager(remoteBackend, localBackend)

	// Initialize job store and progress bus
	jobs := store.NewJobs(redisClient, cfg.Pipeline.Retention)
	progressBus := bus.NewBus(redisClient)

	// Initialize WebSocket hub, bridged to the cross-process bus
	hub := ws.NewHub()
	go hub.Run()
	go hub.ConsumeBus(ctx, progressBus)

	// Initialize services
	transcriptionService := service.NewTranscriptionService(jobs, objects, asynqClient, cfg)
	exportService := service.NewExportService(jobs, objects, cfg)

	// Initialize handlers
	transcriptionHandler := handler.NewTranscriptionHandler(transcriptionService, cfg, validate)
	exportHandler := handler.NewExportHandler(exportService, validate)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.Audio.MaxUploadSize) + 1024*1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		services := fiber.Map{"redis": "ok"}
		if err := redisClient.Ping(c.Context()).Err(); err != nil {
			services["redis"] = "unavailable"
		}
		if objects.RemoteConfigured() {
			services["objectStorage"] = "ok"
		} else {
			services["objectStorage"] = "local-only"
		}
		return c.JSON(fiber.Map{"status": "ok", "services": services})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	// Transcription routes
	transcription := api.Group("/transcription")
	transcription.Post("/upload", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), transcriptionHandler.Upload)
	transcription.Get("/status/:jobId", transcriptionHandler.Status)
	transcription.Get("/result/:jobId", transcriptionHandler.Result)
	transcription.Delete("/:jobId", transcriptionHandler.Delete)

	// Export routes
	export := api.Group("/export", rateLimiter.ExportLimit(cfg.RateLimit.ExportPerHour))
	export.Get("/:kind/:jobId", exportHandler.Download)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, jobs, objects, progressBus)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, jobs *store.Jobs, objects *storage.Manager, progressBus *bus.Bus) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			// One job at a time per worker; a task is acknowledged only
			// after the pipeline finishes, so a crashed worker's job is
			// redelivered.
			Concurrency: 1,
			Queues: map[string]int{
				service.TranscriptionQueue: 1,
			},
			RetryDelayFunc: func(n int, err error, t *asynq.Task) time.Duration {
				return cfg.Pipeline.RetryDelay
			},
		},
	)

	executor := pipeline.NewExecutor(jobs, objects, progressBus, pipeline.Config{
		MinDuration: cfg.Audio.MinDuration,
		MaxDuration: cfg.Audio.MaxDuration,
	})
	if cfg.Pipeline.SeparationURL != "" {
		executor.WithSeparator(pipeline.FallbackSeparator{
			Primary:  client.NewSeparationClient(cfg.Pipeline.SeparationURL, cfg.Pipeline.Timeout),
			Fallback: pipeline.PassThroughSeparator{},
		})
	}

	transcribeWorker := worker.NewTranscribeWorker(executor, jobs)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeTranscription, transcribeWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
