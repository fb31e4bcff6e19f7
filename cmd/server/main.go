package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/publora/publora/configs"
	"github.com/publora/publora/internal/api/handlers"
	"github.com/publora/publora/internal/api/middleware"
	job "github.com/publora/publora/internal/jobs"
	"github.com/publora/publora/internal/platform"
	"github.com/publora/publora/internal/queue"
	"github.com/publora/publora/internal/repository"
	"github.com/publora/publora/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
	defer redisClient.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	userRepo := repository.NewUserRepository(db)
	postDetailRepo := repository.NewPostDetailRepository(db)
	scheduleQueueRepo := repository.NewScheduleQueueRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	mediaBundleRepo := repository.NewMediaBundleRepository(db)
	deliveryHistoryRepo := repository.NewDeliveryHistoryRepository(db)
	settingsRepository := repository.NewSettingsRepository(db)
	apiKeyRepository := repository.NewApiKeyRepository(db)

	adapters := platform.Registry{
		"instagram": platform.NewInstagramAdapter(),
		"tiktok":    platform.NewTiktokAdapter(),
		"youtube":   platform.NewYoutubeAdapter(),
	}

	authService := service.NewAuthService(cfg, userRepo)
	userService := service.NewUserService(userRepo)
	r2Service := service.NewR2Service(*cfg)
	mediaService := service.NewMediaBundleService(mediaBundleRepo, r2Service)
	progressSink := service.NewRedisProgressSink(redisClient)
	credentialResolver := service.NewCredentialResolver(cfg, socialAccountRepo)
	publishService := service.NewPublishService(cfg, postDetailRepo, deliveryHistoryRepo, credentialResolver, mediaService, adapters, progressSink)
	postService := service.NewPostService(db, postDetailRepo, scheduleQueueRepo, socialAccountRepo, deliveryHistoryRepo, mediaService, publishService)
	platformService := service.NewPlatformService(cfg, socialAccountRepo)
	instagramService := service.NewInstagramService(cfg, socialAccountRepo)
	tiktokService := service.NewTiktokService(cfg, socialAccountRepo)
	youtubeService := service.NewYoutubeService(cfg, socialAccountRepo)
	settingsService := service.NewSettingsService(settingsRepository)
	apiKeyService := service.NewApiKeyService(apiKeyRepository)

	authMiddleware := middleware.NewAuthMiddleware(cfg, apiKeyService, userService)

	auth := handlers.NewAuthHandler(cfg, authService)
	app.Get("/login", auth.Login)
	app.Get("/login/callback", auth.LoginCallbackHandler)

	platformH := handlers.NewPlatformHandler(platformService, instagramService, tiktokService, youtubeService, userService, cfg)
	app.Get("/auth/:platform", platformH.AddSocialAccount)
	app.Get("/auth/:platform/callback", platformH.CallbackHandler)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	user := handlers.NewUserHandler(userService)
	api.Get("/user/info", user.GetUserInfo)

	settings := handlers.NewSettingsHandler(settingsService)
	api.Get("/settings/info", settings.GetSettingsInfo)
	api.Post("/settings/update", settings.UpdateSettings)

	apiKeys := handlers.NewApiKeyHandler(apiKeyService)
	api.Post("/api_key/new", apiKeys.CreateApiKey)
	api.Get("/api_key/list", apiKeys.ListKeys)
	api.Post("/api_key/remove", apiKeys.RemoveAPIKey)

	post := handlers.NewPostHandler(postService, client)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Post("/posts/cancel", post.CancelPost)
	api.Post("/posts/remove", post.RemovePost)
	api.Get("/posts/history", post.ListHistory)

	// social accounts api routes
	api.Get("/accounts", platformH.ListSocialAccounts)
	api.Post("/accounts/remove", platformH.DeleteSocialAccount)

	// queue
	queueW := queue.NewQueue(cfg, scheduleQueueRepo, postDetailRepo, publishService)

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(socialAccountRepo, youtubeService, tiktokService, instagramService)
	sweepJob := job.NewDeliverySweepJob(cfg, scheduleQueueRepo, queueW)

	c := cron.New()
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.AddFunc("@every 00h01m00s", sweepJob.Sweep)
	c.Start()

	// pick up anything that came due while the process was down
	go sweepJob.Sweep()

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypeDeliveryWake, queueW.HandleDeliveryWakeTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
