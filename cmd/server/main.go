package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"easyimg/internal/cache"
	"easyimg/internal/config"
	"easyimg/internal/database"
	"easyimg/internal/handlers"
	"easyimg/internal/ids"
	"easyimg/internal/jobs"
	"easyimg/internal/log"
	"easyimg/internal/models"
	"easyimg/internal/moderation"
	"easyimg/internal/notify"
	"easyimg/internal/queue"
	"easyimg/internal/repository"
	"easyimg/internal/security"
	"easyimg/internal/server"
	"easyimg/internal/service"
	"easyimg/internal/storage"
	"easyimg/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if err := database.EnsureSchema(ctx, dbPool); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	objectStore, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}
	if err := objectStore.EnsureBucket(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure bucket failed")
	}

	users := repository.NewUserRepository(dbPool)
	images := repository.NewImageRepository(dbPool)
	tasks := repository.NewTaskRepository(dbPool)
	settings := repository.NewSettingsRepository(dbPool)

	if err := ensureAdminUser(ctx, users, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure admin user")
	}

	httpClient := &http.Client{Timeout: cfg.Moderation.RequestTimeout}
	registry := moderation.NewRegistry(httpClient)
	moderationService := moderation.NewService(registry, settings, objectStore, logger)

	notifier := notify.NewDispatcher(settings, &http.Client{Timeout: 15 * time.Second}, logger)

	producer := queue.NewProducer(redisClient, cfg.Redis.Stream)

	uploadService := service.NewUploadService(images, tasks, objectStore, moderationService, producer, notifier, cfg, logger)
	ingestService := service.NewIngestService(uploadService, &http.Client{}, cfg, logger)

	processor := worker.NewProcessor(tasks, moderationService, notifier, objectStore.PublicURL, logger)
	consumer := queue.NewConsumer(redisClient, cfg.Redis.Stream, cfg.Redis.Group, cfg.Redis.Consumer, time.Minute, logger, processor)
	if err := consumer.EnsureGroup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to create consumer group")
	}
	if err := processor.Recover(ctx, producer); err != nil {
		logger.Error().Err(err).Msg("task recovery failed")
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	go func() {
		if err := consumer.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("consumer stopped")
		}
	}()

	scheduler := jobs.NewScheduler(tasks, producer, images, objectStore, cfg.Moderation.MaxAttempts, logger)
	if err := scheduler.Start(cfg.Moderation.RetrySchedule, cfg.Moderation.SweepSchedule); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	handlerSet := handlers.NewHandlerSet(handlers.Deps{
		Log:        logger,
		Cfg:        cfg,
		DB:         dbPool,
		Cache:      redisClient,
		Store:      objectStore,
		Users:      users,
		Images:     images,
		Tasks:      tasks,
		Upload:     uploadService,
		Ingest:     ingestService,
		Moderation: moderationService,
		Notifier:   notifier,
	})
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, stopWorker, dbPool, redisClient)
}

// ensureAdminUser creates the initial admin account from the environment on
// first boot. An existing account is never overwritten.
func ensureAdminUser(ctx context.Context, users *repository.UserRepository, logger zerolog.Logger) error {
	username := os.Getenv("EASYIMG_ADMIN_USERNAME")
	password := os.Getenv("EASYIMG_ADMIN_PASSWORD")
	if username == "" || password == "" {
		return nil
	}

	if _, err := users.GetByUsername(ctx, username); err == nil {
		return nil
	} else if err != repository.ErrUserNotFound {
		return err
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := users.Create(ctx, models.User{
		ID:           ids.New(),
		Username:     username,
		PasswordHash: hash,
		Role:         models.UserRoleAdmin,
		Status:       models.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return err
	}
	logger.Info().Str("username", username).Msg("admin user created")
	return nil
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, stopWorker context.CancelFunc, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	stopWorker()
	scheduler.Stop()

	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
