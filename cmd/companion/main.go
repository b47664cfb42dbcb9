package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studyhub-companion/internal/config"
	"github.com/noah-isme/studyhub-companion/internal/database"
	"github.com/noah-isme/studyhub-companion/internal/handler"
	"github.com/noah-isme/studyhub-companion/internal/middleware"
	"github.com/noah-isme/studyhub-companion/internal/models"
	"github.com/noah-isme/studyhub-companion/internal/repository"
	"github.com/noah-isme/studyhub-companion/internal/router"
	"github.com/noah-isme/studyhub-companion/internal/service"
	"github.com/noah-isme/studyhub-companion/pkg/apiclient"
	"github.com/noah-isme/studyhub-companion/pkg/realtime"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.AppEnv == "development" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	db, err := database.ConnectSQLite(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open local storage")
	}
	if err := db.AutoMigrate(&models.StoredValue{}, &models.DevicePreference{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate local storage")
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to access local storage")
	}
	defer sqlDB.Close()

	redisClient, err := database.ConnectRedis(context.Background(), cfg.RedisURL, 3*time.Second)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, group cache disabled")
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, event bridge disabled")
		natsConn = nil
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	store := service.NewSessionStore(repository.NewSessionRepository(db), logger)
	client, err := apiclient.New(apiclient.Config{
		Origin:   cfg.APIOrigin,
		BasePath: cfg.APIBasePath,
		Timeout:  cfg.APITimeout,
	}, store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create backend client")
	}

	bus := realtime.NewBus(logger)
	conn, err := realtime.NewConn(realtime.Config{
		URL:        cfg.RealtimeURL(),
		AckTimeout: cfg.RealtimeAckTimeout,
	}, store.Token, bus, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create realtime connection")
	}

	blobs := service.NewBlobStore()
	sessionService := service.NewSessionService(store, client, conn, validate, logger)
	notificationService := service.NewNotificationService(client, bus, logger)
	chatService := service.NewChatService(client, conn, store, blobs, service.ChatSessionConfig{
		Transport:       cfg.ChatTransport,
		MaxUploadBytes:  int64(cfg.UploadMaxMB) * 1024 * 1024,
		PreviewMaxBytes: cfg.PreviewMaxBytes,
	}, validate, logger)
	groupService := service.NewGroupService(client, store, redisClient, cfg.CacheTTL, validate, logger)
	pollService := service.NewPollService(client, validate, logger)
	discussionService := service.NewDiscussionService(client, validate, logger)
	resourceService := service.NewResourceService(client, int64(cfg.UploadMaxMB)*1024*1024, cfg.PreviewMaxBytes, validate, logger)
	meetingService := service.NewMeetingService(client)
	preferenceService := service.NewPreferenceService(repository.NewPreferenceRepository(db), validate, logger)

	sessionService.AddListener(notificationService)
	sessionService.AddListener(chatService)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationService.Start(ctx)
	sessionService.Start(ctx)
	if natsConn != nil {
		service.NewEventBridge(bus, natsConn, "studyhub.events", logger).Start(ctx)
	}

	if err := sessionService.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to restore session")
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AccessLog: cfg.AppEnv == "development"})
	router.Register(app, cfg, router.Dependencies{
		SessionHandler:      handler.NewSessionHandler(sessionService, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger, 30*time.Second),
		ChatHandler: handler.NewChatHandler(chatService, validate,
			middleware.RateLimit("chat_send", cfg.ChatRateLimit, cfg.ChatRateWindow), logger),
		BlobHandler:       handler.NewBlobHandler(blobs),
		GroupHandler:      handler.NewGroupHandler(groupService, pollService, logger),
		DiscussionHandler: handler.NewDiscussionHandler(discussionService, logger),
		ResourceHandler:   handler.NewResourceHandler(resourceService, logger),
		MeetingHandler:    handler.NewMeetingHandler(meetingService, logger),
		PreferenceHandler: handler.NewPreferenceHandler(preferenceService, logger),
		Realtime:          conn,
		Storage:           sqlDB,
		SessionMiddleware: middleware.RequireSession(sessionService),
	})

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress()).Str("backend", cfg.APIOrigin).Msg("companion listening")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(ctx, app, chatService, conn, logger)
}

func waitForShutdown(ctx context.Context, app *fiber.App, chats service.ChatService, conn *realtime.Conn, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	chats.Shutdown(shutdownCtx)
	conn.Disconnect()

	logger.Info().Msg("companion stopped")
}
