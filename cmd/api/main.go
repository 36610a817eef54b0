package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/aifeed/chatdock/internal/config"
	"github.com/aifeed/chatdock/internal/database"
	"github.com/aifeed/chatdock/internal/dock"
	"github.com/aifeed/chatdock/internal/handler"
	"github.com/aifeed/chatdock/internal/middleware"
	"github.com/aifeed/chatdock/internal/models"
	"github.com/aifeed/chatdock/internal/observability"
	"github.com/aifeed/chatdock/internal/repository"
	"github.com/aifeed/chatdock/internal/router"
	"github.com/aifeed/chatdock/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Conversation{}, &models.Message{}, &models.Profile{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	observability.RegisterMetrics()

	validate := validator.New(validator.WithRequiredStructEnabled())

	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	profileRepo := repository.NewProfileRepository(db)

	dockService := service.NewDockService(service.Options{
		Conversations:   conversationRepo,
		Messages:        messageRepo,
		Profiles:        profileRepo,
		Redis:           redisClient,
		NATS:            natsConn,
		Registry:        dock.Default(),
		Validator:       validate,
		Logger:          logger,
		ChannelBase:     cfg.ChannelBase,
		LastMessageTTL:  cfg.LastMessageTTL,
		PresenceTTL:     cfg.PresenceTTL,
		SendBufferSize:  cfg.SessionSendDepth,
		DefaultViewport: cfg.DefaultViewport,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dockService.Start(ctx)

	dockHandler := handler.NewDockHandler(dockService, dock.Default(), validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		DockHandler:   dockHandler,
		JWTMiddleware: middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(ctx, app)
}

func waitForShutdown(ctx context.Context, app *fiber.App) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
