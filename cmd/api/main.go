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
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/membria/membria-api/internal/config"
	"github.com/membria/membria-api/internal/database"
	"github.com/membria/membria-api/internal/handler"
	"github.com/membria/membria-api/internal/middleware"
	"github.com/membria/membria-api/internal/models"
	"github.com/membria/membria-api/internal/repository"
	"github.com/membria/membria-api/internal/router"
	"github.com/membria/membria-api/internal/service"
	"github.com/membria/membria-api/pkg/videostats"
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

	if err := db.AutoMigrate(
		&models.Session{},
		&models.SessionRegistration{},
		&models.AttendanceRecord{},
		&models.SessionFeedback{},
		&models.ChatMessage{},
		&models.ChatReaction{},
		&models.SessionMute{},
		&models.RaisedHand{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName))
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	chatRepo := repository.NewSessionChatRepository(db)
	analyticsRepo := repository.NewSessionAnalyticsRepository(db)

	limiter := service.NewRateLimiter(redisClient, cfg.Chat, logger)
	moderation := service.NewModerationService(chatRepo, redisClient, cfg.Chat, cfg.ProfanityWords, logger)
	chatService := service.NewSessionChatService(chatRepo, limiter, moderation, redisClient, cfg.Chat, validate, logger)

	hub := service.NewSessionHub(logger)
	transport := service.NewChatTransport(chatService, hub, redisClient, cfg.ChannelBase, natsConn, logger)

	transportCtx, stopTransport := context.WithCancel(context.Background())
	defer stopTransport()
	transport.Start(transportCtx)

	var provider service.VideoStatsProvider
	if client := videostats.New(videostats.Config{
		BaseURL:   cfg.VideoStatsBaseURL,
		APIToken:  cfg.VideoStatsToken,
		AccountID: cfg.VideoStatsAccount,
	}, logger); client != nil {
		provider = client
	}

	analyticsService := service.NewSessionAnalyticsService(analyticsRepo, redisClient, cfg.AnalyticsCacheTTL, provider, cfg.Chat.OnTimeWindow, logger)

	chatHandler := handler.NewSessionChatHandler(chatService, transport, cfg.JWTSecret, logger)
	analyticsHandler := handler.NewSessionAnalyticsHandler(analyticsService, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:      chatHandler,
		AnalyticsHandler: analyticsHandler,
		JWTMiddleware:    middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
