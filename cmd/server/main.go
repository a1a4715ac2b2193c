package main

// @title           VisaConnect Relay API
// @version         1.0
// @description     Conversations API and realtime relay for VisaConnect clients
// @host            localhost:8080
// @BasePath        /api/v1
// @schemes         http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"visaconnect-relay/internal/adapters/kafka"
	"visaconnect-relay/internal/api/handlers"
	"visaconnect-relay/internal/api/routes"
	"visaconnect-relay/internal/config"
	"visaconnect-relay/internal/database"
	"visaconnect-relay/internal/repositories/postgres"
	"visaconnect-relay/internal/services"
	"visaconnect-relay/internal/websocket"
	"visaconnect-relay/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	appLogger, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting relay server", "mode", cfg.Server.Mode)

	// Initialize PostgreSQL connection
	db, err := database.NewPostgresConnection(cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to PostgreSQL", "error", err)
	}
	if err := database.Migrate(db); err != nil {
		appLogger.Fatal("Failed to migrate database", "error", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		appLogger.Fatal("Failed to get database instance", "error", err)
	}
	defer sqlDB.Close()

	// Initialize Redis connection
	redisClient, err := database.NewRedisConnection(cfg.Redis, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize services
	redisService := services.NewRedisService(redisClient, appLogger)
	tokenService := services.NewTokenService(cfg.JWT)
	conversationRepo := postgres.NewConversationRepository(db)
	messageRepo := postgres.NewMessageRepository(db)

	listeners := services.NewListenerService(redisService.Subscribe(ctx), conversationRepo, messageRepo, appLogger, 0)
	go listeners.Run(ctx)

	var events services.EventPublisher
	var producer *kafka.Producer
	if cfg.Kafka.Enabled() {
		syncProducer, err := kafka.InitKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			appLogger.Fatal("Failed to connect to Kafka", "brokers", cfg.Kafka.Brokers, "error", err)
		}
		producer = kafka.NewProducer(syncProducer, cfg.Kafka.Topic, appLogger)
		events = producer
		appLogger.Info("Kafka producer ready", "topic", cfg.Kafka.Topic)
	}

	conversationService := services.NewConversationService(conversationRepo, messageRepo, redisService, events, appLogger)

	// Initialize the realtime relay
	relay := websocket.NewRelay(websocket.Config{
		HeartbeatInterval: cfg.Relay.HeartbeatInterval,
		WriteWait:         cfg.Relay.WriteWait,
		MaxMessageSize:    cfg.Relay.MaxMessageSize,
		SendBufferSize:    cfg.Relay.SendBufferSize,
		AllowedOrigins:    cfg.Relay.AllowedOrigins,
	}, websocket.Dependencies{
		Verifier:          tokenService,
		Conversations:     listeners,
		UserConversations: listeners,
		Presence:          redisService,
	}, appLogger)
	go relay.Run(ctx)

	// Initialize router with all dependencies
	router := routes.NewRouter(cfg, routes.Dependencies{
		Relay:               relay,
		ConversationService: conversationService,
		Topics:              listeners,
		Presence:            redisService,
		RateLimiter:         redisService,
		Verifier:            tokenService,
		HealthChecks: map[string]handlers.HealthCheck{
			"postgres": sqlDB.PingContext,
			"redis":    redisClient.Ping,
		},
	}, appLogger)
	router.SetupRoutes()

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		appLogger.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("Server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests before closing sockets
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}
	if err := relay.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Relay shutdown failed", "error", err)
	}
	stop()
	if err := listeners.Close(shutdownCtx); err != nil {
		appLogger.Error("Listener shutdown failed", "error", err)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			appLogger.Error("Kafka producer close failed", "error", err)
		}
	}

	appLogger.Info("Server stopped")
}
