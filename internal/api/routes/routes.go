package routes

import (
	"time"

	"visaconnect-relay/internal/api/handlers"
	"visaconnect-relay/internal/api/middleware"
	"visaconnect-relay/internal/config"
	"visaconnect-relay/internal/services"
	"visaconnect-relay/internal/websocket"
	"visaconnect-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Dependencies are the services the HTTP layer exposes.
type Dependencies struct {
	Relay               *websocket.Relay
	ConversationService *services.ConversationService
	Topics              handlers.TopicCounter
	Presence            handlers.PresenceReader
	RateLimiter         middleware.RateLimiter
	Verifier            middleware.TokenVerifier
	HealthChecks        map[string]handlers.HealthCheck
}

type Router struct {
	engine              *gin.Engine
	cfg                 *config.Config
	wsHandler           *handlers.WSHandler
	conversationHandler *handlers.ConversationHandler
	relayHandler        *handlers.RelayHandler
	healthHandler       *handlers.HealthHandler
	presenceHandler     *handlers.PresenceHandler
	rateLimitMW         *middleware.RateLimitMiddleware
	authMW              *middleware.AuthMiddleware
}

func NewRouter(cfg *config.Config, deps Dependencies, log *logger.Logger) *Router {
	gin.SetMode(cfg.Server.Mode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.Relay.AllowedOrigins))
	engine.Use(middleware.LogApi(log))

	return &Router{
		engine:              engine,
		cfg:                 cfg,
		wsHandler:           handlers.NewWSHandler(deps.Relay),
		conversationHandler: handlers.NewConversationHandler(deps.ConversationService, deps.Relay, log),
		relayHandler:        handlers.NewRelayHandler(deps.Relay, deps.Topics),
		healthHandler:       handlers.NewHealthHandler(deps.HealthChecks),
		presenceHandler:     handlers.NewPresenceHandler(deps.Presence, log),
		rateLimitMW:         middleware.NewRateLimitMiddleware(deps.RateLimiter),
		authMW:              middleware.NewAuthMiddleware(deps.Verifier),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", r.healthHandler.Health)

	api := r.engine.Group("/api/v1")

	// The socket authenticates in-band with an "authenticate" frame.
	api.GET("/ws",
		r.rateLimitMW.RateLimitIP(60, time.Minute), // 60 connections per minute per IP
		r.wsHandler.HandleWebSocket,
	)

	// Authenticated routes
	auth := api.Group("/")
	auth.Use(r.authMW.RequireAuth())
	{
		conversations := auth.Group("/conversations")
		conversations.Use(r.rateLimitMW.RateLimit(100, time.Minute)) // 100 requests per minute
		{
			conversations.GET("", r.conversationHandler.GetConversations)
			conversations.POST("", r.conversationHandler.CreateConversation)
			conversations.GET("/:id/messages", r.conversationHandler.GetMessages)
		}

		// Sending is limited separately from reads.
		auth.POST("/conversations/:id/messages",
			r.rateLimitMW.RateLimit(r.cfg.Relay.MessageRateLimit, r.cfg.Relay.RateLimitWindow),
			r.conversationHandler.SendMessage,
		)

		auth.GET("/relay/stats", r.relayHandler.GetStats)
		auth.GET("/presence", r.presenceHandler.GetPresence)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
