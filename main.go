package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"comms-service/internal/access"
	"comms-service/internal/auth"
	"comms-service/internal/calls"
	"comms-service/internal/config"
	"comms-service/internal/db"
	"comms-service/internal/handlers"
	"comms-service/internal/middleware"
	"comms-service/internal/observability"
	"comms-service/internal/presence"
	"comms-service/internal/rabbitmq"
	"comms-service/internal/repositories"
	"comms-service/internal/telemetry"
	"comms-service/internal/ws"
)

// gateAuthorizer adapts the access gate to the call coordinator's
// membership check: joining a call requires read access to the channel.
type gateAuthorizer struct {
	gate *access.Gate
}

func (a gateAuthorizer) Authorize(ctx context.Context, actorID, channelID int) error {
	_, err := a.gate.Require(ctx, actorID, channelID, access.OpRead)
	return err
}

func main() {
	cfg := config.Load()
	ctx := context.Background()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPAddr, "comms-service", cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer(ctx)

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, cfg.AuditRoutingKey, "comms-service", cfg.Environment)

	if cfg.AMQPURL != "" {
		eventsPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("ws event publisher disabled: %v", err)
		} else {
			observability.SetPublisher(eventsPublisher)
			defer eventsPublisher.Close()
		}
	}

	channelRepo := repositories.NewChannelRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	gate := access.NewGate(channelRepo)
	verifier := auth.NewTokenVerifier(cfg.JWTSecret)
	hub := ws.NewHub()

	var presenceStore presence.Store
	if cfg.RedisAddr != "" {
		presenceStore = presence.NewRedisStore(cfg.RedisAddr, cfg.HeartbeatTimeout)
		log.Printf("presence store=redis addr=%s", cfg.RedisAddr)
	} else {
		presenceStore = presence.NewMemoryStore()
		log.Printf("presence store=memory")
	}
	tracker := presence.NewTracker(presenceStore, channelRepo, hub, cfg.HeartbeatTimeout)

	coordinator := calls.NewCoordinator(gateAuthorizer{gate: gate}, hub, cfg.CallIdleTimeout, cfg.CallDisconnectGrace)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go tracker.Run(runCtx)
	go coordinator.Run(runCtx)

	channelHandler := handlers.NewChannelHandler(channelRepo, messageRepo, userRepo, gate, hub, coordinator, auditEmitter)
	messageHandler := handlers.NewMessageHandler(channelRepo, messageRepo, gate, hub, cfg.EditWindow)
	presenceHandler := handlers.NewPresenceHandler(tracker, userRepo)
	gateway := ws.NewGatewayHandler(hub, verifier, tracker, coordinator)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("comms-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/channels", authMiddleware, channelHandler.ListChannels)
	router.POST("/channels", authMiddleware, channelHandler.CreateChannel)
	router.GET("/channels/:channel_id", authMiddleware, channelHandler.GetChannel)
	router.PATCH("/channels/:channel_id", authMiddleware, channelHandler.UpdateChannel)
	router.PUT("/channels/:channel_id/pin", authMiddleware, channelHandler.PinChannel)
	router.POST("/channels/:channel_id/subchannels", authMiddleware, channelHandler.CreateSubChannel)
	router.POST("/channels/:channel_id/members", authMiddleware, channelHandler.AddMember)
	router.DELETE("/channels/:channel_id/members/:user_id", authMiddleware, channelHandler.RemoveMember)
	router.POST("/channels/:channel_id/leave", authMiddleware, channelHandler.LeaveChannel)

	router.GET("/channels/:channel_id/messages", authMiddleware, messageHandler.ListMessages)
	router.POST("/channels/:channel_id/messages", authMiddleware, messageHandler.SendMessage)
	router.PATCH("/channels/:channel_id/messages/:message_id", authMiddleware, messageHandler.EditMessage)
	router.DELETE("/channels/:channel_id/messages/:message_id", authMiddleware, messageHandler.DeleteMessage)
	router.PUT("/channels/:channel_id/messages/:message_id/pin", authMiddleware, messageHandler.PinMessage)
	router.POST("/channels/:channel_id/messages/:message_id/reactions", authMiddleware, messageHandler.ToggleReaction)
	router.POST("/channels/:channel_id/read", authMiddleware, messageHandler.MarkRead)

	router.PUT("/presence", authMiddleware, presenceHandler.UpdatePresence)
	router.GET("/presence", authMiddleware, presenceHandler.GetPresence)

	router.GET("/ws", gateway.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
