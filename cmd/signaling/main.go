package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mossy-p/collab-signaling/config"
	"github.com/mossy-p/collab-signaling/internal/auth"
	"github.com/mossy-p/collab-signaling/internal/handlers"
	"github.com/mossy-p/collab-signaling/internal/memory"
	"github.com/mossy-p/collab-signaling/internal/middleware"
	"github.com/mossy-p/collab-signaling/internal/presence"
	"github.com/mossy-p/collab-signaling/internal/room"
	"github.com/mossy-p/collab-signaling/internal/signaling"
)

func main() {
	// Load .env if present, then configuration
	godotenv.Load()
	cfg := config.Load()

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Optional advisory presence mirror
	var mirror *presence.Mirror
	if cfg.Redis.Addr != "" {
		mirror, err = presence.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger.Named("presence"))
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer mirror.Close()
		logger.Info("presence mirror enabled", zap.String("addr", cfg.Redis.Addr))
	}

	authMgr := auth.NewManager(cfg.TokenSecret, cfg.TokenTTL, logger.Named("auth"))

	roomMgr := room.NewManager(room.Config{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		IdleGrace:        cfg.RoomIdleGrace,
		InactivityMax:    cfg.RoomInactivityMax,
	}, logger.Named("room"))

	signalSrv := signaling.NewServer(authMgr, roomMgr, mirror,
		cfg.HeartbeatInterval, cfg.SweepInterval, logger.Named("signaling"))

	monitor := memory.NewMonitor(roomMgr, cfg.MemoryCheckInterval,
		cfg.MemoryWarningMB, cfg.MemoryCriticalMB, logger.Named("memory"))

	// Periodic tasks: heartbeat emit, staleness sweep, memory sample
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go signalSrv.RunHeartbeat(ctx)
	go signalSrv.RunSweep(ctx)
	go monitor.Run(ctx)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins, logger.Named("origin")))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	roomHandlers := &handlers.RoomHandlers{
		Auth:  authMgr,
		Rooms: roomMgr,
		Log:   logger.Named("http"),
	}
	loginHandler := &handlers.LoginHandler{
		JWTSecret: cfg.JWTSecret,
		TokenTTL:  cfg.JWTTTL,
		Log:       logger.Named("http"),
	}
	requireJWT := middleware.JWTAuth(cfg.JWTSecret, logger.Named("jwt"))
	wsHandler := &handlers.SignalingHandler{
		Signal: signalSrv,
		Log:    logger.Named("ws"),
	}

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", loginHandler.Login)

		// Room token issuance (requires JWT)
		apiGroup.POST("/tokens", requireJWT, roomHandlers.IssueToken)

		// Create room (requires JWT)
		apiGroup.POST("/rooms", requireJWT, roomHandlers.CreateRoom)

		// Room introspection (public)
		apiGroup.GET("/rooms", roomHandlers.ListRooms)
		apiGroup.GET("/rooms/:roomId", roomHandlers.GetRoom)
		apiGroup.GET("/rooms/:roomId/peers", roomHandlers.ListPeers)
		apiGroup.GET("/rooms/:roomId/presence", roomHandlers.ListPresence)

		// Delete room (requires JWT, host only)
		apiGroup.DELETE("/rooms/:roomId", requireJWT, roomHandlers.DeleteRoom)
	}

	// WebSocket signaling endpoint
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal", wsHandler.HandleSignaling)
	}

	// Start server
	logger.Info("starting signaling server", zap.String("port", cfg.Port))
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
