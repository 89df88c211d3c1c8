// Package main runs the SFU signaling gateway: HTTP health/stats endpoints,
// the WebSocket signaling connection, and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-sfu/gateway/config"
	"github.com/aura-sfu/gateway/internal/lifecycle"
	"github.com/aura-sfu/gateway/internal/mediarouter"
	"github.com/aura-sfu/gateway/internal/middleware"
	"github.com/aura-sfu/gateway/internal/registry"
	"github.com/aura-sfu/gateway/internal/room"
	"github.com/aura-sfu/gateway/internal/signaling"
	"github.com/aura-sfu/gateway/internal/transport"
	"github.com/aura-sfu/gateway/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	router, err := mediarouter.NewRouter(mediarouter.Config{
		AnnouncedIP: cfg.WebRTC.AnnouncedIP,
		PortMin:     cfg.WebRTC.PortMin,
		PortMax:     cfg.WebRTC.PortMax,
		ICEServers:  cfg.WebRTC.ICEServers,
	}, logger)
	if err != nil {
		logger.Fatal("mediarouter", zap.Error(err))
	}

	resources := registry.New()
	rooms := room.New(logger)

	handler := signaling.NewHandler(router, resources, rooms, nil, nil, logger)

	supervisor := lifecycle.New(router, resources, rooms, handler, logger)
	supervisor.UnconnectedTimeout = time.Duration(cfg.Room.UnconnectedTransportTimeoutMinutes) * time.Minute
	handler.Disconnector = supervisor
	handler.Watcher = supervisor
	supervisor.Start()
	defer supervisor.Stop()

	gin.SetMode(gin.ReleaseMode)
	httpRouter := gin.New()
	httpRouter.Use(gin.Recovery())
	httpRouter.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	httpRouter.Use(middleware.Logger(logger))

	httpRouter.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	httpRouter.GET("/rooms/:id/stats", func(c *gin.Context) {
		members := rooms.Members(c.Param("id"))
		var transports, producers int
		for _, clientID := range members {
			transports += len(resources.ListClientTransports(clientID))
			producers += len(resources.ListOwnedProducers(clientID))
		}
		response.OK(c, gin.H{
			"roomMembers": len(members),
			"transports":  transports,
			"producers":   producers,
		})
	})
	httpRouter.GET("/ws", transport.ServeWS(handler, supervisor.DisconnectClient, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpRouter,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("gateway listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	router.Close()
	logger.Info("gateway stopped")
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := cfg.Build()
	return logger
}
