package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/tradewire/signal-relay/internal/admin"
	"github.com/tradewire/signal-relay/internal/broadcast"
	"github.com/tradewire/signal-relay/internal/config"
	"github.com/tradewire/signal-relay/internal/logger"
	"github.com/tradewire/signal-relay/internal/processor"
	"github.com/tradewire/signal-relay/internal/publish"
	sig "github.com/tradewire/signal-relay/internal/signal"
	"github.com/tradewire/signal-relay/internal/storage/pg"
	"github.com/tradewire/signal-relay/internal/store"
	"github.com/tradewire/signal-relay/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	appLogger := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	appLogger.Info("starting signal relay",
		slog.String("instance_id", logger.GetInstanceID()),
		slog.String("port", cfg.Port))

	gin.SetMode(cfg.GinMode)

	// Initialize database.
	db, err := pg.InitDatabase(cfg.DatabaseURL, pg.PoolConfig{
		MaxOpenConns:          cfg.DBMaxOpenConns,
		ConnectTimeoutSeconds: cfg.DBConnectTimeoutSeconds,
		ConnMaxIdleSeconds:    cfg.DBConnMaxIdleSeconds,
	})
	if err != nil {
		appLogger.Error("failed to initialize database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Repositories share the one pool.
	clientRepo := store.NewClientRepo(db.DB)
	channelRepo := store.NewChannelRepo(db.DB)
	messageRepo := store.NewMessageRepo(db.DB)

	parser := sig.NewParser()

	// Broadcast hub plus the optional NATS mirror form the message fan-out.
	hub := broadcast.NewHub(cfg.BroadcastParsedSignals, appLogger)

	var messageHandler processor.MessageHandler = hub
	natsPublisher, err := publish.NewNatsPublisher(cfg.NatsURL, appLogger)
	if err != nil {
		appLogger.Error("failed to connect to NATS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if natsPublisher != nil {
		messageHandler = processor.MultiMessageHandler{hub, natsPublisher}
	}

	proc := processor.New(channelRepo, messageRepo, parser, messageHandler, hub, appLogger)

	// The history loader runs its own processor with handlers disabled so
	// backfills never reach live subscribers.
	historyProc := processor.New(channelRepo, messageRepo, parser, nil, nil, appLogger)
	historyLoader := upstream.NewHistoryLoader(cfg.TelegrabWSURL, cfg.TelegrabAPIKey, historyProc, appLogger)

	// Upstream connector feeds the live pipeline.
	ctx, cancel := context.WithCancel(context.Background())
	connector := upstream.NewConnector(cfg.TelegrabWSURL, cfg.TelegrabAPIKey, proc, appLogger)
	go connector.Run(ctx)

	// Periodic buffer flush and stats timers.
	scheduler := cron.New()
	scheduler.AddFunc(every(cfg.BufferFlushIntervalSeconds), func() {
		proc.Flush(context.Background())
	})
	scheduler.AddFunc(every(cfg.StatsIntervalSeconds), func() {
		appLogger.Info("pipeline stats",
			slog.Any("processor", proc.Stats()),
			slog.Any("broadcaster", hub.Stats()))
	})
	scheduler.Start()

	// HTTP surface.
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Admin-Key, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	auth := admin.NewAuth(cfg.AdminMasterKey, clientRepo, appLogger)
	adminHandler := admin.NewHandler(db.DB, clientRepo, channelRepo, messageRepo, historyLoader, auth, appLogger)
	adminHandler.RegisterRoutes(router)

	wsServer := broadcast.NewServer(hub, clientRepo, appLogger)
	router.GET("/ws", wsServer.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	appLogger.Info("signal relay listening", slog.String("addr", srv.Addr))

	// Graceful shutdown: timers, connector, subscribers, final flush, pool,
	// then the HTTP listener.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down")

	scheduler.Stop()

	cancel()
	connector.Close()
	appLogger.Info("upstream connector closed")

	hub.Shutdown()
	appLogger.Info("subscriber connections closed")

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	proc.Flush(flushCtx)
	flushCancel()
	appLogger.Info("final buffer flush complete", slog.Int("remaining", proc.BufferLen()))

	natsPublisher.Close()

	if err := db.Close(); err != nil {
		appLogger.Error("failed to close database", slog.String("error", err.Error()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("server forced to shutdown", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appLogger.Info("server exited")
}

func every(seconds int) string {
	return "@every " + (time.Duration(seconds) * time.Second).String()
}
