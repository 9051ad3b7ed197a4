package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verawat1234/tchat-sub013/internal/core/services"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/distributed"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/middleware"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/monitoring"
	repositories "github.com/verawat1234/tchat-sub013/internal/infrastructure/repositories"
	signalgw "github.com/verawat1234/tchat-sub013/internal/infrastructure/signal"
	"github.com/verawat1234/tchat-sub013/pkg/config"
	"github.com/verawat1234/tchat-sub013/pkg/logger"
)

// The signal binary runs the gateway alone. Offers and answers are relayed
// between broadcaster and viewers; no media passes through this process.
func main() {
	startTime := time.Now()
	cfg := config.DefaultConfig()
	for _, path := range []string{"configs/config.yaml", "./configs/config.yaml", "config.yaml"} {
		if loaded, err := config.Load(path); err == nil {
			cfg = loaded
			break
		}
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer func() { _ = zapLogger.Sync() }()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer func() { _ = repoFactory.Close() }()

	streams := repoFactory.CreateStreamStore()

	coordCfg := distributed.DefaultCoordinatorConfig(cfg.Cluster.ServerID)
	coordCfg.Address = cfg.Cluster.AdvertiseAddress
	coordCfg.Capacity = cfg.Cluster.Capacity
	coordinator := distributed.NewCoordinator(coordCfg, repoFactory.CreateSharedState(), metrics, log.With("component", "coordinator"))
	if err := coordinator.RegisterServer(ctx); err != nil {
		log.Fatalw("failed to register server", "error", err)
	}
	go func() {
		if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("coordinator stopped", "error", err)
		}
	}()

	authService := services.NewAuthService(cfg.Auth.JWTSecret, streams)

	gateway := signalgw.NewWebSocketServer(signalgw.Config{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendQueueSize:  cfg.Signal.SendQueueSize,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		AllowAnonymous: cfg.Signal.AllowAnonymous,
		AllowedOrigins: cfg.Auth.AllowedOrigins,
	}, authService, coordinator, log.With("component", "gateway"))
	gateway.SetBroadcastGuard(authService)
	gateway.SetStreamStore(streams)
	gateway.SetChatHistory(repoFactory.CreateChatHistory())
	gateway.SetMetrics(metrics)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.GET("/ws", middleware.NewWSConnectionLimitMiddleware(cfg), gin.WrapF(gateway.HandleWebSocket))
	router.GET("/health", gin.WrapF(gateway.HealthCheck))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: cfg.Signal.Address, Handler: router}
	go func() {
		log.Infow("starting signaling gateway", "address", cfg.Signal.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("gateway listener failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer cancel()
	if err := coordinator.UnregisterServer(shutdownCtx); err != nil {
		log.Warnw("failed to unregister server", "error", err)
	}
	_ = srv.Shutdown(shutdownCtx)
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		log.Warnw("gateway did not drain in time", "error", err)
	}
	log.Infow("signaling gateway stopped", "uptime", time.Since(startTime).String())
}
