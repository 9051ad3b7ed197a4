package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"
	"github.com/verawat1234/tchat-sub013/internal/core/services"
	httphandlers "github.com/verawat1234/tchat-sub013/internal/handlers/http"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/distributed"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/middleware"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/monitoring"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/recording"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/reliability"
	repositories "github.com/verawat1234/tchat-sub013/internal/infrastructure/repositories"
	signalgw "github.com/verawat1234/tchat-sub013/internal/infrastructure/signal"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/storage"
	webrtcinfra "github.com/verawat1234/tchat-sub013/internal/infrastructure/webrtc"
	"github.com/verawat1234/tchat-sub013/pkg/circuitbreaker"
	"github.com/verawat1234/tchat-sub013/pkg/config"
	"github.com/verawat1234/tchat-sub013/pkg/logger"
	"github.com/verawat1234/tchat-sub013/pkg/retry"
	"github.com/verawat1234/tchat-sub013/pkg/tracing"
	"github.com/verawat1234/tchat-sub013/pkg/utils"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/live/config.yaml",
	"config.yaml",
}

func loadConfig() *config.Config {
	for _, path := range configPaths {
		if cfg, err := config.Load(path); err == nil {
			return cfg
		}
	}
	return config.DefaultConfig()
}

func main() {
	startTime := time.Now()
	cfg := loadConfig()

	zapLogger := logger.New(cfg.Logging.Level)
	defer func() { _ = zapLogger.Sync() }()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: os.Getenv("LIVE_ENV"),
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialise tracing", "error", err)
	}

	metrics := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}

	streams := repoFactory.CreateStreamStore()
	sharedState := repoFactory.CreateSharedState()
	chat := repoFactory.CreateChatHistory()

	// Cluster coordinator
	coordCfg := distributed.DefaultCoordinatorConfig(cfg.Cluster.ServerID)
	coordCfg.Address = cfg.Cluster.AdvertiseAddress
	coordCfg.Capacity = cfg.Cluster.Capacity
	coordCfg.HeartbeatInterval = cfg.Cluster.HeartbeatInterval
	coordCfg.HealthTimeout = cfg.Cluster.HealthTimeout
	coordCfg.KeyTTL = cfg.Cluster.KeyTTL
	coordCfg.StaleAfter = cfg.Cluster.StaleAfter
	coordCfg.OverloadRatio = cfg.Cluster.OverloadRatio
	coordinator := distributed.NewCoordinator(coordCfg, sharedState, metrics, log.With("component", "coordinator"))

	// Quality control
	qualityService := services.NewQualityService(cfg.Quality.SmoothingFactor, cfg.Quality.UpgradeMargin)
	abr := services.NewAdaptiveBitrateService(qualityService, log.With("component", "abr"))
	abr.SetCheckInterval(cfg.Quality.SampleInterval)
	abr.SetHoldDowns(cfg.Quality.UpgradeHoldDown, cfg.Quality.DowngradeHoldDown)
	abr.OnSwitch(func(streamID domain.StreamID, from, to domain.SimulcastLayer) {
		log.Infow("quality layer switched", "stream_id", streamID, "from", from.Name, "to", to.Name)
	})

	// Peer session manager
	rtcCfg := webrtcinfra.DefaultWebRTCConfig()
	if len(cfg.WebRTC.ICEServers) > 0 {
		rtcCfg.ICEServers = rtcCfg.ICEServers[:0]
		for _, s := range cfg.WebRTC.ICEServers {
			rtcCfg.ICEServers = append(rtcCfg.ICEServers, webrtcinfra.ICEServer(s.URLs, s.Username, s.Credential))
		}
	}
	rtcCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	rtcCfg.PortRange.Max = cfg.WebRTC.PortRange.Max
	rtcCfg.PLIInterval = cfg.WebRTC.PLIInterval
	rtcCfg.CloseTimeout = cfg.WebRTC.CloseTimeout
	rtcCfg.GatherTimeout = cfg.WebRTC.GatherTimeout
	sfu, err := webrtcinfra.NewSFUService(rtcCfg, metrics, log.With("component", "sfu"))
	if err != nil {
		log.Fatalw("failed to create peer session manager", "error", err)
	}

	// KYC revalidation
	var kyc *services.KYCMonitor
	if cfg.KYC.Enabled {
		kycCfg := services.DefaultKYCConfig()
		kycCfg.Interval = cfg.KYC.Interval
		kycCfg.MinSellerTier = cfg.KYC.MinSellerTier
		kycCfg.LookupTimeout = cfg.KYC.LookupTimeout
		if cfg.KYC.BreakerFailures > 0 {
			kycCfg.Breaker.FailureThreshold = cfg.KYC.BreakerFailures
		}
		kyc = services.NewKYCMonitor(kycCfg, streams, repoFactory.CreateIdentitySource(), log.With("component", "kyc"))
		kyc.SetLease(repoFactory.CreateLease())
	}

	streamService := services.NewStreamService(streams, coordinator, kyc, abr, log.With("component", "streams"))
	authService := services.NewAuthService(cfg.Auth.JWTSecret, streams)

	// Signaling gateway
	gateway := signalgw.NewWebSocketServer(signalgw.Config{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		SendQueueSize:     cfg.Signal.SendQueueSize,
		MaxMessageSize:    cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		MessagesPerSecond: wsMessageRate(cfg),
		Burst:             cfg.RateLimiting.WebSocket.Burst,
		AllowAnonymous:    cfg.Signal.AllowAnonymous,
		AllowedOrigins:    cfg.Auth.AllowedOrigins,
	}, authService, coordinator, log.With("component", "gateway"))
	gateway.SetPeerSessions(sfu)
	gateway.SetBroadcastGuard(authService)
	gateway.SetStreamStore(streams)
	gateway.SetChatHistory(chat)
	gateway.SetMetrics(metrics)

	gateway.OnSessionEvent(func(ctx context.Context, ev signalgw.SessionEvent) {
		switch {
		case ev.Kind == webrtcinfra.EventTrack:
			if _, ok := abr.State(ev.StreamID); !ok {
				abr.StartMonitoring(ctx, ev.StreamID, sfu)
			}
		case ev.Kind == webrtcinfra.EventClosed || ev.Terminal():
			abr.StopMonitoring(ev.StreamID)
		}
	})

	// Recording pipeline
	var recorder *recording.Recorder
	if cfg.Recording.Enabled {
		recorder, err = newRecorder(ctx, cfg, metrics, log.With("component", "recorder"))
		if err != nil {
			log.Fatalw("failed to create recorder", "error", err)
		}
		recorder.SetMediaTaps(sfu)
		if cfg.Recording.Captions {
			recorder.SetChatHistory(chat)
		}
	}

	streamService.OnEnded(func(ctx context.Context, streamID domain.StreamID) {
		abr.StopMonitoring(streamID)
		if recorder != nil {
			if _, err := recorder.Stop(ctx, streamID); err != nil && !errors.Is(err, domain.ErrRecordingNotFound) {
				log.Warnw("failed to stop recording", "stream_id", streamID, "error", err)
			}
		}
		if err := sfu.CloseSession(streamID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			log.Warnw("failed to close peer session", "stream_id", streamID, "error", err)
		}
		if gateway.HasRoom(streamID) {
			gateway.TerminateStream(ctx, streamID, "stream ended")
		}
		metrics.ForgetStream(streamID)
	})
	if kyc != nil {
		kyc.SetNotifier(gateway)
		kyc.OnTerminate(func(ctx context.Context, stream *domain.Stream) {
			metrics.RecordTermination(stream.Type)
			streamService.Ended(ctx, stream.ID)
		})
		// Streams that were live before a restart lost their monitors.
		if _, err := kyc.Resume(ctx); err != nil {
			log.Warnw("failed to resume kyc revalidation", "error", err)
		}
	}

	// Health
	health := monitoring.NewHealthChecker()
	health.AddSharedStateCheck(sharedState, 2*time.Second)
	health.AddStreamStoreCheck(streams, 2*time.Second)
	health.AddCheck("repositories", repoFactory.HealthCheck, 2*time.Second)

	// Background loops
	var wg sync.WaitGroup
	background := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("background task stopped", "task", name, "error", err)
			}
		}()
	}

	if err := coordinator.RegisterServer(ctx); err != nil {
		log.Fatalw("failed to register server", "error", err)
	}
	background("coordinator", coordinator.Run)
	background("session-events", func(ctx context.Context) error {
		gateway.RunSessionEvents(ctx, sfu.Events())
		return nil
	})
	if recorder != nil {
		background("recording-cleanup", func(ctx context.Context) error {
			recorder.Run(ctx)
			return nil
		})
	}

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLogMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	router.GET("/ws", middleware.NewWSConnectionLimitMiddleware(cfg), gin.WrapF(gateway.HandleWebSocket))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"server_id":   coordinator.ServerID(),
			"connections": gateway.ConnectionCount(),
			"rooms":       gateway.RoomCount(),
			"sessions":    sfu.SessionCount(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	if cfg.Recording.Enabled && cfg.Storage.Backend == "file" {
		router.Static("/media", cfg.Storage.FileDir)
	}

	api := router.Group("/api/v1")
	control := router.Group("/api/v1",
		middleware.AuthMiddleware(authService, cfg.Signal.AllowAnonymous),
		middleware.BroadcasterOnly(authService),
	)
	var recordings httphandlers.Recordings
	if recorder != nil {
		recordings = recorder
	}
	httphandlers.NewStreamHandler(streamService, coordinator, recordings).SetupRoutes(api, control)

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// no WriteTimeout: /ws connections are long lived and the gateway
		// sets per-frame deadlines
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting live server", "address", cfg.Server.Address, "server_id", cfg.Cluster.ServerID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}
	stop()

	shutdown(cfg, log, srv, coordinator, recorder, gateway, sfu, repoFactory, tp)
	wg.Wait()
	log.Info("live server stopped")
}

func wsMessageRate(cfg *config.Config) float64 {
	if !cfg.RateLimiting.Enabled {
		return 0
	}
	return cfg.RateLimiting.WebSocket.MessagesPerSecond
}

func newRecorder(ctx context.Context, cfg *config.Config, metrics *monitoring.PrometheusCollector, log *zap.SugaredLogger) (*recording.Recorder, error) {
	var backend ports.ObjectStorage
	switch cfg.Storage.Backend {
	case "s3":
		s3, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			PathStyle: cfg.Storage.PathStyle,
			Prefix:    cfg.Storage.Prefix,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			return nil, err
		}
		backend = s3
	default:
		fs, err := storage.NewFileStorage(cfg.Storage.FileDir, cfg.Storage.Prefix, cfg.Storage.PublicURL)
		if err != nil {
			return nil, err
		}
		backend = fs
	}
	log.Infow("object storage configured",
		"backend", cfg.Storage.Backend,
		"bucket", cfg.Storage.Bucket,
		"access_key", utils.MaskSensitive(cfg.Storage.AccessKey, 4),
	)
	wrapped := reliability.NewStorageWrapper(backend, retry.DefaultConfig(), circuitbreaker.DefaultConfig(), log)

	encoder := recording.NewFFmpegEncoder(recording.FFmpegConfig{
		Path:            cfg.Recording.FFmpegPath,
		SegmentDuration: cfg.Recording.SegmentDuration,
		PlaylistSize:    cfg.Recording.PlaylistSize,
	}, log)

	recCfg := recording.DefaultConfig()
	recCfg.RootDir = cfg.Recording.RootDir
	recCfg.StopTimeout = cfg.Recording.StopTimeout
	recCfg.Retention = cfg.Recording.Retention
	recCfg.ExpiredGrace = cfg.Recording.ExpiredGrace
	recCfg.CleanupInterval = cfg.Recording.CleanupInterval
	recCfg.UploadWorkers = cfg.Recording.UploadWorkers
	recCfg.Captions = cfg.Recording.Captions

	return recording.NewRecorder(recCfg, encoder, wrapped, metrics, log), nil
}

func shutdown(
	cfg *config.Config,
	log *zap.SugaredLogger,
	srv *http.Server,
	coordinator *distributed.Coordinator,
	recorder *recording.Recorder,
	gateway *signalgw.WebSocketServer,
	sfu *webrtcinfra.SFUService,
	repoFactory *repositories.RepositoryFactory,
	tp *tracing.TracerProvider,
) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := coordinator.UnregisterServer(ctx); err != nil {
		log.Warnw("failed to unregister server", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		_ = srv.Close()
	}

	if recorder != nil {
		recorder.Shutdown(ctx)
	}
	if err := gateway.Shutdown(ctx); err != nil {
		log.Warnw("gateway did not drain in time", "error", err)
	}
	sfu.Close()

	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repositories", "error", err)
	}
	if err := tp.Shutdown(ctx); err != nil {
		log.Warnw("error flushing traces", "error", err)
	}
}
