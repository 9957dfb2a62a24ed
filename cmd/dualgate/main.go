package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
	"dualgate/internal/core/services"
	httphandlers "dualgate/internal/handlers/http"
	archive "dualgate/internal/infrastructure/backup"
	"dualgate/internal/infrastructure/distributed"
	natsmsg "dualgate/internal/infrastructure/messaging/nats"
	"dualgate/internal/infrastructure/middleware"
	"dualgate/internal/infrastructure/monitoring"
	"dualgate/internal/infrastructure/protocol"
	"dualgate/internal/infrastructure/queue"
	"dualgate/internal/infrastructure/reliability"
	repositories "dualgate/internal/infrastructure/repositories"
	"dualgate/internal/infrastructure/transport"
	"dualgate/pkg/backup"
	"dualgate/pkg/circuitbreaker"
	"dualgate/pkg/config"
	apperrors "dualgate/pkg/errors"
	lock "dualgate/pkg/distributed"
	"dualgate/pkg/logger"
	"dualgate/pkg/retry"
	"dualgate/pkg/tracing"
	"dualgate/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	issueToken := flag.String("issue-token", "", "print an admin API token for this subject and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of a token printed by -issue-token")
	flag.Parse()

	// a missing file already yields defaults; anything else is fatal
	cfg, err := config.Load(*configPath)
	if err != nil {
		defaults := config.DefaultConfig()
		logger.New(defaults.Logging.Level, defaults.Logging.Format).Sugar().
			Fatalw("failed to load config", "path", *configPath, "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	if *issueToken != "" {
		if len(cfg.Admin.JWTSecret) < config.MinJWTSecretLength {
			log.Fatalw("admin.jwt_secret is not configured", "min_length", config.MinJWTSecretLength)
		}
		token, err := middleware.IssueAdminToken(cfg.Admin.JWTSecret, *issueToken, *tokenTTL)
		if err != nil {
			log.Fatalw("failed to issue admin token", "subject", *issueToken, "error", err)
		}
		fmt.Println(token)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	}, version)
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	instanceID := utils.GenerateInstanceID()
	log = log.With("instance_id", instanceID)

	// Registries
	repoFactory := repositories.NewRegistryFactory(ctx, cfg, instanceID, log)
	registry := repoFactory.CreateConnectionRegistry()
	history := repoFactory.CreateHistoryRegistry()
	presence := repoFactory.CreatePresenceRegistry()

	// Monitoring
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics ports.Metrics = monitoring.NopMetrics{}
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(reg)
	}

	lifecycle := services.LifecycleFanout{services.NewLoggingLifecycle(log)}
	var eventBus *distributed.EventBus
	if client := repoFactory.RedisClient(); client != nil {
		eventBus = distributed.NewEventBus(client, instanceID, log)
		eventBus.EnableBatching(cfg.Redis.EventBatchSize, cfg.Redis.EventBatchInterval)
		lifecycle = append(lifecycle, eventBus)
	}

	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		natsConn, err = natsmsg.Connect(natsmsg.Config{URL: cfg.NATS.URL, Name: "dualgate-" + instanceID}, log)
		if err != nil {
			log.Warnw("failed to connect to NATS, continuing without broker", "error", err)
			natsConn = nil
		}
	}

	// Services
	connections := services.NewConnectionService(registry, history, lifecycle, presence, metrics, log)

	var pauses [domain.PriorityCount]time.Duration
	pauses[domain.PriorityLow] = cfg.Queues.Pause.Low
	pauses[domain.PriorityMedium] = cfg.Queues.Pause.Medium
	pauses[domain.PriorityHigh] = cfg.Queues.Pause.High
	backpressure := services.NewBackpressure(services.BackpressureConfig{
		Global:          cfg.Queues.BackpressureMode == config.BackpressureGlobal,
		Pauses:          pauses,
		ThrottleEnabled: cfg.Throttling.Enabled,
		FramesPerSecond: cfg.Throttling.FramesPerSecond,
		Burst:           cfg.Throttling.Burst,
	}, metrics, log)

	noticeVersion := cfg.Protocol.SupportedVersions[0]
	notifiers := []ports.OutboundNotifier{
		reliability.NewNotifierWrapper("direct-notice",
			transport.NewDirectNotifier(noticeVersion, 5*time.Second, connections),
			retry.DefaultConfig(), circuitbreaker.DefaultConfig(), log),
	}
	if natsConn != nil {
		notifiers = append(notifiers, reliability.NewNotifierWrapper("nats-notice",
			natsmsg.NewNotifier(natsConn, cfg.NATS.NoticeSubject, instanceID),
			retry.DefaultConfig(), circuitbreaker.DefaultConfig(), log))
	}

	relay := services.NewRelayService(services.RelayConfig{
		RealtimeAllowed: cfg.Relay.RealtimeTransferAllowed,
		HandoffTimeout:  cfg.Relay.HandoffTimeout,
		BufferSize:      cfg.Relay.BufferSize,
		InstanceID:      instanceID,
	}, registry, connections, services.NotifierFanout{Notifiers: notifiers, Logger: log}, presence, metrics, log)

	sink := queue.NewPriorityQueues(cfg.Queues.MaxDepth)
	router := services.NewRouterService(services.RouterConfig{
		MaxDepth:     cfg.Queues.MaxDepth,
		WarningRatio: cfg.Queues.WarningRatio,
	}, sink, relay, backpressure, presence, metrics, log)

	loop := transport.NewReadLoop(transport.ReadLoopConfig{
		Versions:        protocol.NewVersionSet(cfg.Protocol.SupportedVersions...),
		MaxPayloadBytes: cfg.Protocol.MaxPayloadBytes,
	}, router, backpressure, connections, metrics, log)

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled {
		tlsConfig, err = transport.LoadServerTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.ClientCAFile)
		if err != nil {
			log.Fatalw("failed to load TLS material", "error", err)
		}
	}

	server := transport.NewServer(transport.ServerConfig{
		PlainAddress:     cfg.Server.PlainAddress,
		TLSAddress:       cfg.Server.TLSAddress,
		AcceptBacklog:    cfg.Server.AcceptBacklog,
		AcceptRetryDelay: cfg.Server.AcceptRetryDelay,
		HandshakeTimeout: cfg.TLS.HandshakeTimeout,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
		TLS:              tlsConfig,
	}, connections, loop, log)

	if err := server.Start(ctx); err != nil {
		log.Fatalw("failed to start listeners", "error", err)
	}

	// Background workers
	heartbeat := services.NewHeartbeatService(services.HeartbeatConfig{
		Interval: cfg.Heartbeat.Interval,
		Timeout:  cfg.Heartbeat.Timeout,
	}, registry, connections, presence, log)
	go heartbeat.Start(ctx)

	handler := queue.LogHandler(log)
	if natsConn != nil {
		handler = natsmsg.NewForwarder(natsConn, cfg.NATS.InboundSubjectPrefix, instanceID).Handle
	}
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		queue.NewConsumer(sink, handler, log).Run(ctx)
	}()

	archiveDone := make(chan struct{})
	if cfg.Archive.Enabled {
		storage, err := backup.NewFileStorage(cfg.Archive.Directory)
		if err != nil {
			log.Fatalw("failed to open history archive", "directory", cfg.Archive.Directory, "error", err)
		}
		archiveCfg := archive.Config{
			Interval:   cfg.Archive.Interval,
			Retention:  cfg.Archive.Retention,
			InstanceID: instanceID,
		}
		if client := repoFactory.RedisClient(); client != nil {
			archiveCfg.PruneLock = lock.NewLock(client, "dualgate:lock:archive-prune", time.Minute)
		}
		archiver := archive.NewArchiver(backup.NewBackupService(storage, version, "history"), history, archiveCfg, log)
		go func() {
			defer close(archiveDone)
			archiver.Start(ctx)
		}()
	} else {
		close(archiveDone)
	}

	if cfg.Monitoring.PrometheusEnabled {
		systemCollector, err := monitoring.NewSystemCollector(reg, cfg.Monitoring.MetricsInterval, log)
		if err != nil {
			log.Warnw("system metrics unavailable", "error", err)
		} else {
			go systemCollector.Start(ctx)
		}
	}

	if eventBus != nil {
		go func() {
			err := eventBus.Subscribe(ctx, func(event *distributed.Event) error {
				log.Debugw("remote connection event",
					"type", event.Type,
					"remote_instance", event.InstanceID,
					"connection_id", event.ConnectionID,
				)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("event subscription ended", "error", err)
			}
		}()
	}

	// Admin HTTP API
	health := monitoring.NewHealthChecker()
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}
	if natsConn != nil {
		health.AddCheck("nats", func(context.Context) error {
			return natsmsg.Status(natsConn)
		}, time.Second)
	}

	var adminSrv *http.Server
	adminErr := make(chan error, 1)
	if cfg.Admin.Address != "" {
		adminSrv = &http.Server{
			Addr:              cfg.Admin.Address,
			Handler:           adminRouter(cfg, zapLogger, log, health, startTime, reg, registry, history, connections, sink, relay),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Infow("starting admin API", "address", cfg.Admin.Address)
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				adminErr <- err
			}
		}()
	}

	log.Infow("dualgate started",
		"version", version,
		"plain_address", server.PlainAddr(),
		"tls_address", server.TLSAddr(),
		"tls_enabled", cfg.TLS.Enabled,
		"backpressure_mode", cfg.Queues.BackpressureMode,
	)

	// Wait for shutdown signals or admin server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-adminErr:
		log.Errorw("admin API failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down dualgate...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during listener shutdown", "error", err)
	}
	relay.Wait()
	if eventBus != nil {
		eventBus.Stop()
	}

	cancel()
	<-consumerDone
	<-archiveDone

	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during admin API shutdown", "error", err)
			if closeErr := adminSrv.Close(); closeErr != nil {
				log.Errorw("error force closing admin API", "error", closeErr)
			}
		}
	}

	if natsConn != nil {
		if err := natsConn.Drain(); err != nil {
			log.Warnw("failed to drain NATS connection", "error", err)
		}
	}
	if err := presence.Close(shutdownCtx); err != nil {
		log.Warnw("failed to clear presence", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing registry factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("failed to flush traces", "error", err)
	}

	plain, secure := connections.Counts()
	log.Infow("dualgate stopped",
		"history", history.Len(),
		"plain_open", plain,
		"tls_open", secure,
		"uptime", utils.FormatDuration(time.Since(startTime)),
	)
}

func adminRouter(
	cfg *config.Config,
	zapLogger *zap.Logger,
	log *zap.SugaredLogger,
	health *monitoring.HealthChecker,
	startTime time.Time,
	reg *prometheus.Registry,
	registry ports.ConnectionRegistry,
	history ports.HistoryRegistry,
	connections *services.ConnectionService,
	sink ports.InboundSink,
	relay *services.RelayService,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg.Admin.RequestsPerSecond, cfg.Admin.Burst),
		middleware.ErrorHandlerMiddleware(log),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		if status.Status != "healthy" {
			_ = c.Error(apperrors.NewServiceUnavailableError("dependencies unhealthy").WithContext("checks", status.Checks))
			return
		}
		c.JSON(http.StatusOK, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	admin := httphandlers.NewAdminHandler(registry, history, connections, connections, sink, relay)
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg.Admin.JWTSecret))
	admin.SetupRoutes(api)

	return router
}
