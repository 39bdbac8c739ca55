package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/alarm-service/internal/config"
	"github.com/jwalitptl/alarm-service/internal/email"
	"github.com/jwalitptl/alarm-service/internal/handler"
	alarmHandler "github.com/jwalitptl/alarm-service/internal/handler/alarm"
	"github.com/jwalitptl/alarm-service/internal/handler/device"
	"github.com/jwalitptl/alarm-service/internal/handler/ws"
	"github.com/jwalitptl/alarm-service/internal/middleware"
	"github.com/jwalitptl/alarm-service/internal/repository"
	"github.com/jwalitptl/alarm-service/internal/repository/postgres"
	"github.com/jwalitptl/alarm-service/internal/router"
	"github.com/jwalitptl/alarm-service/internal/scheduler"
	alarmService "github.com/jwalitptl/alarm-service/internal/service/alarm"
	"github.com/jwalitptl/alarm-service/internal/service/notification"
	"github.com/jwalitptl/alarm-service/internal/service/syncer"
	syncWorker "github.com/jwalitptl/alarm-service/internal/worker"
	"github.com/jwalitptl/alarm-service/pkg/auth"
	"github.com/jwalitptl/alarm-service/pkg/logger"
	"github.com/jwalitptl/alarm-service/pkg/messaging"
	"github.com/jwalitptl/alarm-service/pkg/messaging/redis"
	"github.com/jwalitptl/alarm-service/pkg/metrics"
	"github.com/jwalitptl/alarm-service/pkg/upstream"
	"github.com/jwalitptl/alarm-service/pkg/worker"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLog := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.JSON,
	})
	// Middleware logs through the global logger.
	log.Logger = appLog.ZL
	gin.SetMode(gin.ReleaseMode)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics("alarm", "", reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handler.Pinger{}

	// Initialize database
	var (
		db         *sqlx.DB
		alarmRepo  repository.AlarmRepository
		outboxRepo repository.OutboxRepository
	)
	if cfg.Database.Enabled {
		db, err = postgres.NewDB(cfg.Database)
		if err != nil {
			appLog.Fatal(err, "Failed to connect to database")
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				appLog.Fatal(err, "Failed to migrate database")
			}
		}

		base := postgres.NewBaseRepository(db, m)
		alarmRepo = postgres.NewAlarmRepository(base)
		outboxRepo = postgres.NewOutboxRepository(base)
		checks["database"] = handler.PingFunc(db.PingContext)
	}

	// Initialize Redis message broker
	var broker messaging.Broker = messaging.NopBroker{}
	var redisBroker *redis.RedisBroker
	if cfg.Redis.Enabled {
		redisBroker, err = redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), appLog, m)
		if err != nil {
			appLog.Fatal(err, "Failed to connect to Redis")
		}
		defer redisBroker.Close()
		broker = redisBroker
		checks["redis"] = redisBroker
	}

	// Upstream backend
	var (
		upstreamClient *upstream.Client
		reporter       worker.Reporter
		registrar      device.Registrar
	)
	if cfg.Upstream.URL != "" {
		upstreamClient = upstream.NewClient(cfg.Upstream.ToClientConfig(), appLog)
		reporter = upstreamClient
		registrar = upstreamClient
	}

	// Presentation
	notifier := notification.NewService(appLog, m)
	if cfg.Mail.Enabled {
		notifier.AddPresenter(email.NewPresenter(cfg.Mail))
	}

	alarmSvc := alarmService.NewService(alarmService.Deps{
		Notifier:  notifier,
		Alarms:    alarmRepo,
		Outbox:    outboxRepo,
		Reporter:  reporter,
		Broker:    broker,
		Registrar: registrar,
		Logger:    appLog,
		Metrics:   m,
	},
		scheduler.WithEscalationDelay(cfg.Scheduler.EscalationDelay),
		scheduler.WithTombstoneTTL(cfg.Scheduler.TombstoneTTL),
	)

	hub := ws.NewHub(alarmSvc, appLog, cfg.Server.WSOriginPatterns...)
	alarmSvc.SetRelay(hub)
	notifier.AddPresenter(hub)

	if err := alarmSvc.Restore(ctx); err != nil {
		appLog.Fatal(err, "Failed to restore alarms")
	}

	var wg sync.WaitGroup
	goRun := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	goRun(alarmSvc.Run)

	if redisBroker != nil {
		if err := alarmSvc.ConsumeCommands(ctx, messaging.NewBrokerAdapter(redisBroker, appLog)); err != nil {
			appLog.Fatal(err, "Failed to subscribe to commands")
		}
	}

	var syncRunner alarmHandler.Syncer
	if upstreamClient != nil {
		syncSvc := syncer.NewService(upstreamClient, alarmSvc, notifier, syncer.Config{
			BroadcastTTL:   cfg.Sync.BroadcastTTL,
			SyncBroadcasts: cfg.Sync.Broadcasts,
		}, appLog, m)
		syncRunner = syncSvc
		if cfg.Sync.Enabled {
			goRun(syncWorker.NewSyncWorker(syncSvc, cfg.Sync.Interval, appLog, nil).Start)
		}
	}

	// Initialize and start outbox processor
	if outboxRepo != nil && cfg.Outbox.InProcess && reporter != nil {
		processor, err := worker.NewOutboxProcessor(outboxRepo, reporter, broker, cfg.Outbox.ToWorkerConfig(), appLog, m, nil)
		if err != nil {
			appLog.Fatal(err, "Invalid outbox configuration")
		}
		goRun(processor.Start)
		goRun(worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, cfg.Outbox.CleanupInterval, appLog).Start)
	}

	jwtSvc := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	routerCfg := router.RouterConfig{
		CORSConfig:     cfg.CORS,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodySize:    cfg.Server.MaxBodySize,
	}
	if cfg.RateLimit.Enabled {
		routerCfg.RateLimit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
		routerCfg.RateBurst = cfg.RateLimit.Burst
	}

	// Setup router
	r := router.NewRouter(
		middleware.NewAuthMiddleware(jwtSvc),
		handler.NewHandler(reg, checks),
		[]router.Handler{device.NewHandler(registrar, jwtSvc, appLog)},
		[]router.Handler{alarmHandler.NewHandler(alarmSvc, syncRunner), hub},
		m,
		routerCfg,
	)
	r.Setup()

	// Websocket connections outlive any write deadline, so only the header
	// read is bounded here.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	// Start server
	go func() {
		appLog.Info("Server listening", "addr", srv.Addr, "armed", alarmSvc.Scheduler().Len())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(err, "Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(err, "Server forced to shutdown")
	}

	// Run flushes the alarm set on cancel; Close then stops the timers and
	// waits for in-flight side effects.
	cancel()
	wg.Wait()
	if err := alarmSvc.Close(); err != nil {
		appLog.Error(err, "Failed to close scheduler")
	}

	appLog.Info("Server exited properly")
}
