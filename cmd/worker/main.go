package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/alarm-service/internal/config"
	"github.com/jwalitptl/alarm-service/internal/handler"
	"github.com/jwalitptl/alarm-service/internal/middleware"
	"github.com/jwalitptl/alarm-service/internal/repository/postgres"
	"github.com/jwalitptl/alarm-service/pkg/logger"
	"github.com/jwalitptl/alarm-service/pkg/messaging"
	"github.com/jwalitptl/alarm-service/pkg/messaging/redis"
	"github.com/jwalitptl/alarm-service/pkg/metrics"
	"github.com/jwalitptl/alarm-service/pkg/upstream"
	"github.com/jwalitptl/alarm-service/pkg/worker"
)

func setupHealthCheck(port int, h *handler.Handler, log *logger.Logger) *http.Server {
	engine := gin.New()
	engine.Use(middleware.Recovery())
	h.RegisterRoutes(engine.Group(""))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	appLog := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.JSON,
	}).WithFields(map[string]interface{}{"worker_id": generateWorkerID()})
	log.Logger = appLog.ZL
	gin.SetMode(gin.ReleaseMode)

	if !cfg.Database.Enabled || cfg.Upstream.URL == "" {
		appLog.Fatal(errors.New("database and upstream.url are required"), "Outbox worker cannot start")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics("alarm", "outbox", reg)

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLog.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	checks := map[string]handler.Pinger{"database": handler.PingFunc(db.PingContext)}

	// Redis is optional here; delivered events are mirrored to it when present.
	var broker messaging.Broker = messaging.NopBroker{}
	if cfg.Redis.Enabled {
		redisBroker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), appLog, m)
		if err != nil {
			appLog.Fatal(err, "Failed to create Redis broker")
		}
		defer redisBroker.Close()
		broker = redisBroker
		checks["redis"] = redisBroker
	}

	// Initialize repositories
	baseRepo := postgres.NewBaseRepository(db, m)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	client := upstream.NewClient(cfg.Upstream.ToClientConfig(), appLog)

	processor, err := worker.NewOutboxProcessor(
		outboxRepo,
		client,
		broker,
		cfg.Outbox.ToWorkerConfig(),
		appLog,
		m,
		nil,
	)
	if err != nil {
		appLog.Fatal(err, "Invalid outbox configuration")
	}
	cleanup := worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, cfg.Outbox.CleanupInterval, appLog)

	// Setup health check endpoints
	healthSrv := setupHealthCheck(cfg.Server.HealthPort, handler.NewHandler(reg, checks), appLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLog.Info("Shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(err, "Health server forced to shutdown")
	}
}

func generateWorkerID() string {
	// Generate a unique worker ID using hostname and timestamp
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
}
