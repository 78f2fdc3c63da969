package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docpipe/internal/archive"
	"docpipe/internal/cleanup"
	"docpipe/internal/common/cache"
	"docpipe/internal/common/db"
	commonmw "docpipe/internal/common/http/middleware"
	"docpipe/internal/common/mq"
	"docpipe/internal/common/storage"
	"docpipe/internal/deadletter"
	"docpipe/internal/events"
	"docpipe/internal/metrics"
	"docpipe/internal/ops"
	"docpipe/internal/retry"
	"docpipe/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/reconciler.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	deadLetterRepo := deadletter.NewMySQLRepository(mysqlDB)
	archiveRepo := archive.NewMySQLRepository(mysqlDB)

	policy, err := retry.NewPolicy(appCfg.Retry)
	if err != nil {
		logger.Error(context.Background(), "init retry policy failed", zap.Error(err))
		return
	}

	aggregateStore, err := cleanup.NewRedisStore(redisCache, appCfg.Cleanup.Store)
	if err != nil {
		logger.Error(context.Background(), "init aggregate store failed", zap.Error(err))
		return
	}
	aggregator, err := cleanup.NewAggregator(cleanup.AggregatorConfig{
		ExpectedServices:   appCfg.Cleanup.ExpectedServices,
		AggregationTimeout: appCfg.Cleanup.AggregationTimeout,
		CompletedTopic:     appCfg.Topics.Completed,
		Store:              aggregateStore,
		Queue:              mqClient,
		Metrics:            metrics.Default(),
	})
	if err != nil {
		logger.Error(context.Background(), "init aggregator failed", zap.Error(err))
		return
	}
	initiator, err := cleanup.NewInitiator(cleanup.InitiatorConfig{
		ServiceName:   appCfg.Cleanup.InitiatorService,
		Bucket:        appCfg.Cleanup.Bucket,
		DeletionTopic: appCfg.Topics.DeletionRequested,
		ProgressTopic: appCfg.Topics.Progress,
		Archives:      archiveRepo,
		Objects:       objStorage,
		Queue:         mqClient,
	})
	if err != nil {
		logger.Error(context.Background(), "init initiator failed", zap.Error(err))
		return
	}

	subscriptions := []struct {
		topic   string
		handler events.Handler
		keyFunc func(event *events.Event) []string
	}{
		{appCfg.Topics.DeletionRequested, aggregator.HandleDeletionRequested, deletionKeyFunc},
		{appCfg.Topics.Progress, aggregator.HandleProgressReport, progressKeyFunc},
	}

	consumerOpts := appCfg.Consumer.toSubscribeOptions()
	consumerOpts.SetDefaults()
	for _, sub := range subscriptions {
		coordinator, err := retry.NewCoordinator(retry.CoordinatorConfig{
			ServiceName: appCfg.ServiceName,
			SourceTopic: sub.topic,
			RetryTopic:  sub.topic + appCfg.Topics.RetrySuffix,
			Policy:      policy,
			Sink:        deadLetterRepo,
			Queue:       mqClient,
			Metrics:     metrics.Default(),
			KeyFunc:     sub.keyFunc,
		})
		if err != nil {
			logger.Error(context.Background(), "init retry coordinator failed", zap.Error(err))
			return
		}
		wrapped := coordinator.Wrap(sub.handler)
		for _, topic := range []string{sub.topic, sub.topic + appCfg.Topics.RetrySuffix} {
			opts := consumerOpts
			if err := mqClient.SubscribeWithOptions(context.Background(), topic, wrapped, &opts); err != nil {
				logger.Error(context.Background(), "subscribe topic failed", zap.String("topic", topic), zap.Error(err))
				return
			}
		}
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go aggregator.RunSweeper(sweeperCtx, appCfg.Cleanup.SweepInterval)

	httpServer := buildHTTPServer(appCfg.Server, deadLetterRepo, mqClient, initiator, aggregator)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "reconciler http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	stopSweeper()
	_ = mqClient.Stop()
}

// deletionKeyFunc keys deletion requests by correlation id so every retry and
// dead letter of one cascade shares an idempotency key.
func deletionKeyFunc(event *events.Event) []string {
	var req events.DeletionRequest
	if err := event.DecodeData(&req); err != nil || req.CorrelationID == "" {
		return []string{event.EventID}
	}
	return []string{req.CorrelationID}
}

// progressKeyFunc keys progress reports by correlation id and reporting
// service.
func progressKeyFunc(event *events.Event) []string {
	var report events.CleanupProgressReport
	if err := event.DecodeData(&report); err != nil || report.CorrelationID == "" {
		return []string{event.EventID}
	}
	return []string{report.CorrelationID, report.ServiceName}
}

func buildHTTPServer(cfg ServerConfig, deadLetterRepo deadletter.Repository, queue mq.Producer, initiator *cleanup.Initiator, aggregator *cleanup.Aggregator) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	deadLetterController := ops.NewDeadLetterController(deadLetterRepo, queue)
	deadLetters := router.Group("/api/v1/deadletters")
	deadLetters.GET("", deadLetterController.List)
	deadLetters.GET("/key/:idempotency_key", deadLetterController.GetByKey)
	deadLetters.GET("/:id", deadLetterController.Get)
	deadLetters.POST("/:id/replay", deadLetterController.Replay)

	cleanupController := ops.NewCleanupController(initiator, aggregator)
	router.POST("/api/v1/sources/:name/cleanup", cleanupController.Initiate)
	router.GET("/api/v1/cleanups/:correlation_id", cleanupController.Status)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
