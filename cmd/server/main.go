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

	"skillsnap/internal/catalog"
	"skillsnap/internal/common/cache"
	"skillsnap/internal/common/db"
	"skillsnap/internal/common/httpmw"
	"skillsnap/internal/common/mq"
	"skillsnap/internal/common/storage"
	"skillsnap/internal/judge"
	"skillsnap/internal/judge/lang"
	"skillsnap/internal/judge/sandbox"
	"skillsnap/internal/judge/scheduler"
	"skillsnap/internal/submission"
	"skillsnap/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/server.yaml"

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

	ctx := context.Background()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(ctx, "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(ctx, "init minio failed", zap.Error(err))
		return
	}

	var publisher mq.Publisher
	if len(appCfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err := mq.NewKafkaPublisher(appCfg.Kafka)
		if err != nil {
			logger.Error(ctx, "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = kafkaPublisher.Close()
		}()
		publisher = kafkaPublisher
	}

	registry, err := buildRegistry(appCfg.Judge)
	if err != nil {
		logger.Error(ctx, "build language registry failed", zap.Error(err))
		return
	}

	sandboxEngine, err := sandbox.NewEngine(appCfg.Judge.Sandbox)
	if err != nil {
		logger.Error(ctx, "init sandbox engine failed", zap.Error(err))
		return
	}

	catalogRepo := catalog.NewRepository(mysqlDB, redisCache)
	catalogService := catalog.NewService(catalogRepo)

	submissionRepo := submission.NewRepository(mysqlDB, redisCache)
	sourceStore := submission.NewSourceStore(objStorage, appCfg.MinIO.Bucket)
	progress := judge.NewProgressReporter(redisCache)
	events := judge.NewEventPublisher(publisher, appCfg.Judge.VerdictTopic)

	judgeEngine := judge.NewEngine(appCfg.Judge.Engine, catalogService, registry, sandboxEngine, sourceStore, progress)
	sched := scheduler.New(appCfg.Judge.Scheduler, submissionRepo, judgeEngine, sandboxEngine, events, progress)
	if err := sched.Recover(ctx); err != nil {
		logger.Error(ctx, "recover scheduler state failed", zap.Error(err))
		return
	}
	sched.Start()

	submitService := submission.NewService(submission.ServiceConfig{
		Repo:         submissionRepo,
		Catalog:      catalogService,
		Languages:    registry,
		Sources:      sourceStore,
		Queue:        sched,
		Cache:        redisCache,
		Progress:     progressAdapter{progress},
		MaxCodeBytes: appCfg.Submit.MaxCodeBytes,
		RateLimit:    appCfg.Submit.RateLimit,
	})

	httpServer := buildHTTPServer(appCfg, catalogService, submitService, registry, mysqlDB, redisCache)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(ctx, "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	stopCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(stopCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if err := sched.Stop(stopCtx); err != nil {
		logger.Error(ctx, "scheduler shutdown failed", zap.Error(err))
	}
}

// progressAdapter bridges the judge progress mirror to the intake view.
type progressAdapter struct {
	reporter *judge.ProgressReporter
}

func (a progressAdapter) Get(ctx context.Context, submissionID string) (submission.EvaluationProgress, bool) {
	progress, ok := a.reporter.Get(ctx, submissionID)
	if !ok {
		return submission.EvaluationProgress{}, false
	}
	return submission.EvaluationProgress{
		CurrentTest: progress.CurrentTest,
		TotalTests:  progress.TotalTests,
	}, true
}

func buildHTTPServer(cfg *AppConfig, catalogService *catalog.Service, submitService *submission.Service, registry *lang.Registry, database db.Database, redisCache cache.Cache) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.TraceContext())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "component": "database"})
			return
		}
		if err := redisCache.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "component": "cache"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	catalog.NewController(catalogService).RegisterRoutes(api)

	authed := api.Group("")
	authed.Use(httpmw.Auth(cfg.Auth.JWTSecret))
	submission.NewController(submitService, registry).RegisterRoutes(authed)

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
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
