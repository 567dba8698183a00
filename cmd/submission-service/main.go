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

	"ojbackend/internal/common/cache"
	"ojbackend/internal/common/db"
	commonmw "ojbackend/internal/common/http/middleware"
	"ojbackend/internal/common/mq"
	"ojbackend/internal/common/storage"
	problemrepo "ojbackend/internal/problem/repository"
	"ojbackend/internal/submission/controller"
	"ojbackend/internal/submission/dispatch"
	"ojbackend/internal/submission/packager"
	"ojbackend/internal/submission/ratelimit"
	"ojbackend/internal/submission/repository"
	"ojbackend/internal/submission/service"
	"ojbackend/internal/submission/token"
	"ojbackend/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/submission_service.yaml"

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

	producer, err := mq.NewKafkaProducer(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = producer.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	submissionRepo := repository.NewSubmissionRepositoryWithTTL(mysqlDB, redisCache, appCfg.Submission.SubmissionCacheTTL)
	problemRepo := problemrepo.NewProblemRepository(mysqlDB)

	tokens, err := token.NewAuthority(appCfg.Token)
	if err != nil {
		logger.Error(context.Background(), "init token authority failed", zap.Error(err))
		return
	}

	limiter, err := ratelimit.NewRedisLimiter(redisCache, appCfg.Submission.SubmitCooldown)
	if err != nil {
		logger.Error(context.Background(), "init rate limiter failed", zap.Error(err))
		return
	}

	sourcePackager, err := packager.NewPackager(objStorage, packager.Config{
		Bucket:    appCfg.Submission.SourceBucket,
		KeyPrefix: appCfg.Submission.SourceKeyPrefix,
		MaxBytes:  appCfg.Submission.MaxArchiveBytes,
	})
	if err != nil {
		logger.Error(context.Background(), "init packager failed", zap.Error(err))
		return
	}

	dispatcher, err := dispatch.NewDispatcher(appCfg.Judge, submissionRepo, problemRepo, producer)
	if err != nil {
		logger.Error(context.Background(), "init dispatcher failed", zap.Error(err))
		return
	}

	submissionService, err := service.NewSubmissionService(service.Config{
		Repo:            submissionRepo,
		Problems:        problemRepo,
		Tokens:          tokens,
		Limiter:         limiter,
		Packager:        sourcePackager,
		Dispatcher:      dispatcher,
		DispatchTimeout: appCfg.Submission.DispatchTimeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init submission service failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, submissionService, redisCache, mysqlDB)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "submission http server started", zap.String("addr", appCfg.Server.Addr))
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
}

func buildHTTPServer(cfg ServerConfig, submissionService *service.SubmissionService, redisCache *cache.RedisCache, mysqlDB *db.MySQL) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := mysqlDB.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "component": "database"})
			return
		}
		if err := redisCache.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "component": "cache"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	controller.NewSubmissionController(submissionService).RegisterRoutes(api)

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
