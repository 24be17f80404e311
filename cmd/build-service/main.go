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

	"contractlab/internal/build/backend"
	"contractlab/internal/build/controller"
	"contractlab/internal/build/deps"
	"contractlab/internal/build/events"
	"contractlab/internal/build/lock"
	"contractlab/internal/build/runner"
	"contractlab/internal/build/service"
	"contractlab/internal/build/status"
	"contractlab/internal/build/workspace"
	"contractlab/internal/common/cache"
	commonmw "contractlab/internal/common/http/middleware"
	"contractlab/internal/common/mq"
	"contractlab/internal/common/storage"
	"contractlab/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/build_service.yaml"
	defaultEnvFile    = ".env"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envFile := flag.String("env", defaultEnvFile, "Optional env file loaded before the config")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath, *envFile)
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

	var redisCache *cache.RedisCache
	if appCfg.Redis.Enabled() {
		redisCache, err = cache.NewRedisCacheWithConfig(appCfg.Redis)
		if err != nil {
			logger.Error(context.Background(), "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisCache.Close()
		}()
	}

	var runs status.Store = status.NoopStore{}
	if redisCache != nil {
		runs = status.NewRedisStore(redisCache, appCfg.Status.TTL)
	}

	buildBe, err := buildBackend(appCfg, redisCache, runs)
	if err != nil {
		logger.Error(context.Background(), "init build backend failed", zap.Error(err))
		return
	}

	producer, err := buildProducer(appCfg.Events)
	if err != nil {
		logger.Error(context.Background(), "init event producer failed", zap.Error(err))
		return
	}
	publisher := events.NewPublisher(producer, appCfg.Events.Topic)
	defer func() {
		_ = publisher.Close()
	}()

	buildSvc, err := service.NewService(service.Config{
		Backend:       buildBe,
		Runs:          runs,
		Events:        publisher,
		MaxCodeBytes:  appCfg.Service.MaxCodeBytes,
		MaxConcurrent: appCfg.Service.MaxConcurrent,
		SlotWait:      appCfg.Service.SlotWait,
		StatusTimeout: appCfg.Service.StatusTimeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init build service failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, buildSvc)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "build http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("backend", appCfg.Backend.Mode),
			zap.String("events", appCfg.Events.Driver),
		)
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

func buildBackend(cfg *AppConfig, redisCache *cache.RedisCache, runs status.Store) (backend.Backend, error) {
	if cfg.Backend.Mode == backendRemote {
		return backend.NewRemoteBackend(cfg.Backend.Remote)
	}

	var locker lock.Locker = lock.NewLocalLocker(cfg.Lock.Wait)
	if cfg.Lock.Driver == lockRedis && redisCache != nil {
		locker = lock.NewRedisLocker(redisCache, lock.RedisConfig{TTL: cfg.Lock.TTL, Wait: cfg.Lock.Wait})
	}

	procRunner := runner.NewProcessRunner(runner.Config{MaxOutputBytes: cfg.Runner.MaxOutputBytes})
	fetchers := map[string]deps.Fetcher{
		deps.SchemeGit: deps.NewGitFetcher(procRunner, cfg.Dependencies.GitCommand, cfg.Dependencies.GitTimeout),
	}
	if cfg.MinIO.Enabled() {
		objStorage, err := storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("init minio failed: %w", err)
		}
		fetchers[deps.SchemeArchive] = deps.NewArchiveFetcher(objStorage, cfg.MinIO.Bucket, cfg.Dependencies.ArchiveMaxBytes)
	}
	installer := deps.NewInstaller(deps.Config{
		Concurrency: cfg.Dependencies.Concurrency,
		Timeout:     cfg.Dependencies.Timeout,
	}, fetchers)

	store, err := workspace.NewStore(cfg.Workspace, installer)
	if err != nil {
		return nil, err
	}
	logger.Info(context.Background(), "workspace store ready",
		zap.String("root", store.Root()),
		zap.String("isolation", string(cfg.Toolchain.Isolation)),
		zap.String("lock", cfg.Lock.Driver),
	)
	return backend.NewLocalBackend(cfg.Toolchain, store, installer, procRunner, locker, runs), nil
}

func buildProducer(cfg EventsConfig) (mq.Producer, error) {
	switch cfg.Driver {
	case eventsKafka:
		return mq.NewKafkaProducer(cfg.Kafka)
	case eventsNats:
		return mq.NewNatsProducer(cfg.Nats)
	default:
		return nil, nil
	}
}

func buildHTTPServer(cfg ServerConfig, svc *service.Service) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	controller.RegisterRoutes(router, controller.NewBuildController(svc))

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
