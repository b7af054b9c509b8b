package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailroute/backend/internal/config"
	"mailroute/backend/internal/delivery"
	"mailroute/backend/internal/disposition"
	"mailroute/backend/internal/health"
	"mailroute/backend/internal/inspection"
	"mailroute/backend/internal/logger"
	"mailroute/backend/internal/monitoring"
	"mailroute/backend/internal/pool"
	"mailroute/backend/internal/routing"
	"mailroute/backend/internal/service"
	smtpingress "mailroute/backend/internal/smtp"
	"mailroute/backend/internal/storage"
	"mailroute/backend/internal/storage/hybrid"
	"mailroute/backend/internal/storage/memory"
	"mailroute/backend/internal/storage/postgres"
	httptransport "mailroute/backend/internal/transport/http"
)

// main 启动同时包含管理 API 与入站 SMTP 的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log, "mailroute"))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailroute server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储层
	store, pingers, err := initializeStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, pingers, log)

	// 服务层
	serverService := service.NewServerService(store)
	domainService := service.NewDomainService(store)
	endpointService := service.NewEndpointService(store)
	routeService := service.NewRouteService(store, endpointService)
	messageService := service.NewMessageService(store)

	// 检查流水线：启动时构建，之后不再修改
	registry := inspection.NewRegistry(inspection.DefaultInspectors(cfg.Inspection.MaxMessageBytes, cfg.Inspection.KeywordWeight)...)
	pipeline := inspection.NewPipeline(registry, log.Named("inspection"), metrics)
	log.Info("inspection pipeline ready", zap.Int("inspectors", registry.Len()))

	matcher := routing.NewMatcher(store, log.Named("routing"), metrics)

	// 投递
	retry := delivery.NewRetryPolicy(cfg.Dispatch.RetryMin, cfg.Dispatch.RetryMax)
	loopback := delivery.NewLoopbackTransport(cfg.Dispatch.MaxHops, retry)
	factory := delivery.NewFactory(delivery.Transports{
		HTTP:    delivery.NewHTTPTransport(&http.Client{}, retry),
		SMTP:    delivery.NewSMTPTransport(cfg.SMTP.Domain, retry),
		Address: loopback,
	}, delivery.FactoryOptions{
		SMTPTimeout:    cfg.Dispatch.SMTPTimeout,
		AddressTimeout: cfg.Dispatch.AddressTimeout,
	})
	dispatcher := delivery.NewDispatcher(store, factory, store, store, log.Named("delivery"), metrics, delivery.Options{
		Concurrency: cfg.Dispatch.Concurrency,
	})

	engine := disposition.NewEngine(matcher, pipeline, dispatcher, store, disposition.Options{
		ReturnPathDomain:            cfg.Routing.ReturnPathDomain,
		NoRoutePolicy:               disposition.NoRoutePolicy(cfg.Routing.NoRoutePolicy),
		DefaultSpamThreshold:        cfg.Spam.DefaultThreshold,
		DefaultSpamFailureThreshold: cfg.Spam.FailureThreshold,
	}, log.Named("disposition"), metrics)
	// 地址端点通过处置引擎重投
	loopback.SetInjector(engine)

	jobs := pool.NewWorkerPool(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, log.Named("pool"), metrics)
	jobs.Start(ctx)

	// 入站 SMTP
	limiter := smtpingress.NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.ConnRate, cfg.SMTP.ConnBurst)
	smtpBackend := smtpingress.NewBackend(ctx, matcher, engine, jobs, limiter, smtpingress.Options{
		ReturnPathDomain: cfg.Routing.ReturnPathDomain,
		NoRoutePolicy:    disposition.NoRoutePolicy(cfg.Routing.NoRoutePolicy),
		MaxRecipients:    cfg.SMTP.MaxRecipients,
		MaxMessageBytes:  cfg.SMTP.MaxMessageBytes,
	}, log.Named("smtp"), metrics)
	smtpServer := smtpingress.NewServer(smtpBackend, cfg.SMTP, log.Named("smtp"))

	// 管理 API
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:    cfg,
		Servers:   serverService,
		Domains:   domainService,
		Endpoints: endpointService,
		Routes:    routeService,
		Messages:  messageService,
		Engine:    engine,
		Health:    healthChecker,
		Metrics:   metrics,
		Logger:    log,
	})

	httpAddr := cfg.HTTPAddr()
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
			zap.String("return_path_domain", cfg.Routing.ReturnPathDomain),
		)
		if err := smtpServer.ListenAndServe(); err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 优雅关闭：先停止收信，再等待队列中的投递完成
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := smtpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("SMTP server shutdown warning", zap.Error(err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		jobs.Stop()

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 根据配置选择内存存储或数据库 + Redis 混合存储
func initializeStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, map[string]health.Pinger, error) {
	if cfg.Database.Type == "" || cfg.Database.Type == "memory" {
		log.Warn("using memory storage, configuration is lost on restart")
		return memory.NewStore(), nil, nil
	}

	log.Info("initializing database storage",
		zap.String("database_type", cfg.Database.Type),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
	)

	if !cfg.Redis.Enabled {
		store, err := postgres.Open(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database store: %w", err)
		}
		return store, nil, nil
	}

	store, err := hybrid.NewStoreWithType(ctx, cfg.Database, cfg.Redis, log.Named("storage"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create hybrid store: %w", err)
	}

	log.Info("hybrid storage initialized successfully",
		zap.String("database_type", cfg.Database.Type),
		zap.String("redis_address", cfg.Redis.Address),
		zap.Duration("cache_ttl", cfg.Redis.CacheTTL),
	)
	return store, map[string]health.Pinger{"redis": store.Redis()}, nil
}
