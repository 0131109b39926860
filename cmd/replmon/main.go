package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/replmon/internal/archive"
	"github.com/xela07ax/replmon/internal/broadcast"
	"github.com/xela07ax/replmon/internal/collector"
	"github.com/xela07ax/replmon/internal/console/handler"
	"github.com/xela07ax/replmon/internal/console/server"
	"github.com/xela07ax/replmon/internal/console/service"
	"github.com/xela07ax/replmon/internal/domain"
	"github.com/xela07ax/replmon/internal/engine"
	"github.com/xela07ax/replmon/internal/infra"
	"github.com/xela07ax/replmon/internal/infra/auth"
	"github.com/xela07ax/replmon/internal/repository/postgres"
)

func main() {
	// 1. Инфраструктура и ресурсы
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if cfg.Database.URL == "" {
		log.Fatal("database.url (или DATABASE_URL) is required")
	}
	topologyRepo, err := postgres.NewTopologyRepo(cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("failed to init topology repo: %v", err)
	}
	// Проверяем соединение с таймаутом
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := topologyRepo.Ping(pingCtx); err != nil {
		log.Fatalf("database unreachable: %v", err)
	}
	cancelPing()

	archiveRepo, err := postgres.NewArchiveRepo(cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to init archive repo: %v", err)
	}
	recorder := archive.NewRecorder(archiveRepo, logger)
	recorder.Start()

	// 2. Сбор метрик: источник + цепочка защиты
	factory := buildSourceFactory(cfg.Source)
	col := collector.New(factory, logger)

	// Метрики самого монитора
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 3. Ядро мониторинга
	ledger := engine.NewAlertLedger(logger)
	history := engine.NewHistoryTracker()
	aggregator := engine.NewHealthAggregator(col, ledger, history, metrics, logger)
	scheduler := engine.NewMonitorScheduler(aggregator, topologyRepo, col, cfg.Monitor, metrics, logger)

	// 4. Фан-аут снапшотов: Redis для внешних потребителей, websocket для дашборда
	redisPub := broadcast.NewRedisPublisher(rdb, logger)
	wsHub := broadcast.NewWSHub(logger)
	scheduler.Subscribe(redisPub.PublishSnapshot)
	scheduler.Subscribe(wsHub.PublishSnapshot)

	// Свежий алерт: в журнал всегда, критический — еще и немедленным сигналом
	ledger.OnNewAlert(func(a domain.Alert) {
		recorder.Log(archive.AlertEvent{
			AlertID:  a.ID,
			Action:   archive.ActionCreated,
			Severity: a.Severity,
			Category: string(a.Category),
			Message:  a.Message,
			Source:   a.Source,
		})
		if a.Severity == domain.SeverityCritical {
			redisPub.PublishCriticalAlert(a)
		}
	})
	ledger.OnExpiredAlert(func(a domain.Alert) {
		recorder.Log(archive.AlertEvent{
			AlertID:  a.ID,
			Action:   archive.ActionExpired,
			Severity: a.Severity,
			Category: string(a.Category),
			Message:  a.Message,
			Source:   a.Source,
		})
	})

	// 5. Консоль: auth + командная поверхность
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		log.Fatalf("failed to parse public key: %v", err)
	}
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		log.Fatalf("failed to parse private key: %v", err)
	}
	validator := auth.NewBaseValidator(publicKey)

	authService := service.NewAuthService(topologyRepo, validator, privateKey, cfg.Auth.TokenTTL)
	monitorService := service.NewMonitorService(scheduler, ledger, history, col, topologyRepo, recorder, logger)

	authHandler := handler.NewAuthHandler(authService)
	monitorHandler := handler.NewMonitorHandler(monitorService, logger)

	consoleServer := server.NewConsoleServer(cfg, logger, authService, authHandler, monitorHandler, wsHub)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 6. Запуск: мониторинг сразу, потом HTTP
	scheduler.Start()

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("replmon stopping...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Цикл в полете дорабатывает, его снапшот еще публикуется
	scheduler.Stop()
	wsHub.Close()
	recorder.Stop()

	topologyRepo.Close()
	archiveRepo.Close()
	logger.Info("replmon exited properly")
}

// buildSourceFactory выбирает реализацию источника метрик.
// Mock — только явный выбор для стендов; молчаливого фолбэка нет.
func buildSourceFactory(cfg infra.SourceConfig) collector.SourceFactory {
	relCfg := collector.ReliabilityConfig{
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
		CBMaxRequests: cfg.CBMaxRequests,
		CBInterval:    cfg.CBInterval,
		CBTimeout:     cfg.CBTimeout,
		FetchTimeout:  cfg.FetchTimeout,
		Attempts:      3,
	}

	var base collector.SourceFactory
	switch cfg.Kind {
	case "mock":
		base = collector.NewMockSourceFactory()
	default:
		base = collector.NewPGSourceFactory()
	}

	return func(conn domain.Connection) (collector.MetricsSource, error) {
		src, err := base(conn)
		if err != nil {
			return nil, err
		}
		return collector.NewSafeSource(src, conn.Name, relCfg), nil
	}
}
