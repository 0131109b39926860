package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/replmon/internal/broadcast"
	"github.com/xela07ax/replmon/internal/domain"
	"github.com/xela07ax/replmon/internal/infra"
)

// replwatch — консольный наблюдатель за каналом снапшотов.
// Подключается к тому же Redis, что и монитор, и печатает переходы
// агрегатного статуса. Удобно на стенде: видно жизнь монитора без
// открытой консоли.
func main() {
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

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	var last domain.HealthStatus
	logger.Info("watching snapshot channel", zap.String("chan", infra.RedisChanSnapshots))

	broadcast.ListenSnapshots(ctx, rdb, logger, func(s domain.HealthSnapshot) {
		if s.Status == last {
			logger.Debug("snapshot",
				zap.String("status", string(s.Status)),
				zap.Int("alerts", len(s.Alerts)))
			return
		}
		logger.Info("status changed",
			zap.String("from", string(last)),
			zap.String("to", string(s.Status)),
			zap.Int("alerts", len(s.Alerts)),
			zap.Time("collected_at", s.CollectedAt))
		last = s.Status
	})
}
