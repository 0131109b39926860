package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/replmon/internal/domain"
	"github.com/xela07ax/replmon/internal/infra"
	"go.uber.org/zap"
)

// RedisPublisher зеркалирует жизнь монитора в Redis: каждый снапшот уходит
// в свой канал, свежесозданные критические алерты — в свой. Внешним
// потребителям (чужие дашборды, боты) не нужно держать HTTP-соединение
// с этим процессом.
type RedisPublisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisPublisher(rdb *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		rdb:    rdb,
		logger: logger.Named("redis-publisher"),
	}
}

// PublishSnapshot — подписчик планировщика: зовется синхронно на каждом цикле.
// Сбой публикации не должен влиять на цикл — логируем и едем дальше.
func (p *RedisPublisher) PublishSnapshot(snapshot domain.HealthSnapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		p.logger.Error("snapshot marshal failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.rdb.Publish(ctx, infra.RedisChanSnapshots, payload).Err(); err != nil {
		p.logger.Warn("snapshot publish failed", zap.Error(err))
	}
}

// PublishCriticalAlert — сигнал в момент рождения критического алерта.
// Один раз на алерт, не на каждый цикл, пока условие держится.
func (p *RedisPublisher) PublishCriticalAlert(alert domain.Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		p.logger.Error("alert marshal failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.rdb.Publish(ctx, infra.RedisChanCriticalAlerts, payload).Err(); err != nil {
		p.logger.Warn("critical alert publish failed", zap.Error(err))
	}
}

// ListenSnapshots — универсальный "живучий" цикл подписки на канал снапшотов
// для внешних потребителей этого пакета. Переподключается сам, разбирает
// полезную нагрузку и дергает колбэк.
func ListenSnapshots(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	onSnapshot func(domain.HealthSnapshot),
) {
	for {
		pubsub := rdb.Subscribe(ctx, infra.RedisChanSnapshots)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Error("failed to subscribe", zap.String("chan", infra.RedisChanSnapshots), zap.Error(err))
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				var snapshot domain.HealthSnapshot
				if err := json.Unmarshal([]byte(msg.Payload), &snapshot); err != nil {
					logger.Error("invalid snapshot payload", zap.Error(err))
					continue
				}
				onSnapshot(snapshot)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
