// Package collector адаптирует внешний источник метрик к модели данных ядра.
//
// Два уровня изоляции сбоев:
//   - категория (агенты, задержки, токены, статистика) — ловится здесь:
//     упавшая категория отдается пустым списком, остальные не страдают;
//   - подключение целиком — ловится агрегатором уровнем выше.
//
// Нормализация происходит жадно, на этой границе: дальше по системе никто
// не ветвится по особенностям конкретного источника.
package collector

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/xela07ax/replmon/internal/domain"
	"go.uber.org/zap"
)

type Collector struct {
	factory SourceFactory
	logger  *zap.Logger

	mu      sync.Mutex
	sources map[string]cachedSource // по Connection.ID
}

// cachedSource помнит DSN, под который источник был построен: смена адреса
// в топологии должна подхватываться без рестарта монитора.
type cachedSource struct {
	dsn string
	src MetricsSource
}

func New(factory SourceFactory, logger *zap.Logger) *Collector {
	return &Collector{
		factory: factory,
		logger:  logger.Named("collector"),
		sources: make(map[string]cachedSource),
	}
}

// sourceFor лениво создает и кэширует источник под подключение.
// Если DSN в топологии поменялся, устаревший источник закрывается
// и строится новый.
func (c *Collector) sourceFor(conn domain.Connection) (MetricsSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.sources[conn.ID]; ok {
		if cached.dsn == conn.DSN {
			return cached.src, nil
		}
		if closer, ok := cached.src.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				c.logger.Warn("stale source close failed",
					zap.String("connection", conn.Name), zap.Error(err))
			}
		}
		c.logger.Info("connection DSN changed, rebuilding source",
			zap.String("connection", conn.Name))
	}

	src, err := c.factory(conn)
	if err != nil {
		return nil, fmt.Errorf("source for %s: %w", conn.Name, err)
	}
	c.sources[conn.ID] = cachedSource{dsn: conn.DSN, src: src}
	return src, nil
}

// Collect опрашивает все четыре категории сигналов одного подключения.
// Единственный способ получить отсюда ошибку — не суметь построить сам
// источник; сбои отдельных категорий до вызывающего не доезжают.
func (c *Collector) Collect(ctx context.Context, conn domain.Connection) (domain.CollectResult, error) {
	src, err := c.sourceFor(conn)
	if err != nil {
		return domain.CollectResult{}, err
	}

	var res domain.CollectResult
	log := c.logger.With(zap.String("connection", conn.Name))

	if agents, err := src.FetchAgentStatuses(ctx); err != nil {
		log.Warn("agent status fetch failed", zap.Error(err))
	} else {
		res.Agents = agents
	}

	if metrics, err := src.FetchLatencyMetrics(ctx); err != nil {
		log.Warn("latency metrics fetch failed", zap.Error(err))
	} else {
		res.LatencyMetrics = normalizeLatency(metrics)
	}

	if tokens, err := src.FetchTracerTokens(ctx); err != nil {
		log.Warn("tracer token fetch failed", zap.Error(err))
	} else {
		res.TracerTokens = normalizeTokens(tokens)
	}

	if stats, err := src.FetchPublicationStats(ctx); err != nil {
		log.Warn("publication stats fetch failed", zap.Error(err))
	} else {
		res.PublicationStats = stats
	}

	return res, nil
}

// InsertTracerToken сажает зонд в одну публикацию подключения.
func (c *Collector) InsertTracerToken(ctx context.Context, conn domain.Connection, publication string) error {
	src, err := c.sourceFor(conn)
	if err != nil {
		return err
	}
	return src.InsertTracerToken(ctx, publication)
}

// InsertTracerTokens сажает по зонду в каждую публикацию подключения.
// Частичные сбои не прерывают обход: сеем во все, что можем.
func (c *Collector) InsertTracerTokens(ctx context.Context, conn domain.Connection) error {
	src, err := c.sourceFor(conn)
	if err != nil {
		return err
	}

	stats, err := src.FetchPublicationStats(ctx)
	if err != nil {
		return fmt.Errorf("list publications on %s: %w", conn.Name, err)
	}

	failed := 0
	for _, p := range stats {
		if err := src.InsertTracerToken(ctx, p.Name); err != nil {
			failed++
			c.logger.Warn("tracer insertion failed",
				zap.String("connection", conn.Name),
				zap.String("publication", p.Name),
				zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tracer insertions failed on %s", failed, len(stats), conn.Name)
	}
	return nil
}

// normalizeLatency приводит метрики к инвариантам ядра: History принадлежит
// трекеру (а не источнику), CollectedAt всегда проставлен.
func normalizeLatency(metrics []domain.LatencyMetric) []domain.LatencyMetric {
	now := time.Now().UTC()
	for i := range metrics {
		metrics[i].History = nil
		if metrics[i].CollectedAt.IsZero() {
			metrics[i].CollectedAt = now
		}
		if metrics[i].PendingCommands < 0 {
			metrics[i].PendingCommands = 0
		}
	}
	return metrics
}

// normalizeTokens досчитывает сквозную задержку там, где источник отдал
// только таймстемпы. Недолетевший токен (нет времени подписчика) остается
// с нулевой задержкой — это "N/A", а не ошибка.
func normalizeTokens(tokens []domain.TracerTokenResult) []domain.TracerTokenResult {
	for i := range tokens {
		t := &tokens[i]
		if t.TotalLatencySeconds == 0 && t.SubscriberInsertTime != nil {
			t.TotalLatencySeconds = t.SubscriberInsertTime.Sub(t.PublisherInsertTime).Seconds()
		}
	}
	return tokens
}
