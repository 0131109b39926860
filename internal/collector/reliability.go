package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/replmon/internal/domain"
)

// ReliabilityConfig — настройки декоратора надежности вокруг источника метрик.
type ReliabilityConfig struct {
	RateLimit     float64 // Запросов в секунду к одному серверу
	RateBurst     int
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	FetchTimeout  time.Duration // Таймаут одной попытки
	Attempts      uint
}

func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		RateLimit:     50,
		RateBurst:     10,
		CBMaxRequests: 3,
		CBInterval:    5 * time.Second,
		CBTimeout:     30 * time.Second,
		FetchTimeout:  10 * time.Second,
		Attempts:      3,
	}
}

// SafeSource оборачивает MetricsSource в Rate Limiter + Circuit Breaker +
// Retry. Именно этот слой делает конкретным допущение ядра "медленная или
// зависшая выборка ограничена контрактом коллектора": у каждой попытки свой
// таймаут, а постоянно сбоящий сервер отсекается предохранителем.
type SafeSource struct {
	next    MetricsSource
	cfg     ReliabilityConfig
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewSafeSource(next MetricsSource, name string, cfg ReliabilityConfig) *SafeSource {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "metrics-source-" + name,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся (перестаем дергать сервер)
			return counts.ConsecutiveFailures > 5
		},
	})

	return &SafeSource{
		next:    next,
		cfg:     cfg,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// execute прогоняет один вызов источника через всю цепочку защиты.
func (s *SafeSource) execute(ctx context.Context, op func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(s.cfg.Attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если сервер попросил паузу — уважаем её
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// Иначе стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
			defer cancel()
			return op(tCtx)
		})
	})
	return err
}

func (s *SafeSource) FetchAgentStatuses(ctx context.Context) ([]domain.AgentStatus, error) {
	var out []domain.AgentStatus
	err := s.execute(ctx, func(ctx context.Context) error {
		var fetchErr error
		out, fetchErr = s.next.FetchAgentStatuses(ctx)
		return fetchErr
	})
	return out, err
}

func (s *SafeSource) FetchLatencyMetrics(ctx context.Context) ([]domain.LatencyMetric, error) {
	var out []domain.LatencyMetric
	err := s.execute(ctx, func(ctx context.Context) error {
		var fetchErr error
		out, fetchErr = s.next.FetchLatencyMetrics(ctx)
		return fetchErr
	})
	return out, err
}

func (s *SafeSource) FetchTracerTokens(ctx context.Context) ([]domain.TracerTokenResult, error) {
	var out []domain.TracerTokenResult
	err := s.execute(ctx, func(ctx context.Context) error {
		var fetchErr error
		out, fetchErr = s.next.FetchTracerTokens(ctx)
		return fetchErr
	})
	return out, err
}

func (s *SafeSource) FetchPublicationStats(ctx context.Context) ([]domain.PublicationStats, error) {
	var out []domain.PublicationStats
	err := s.execute(ctx, func(ctx context.Context) error {
		var fetchErr error
		out, fetchErr = s.next.FetchPublicationStats(ctx)
		return fetchErr
	})
	return out, err
}

func (s *SafeSource) InsertTracerToken(ctx context.Context, publication string) error {
	return s.execute(ctx, func(ctx context.Context) error {
		return s.next.InsertTracerToken(ctx, publication)
	})
}

// Close пробрасывается нижележащему источнику, если тот его умеет.
func (s *SafeSource) Close() error {
	if closer, ok := s.next.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
