package collector

import (
	"context"

	"github.com/xela07ax/replmon/internal/domain"
)

// MetricsSource — контракт источника сырых сигналов для одного наблюдаемого
// сервера. Как именно он разговаривает с движком (системные представления,
// хранимые процедуры) — дело реализации; ядро видит только эти пять операций.
//
// Контракт: каждая выборка конечна и ограничена по времени; "данных нет" —
// это пустой срез, а НЕ ошибка. Ошибки зарезервированы за реальными сбоями
// транспорта и авторизации.
type MetricsSource interface {
	FetchAgentStatuses(ctx context.Context) ([]domain.AgentStatus, error)
	FetchLatencyMetrics(ctx context.Context) ([]domain.LatencyMetric, error)
	FetchTracerTokens(ctx context.Context) ([]domain.TracerTokenResult, error)
	FetchPublicationStats(ctx context.Context) ([]domain.PublicationStats, error)

	// InsertTracerToken — запись в наблюдаемую систему: посадить зонд
	// в указанную публикацию.
	InsertTracerToken(ctx context.Context, publication string) error
}

// SourceFactory создает источник метрик под конкретное подключение.
type SourceFactory func(conn domain.Connection) (MetricsSource, error)
