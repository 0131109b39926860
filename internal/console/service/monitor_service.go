package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/xela07ax/replmon/internal/archive"
	"github.com/xela07ax/replmon/internal/collector"
	"github.com/xela07ax/replmon/internal/domain"
	"github.com/xela07ax/replmon/internal/engine"
	"go.uber.org/zap"
)

// TopologyReader — что сервису нужно от хранилища топологии.
type TopologyReader interface {
	ListConnections(ctx context.Context) ([]domain.Connection, error)
}

// MonitorService — командная поверхность ядра для презентационного слоя:
// снапшоты, снятие алертов, конфигурация, управление запуском.
type MonitorService struct {
	scheduler *engine.MonitorScheduler
	ledger    *engine.AlertLedger
	history   *engine.HistoryTracker
	collector *collector.Collector
	topology  TopologyReader
	recorder  *archive.Recorder
	logger    *zap.Logger

	mu   sync.RWMutex
	last *domain.HealthSnapshot
}

func NewMonitorService(
	scheduler *engine.MonitorScheduler,
	ledger *engine.AlertLedger,
	history *engine.HistoryTracker,
	col *collector.Collector,
	topology TopologyReader,
	recorder *archive.Recorder,
	logger *zap.Logger,
) *MonitorService {
	s := &MonitorService{
		scheduler: scheduler,
		ledger:    ledger,
		history:   history,
		collector: col,
		topology:  topology,
		recorder:  recorder,
		logger:    logger.Named("monitor-service"),
	}

	// Сервис сам — один из подписчиков: держит последний снапшот для HTTP
	scheduler.Subscribe(s.keepLast)
	return s
}

func (s *MonitorService) keepLast(snapshot domain.HealthSnapshot) {
	s.mu.Lock()
	s.last = &snapshot
	s.mu.Unlock()
}

// Snapshot возвращает последний опубликованный снапшот.
// До первого цикла снапшота еще нет — это штатное "нет данных".
func (s *MonitorService) Snapshot() (domain.HealthSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return domain.HealthSnapshot{}, false
	}
	return *s.last, true
}

// Alerts — текущее содержимое леджера (не дожидаясь следующего цикла).
func (s *MonitorService) Alerts() []domain.Alert {
	return s.ledger.SnapshotAll()
}

// ClearAlert — явное снятие алерта оператором. Отсутствующий id — no-op.
// Если условие живо, следующий цикл создаст алерт заново с новым id.
func (s *MonitorService) ClearAlert(id, actor string) bool {
	cleared := s.ledger.Clear(id)
	if cleared {
		s.recorder.Log(archive.AlertEvent{
			AlertID: id,
			Action:  archive.ActionCleared,
			Actor:   actor,
		})
	}
	return cleared
}

// UpdateConfig применяет частичное обновление конфигурации.
// Невалидный патч отклоняется целиком, рестарта не происходит.
func (s *MonitorService) UpdateConfig(patch domain.ConfigPatch) error {
	return s.scheduler.UpdateConfig(patch)
}

func (s *MonitorService) Config() domain.MonitoringConfig {
	return s.scheduler.Config()
}

func (s *MonitorService) Start() {
	s.scheduler.Start()
}

func (s *MonitorService) Stop() {
	s.scheduler.Stop()
}

func (s *MonitorService) IsRunning() bool {
	return s.scheduler.IsRunning()
}

// Refresh — внеплановый цикл, сериализованный с плановыми.
func (s *MonitorService) Refresh() error {
	return s.scheduler.RunNow()
}

// History — серия тренда для пары (публикация, подписчик, база).
// Неизвестный ключ дает пустую серию.
func (s *MonitorService) History(publication, subscriber, subscriberDB string) []domain.LatencyPoint {
	return s.history.Get(engine.SeriesKey{
		Publication:  publication,
		Subscriber:   subscriber,
		SubscriberDB: subscriberDB,
	})
}

// Connections — наблюдаемая топология (read-only).
func (s *MonitorService) Connections(ctx context.Context) ([]domain.Connection, error) {
	return s.topology.ListConnections(ctx)
}

// InsertTracerToken — ручная посадка зонда с консоли.
func (s *MonitorService) InsertTracerToken(ctx context.Context, connectionID, publication string) error {
	conns, err := s.topology.ListConnections(ctx)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}
	for _, c := range conns {
		if c.ID == connectionID {
			return s.collector.InsertTracerToken(ctx, c, publication)
		}
	}
	return fmt.Errorf("connection %s not found", connectionID)
}
