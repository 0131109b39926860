package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/xela07ax/replmon/internal/domain"
	"go.uber.org/zap"
)

// TopologyProvider — то, что планировщику нужно от хранилища топологии.
// Только чтение: монитор топологию не настраивает.
type TopologyProvider interface {
	ListConnections(ctx context.Context) ([]domain.Connection, error)
}

// TracerInserter вставляет tracer-токены во все публикации подключения.
// Это ЗАПИСЬ в наблюдаемую систему, не шаг сбора снапшота.
type TracerInserter interface {
	InsertTracerTokens(ctx context.Context, conn domain.Connection) error
}

// CycleRunner — то, что планировщику нужно от агрегатора: один цикл.
type CycleRunner interface {
	RunCycle(ctx context.Context, conns []domain.Connection, cfg domain.MonitoringConfig) domain.HealthSnapshot
}

// Subscriber получает каждый опубликованный снапшот, синхронно,
// в порядке публикации.
type Subscriber func(domain.HealthSnapshot)

// Subscription — ручка отписки.
type Subscription struct {
	cancel func()
	once   sync.Once
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// ErrNotRunning возвращается командами, требующими запущенный монитор.
var ErrNotRunning = errors.New("monitor is not running")

// MonitorScheduler владеет каденсом опроса и фан-аутом снапшотов.
//
// Машина состояний: Stopped <-> Running. Перечитка конфигурации — это
// stop+start, поэтому цикл никогда не видит смесь старых и новых порогов.
//
// Инвариант "циклы не перекрываются" обеспечивается конструктивно: цикл
// выполняется в теле цикла событий одной горутины, тикер на время работы
// цикла просто не читается. time.Ticker при этом роняет пропущенные тики
// (drop-and-resync), а не ставит их в очередь.
type MonitorScheduler struct {
	aggregator CycleRunner
	topology   TopologyProvider
	tracer     TracerInserter
	metrics    *Metrics
	logger     *zap.Logger

	mu      sync.Mutex // защищает cfg и состояние запуска
	cfg     domain.MonitoringConfig
	running bool
	cancel  context.CancelFunc
	done    []chan struct{}

	// Внеплановый цикл (console refresh). Буфер 1: серия нетерпеливых
	// нажатий сливается в один дополнительный цикл.
	kick chan struct{}

	subMu   sync.RWMutex
	subs    []subscriberEntry
	nextSub int
}

type subscriberEntry struct {
	id int
	fn Subscriber
}

func NewMonitorScheduler(
	aggregator CycleRunner,
	topology TopologyProvider,
	tracer TracerInserter,
	cfg domain.MonitoringConfig,
	metrics *Metrics,
	logger *zap.Logger,
) *MonitorScheduler {
	return &MonitorScheduler{
		aggregator: aggregator,
		topology:   topology,
		tracer:     tracer,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.Named("scheduler"),
		kick:       make(chan struct{}, 1),
	}
}

// Start переводит Stopped -> Running: один цикл сразу, без начальной
// задержки, дальше по тикеру. Повторный Start — no-op.
func (s *MonitorScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *MonitorScheduler) startLocked() {
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.done = nil

	// Конфигурация фиксируется на весь запуск: до следующего stop+start
	// все циклы видят один и тот же снимок порогов и интервалов
	cfg := s.cfg

	pollDone := make(chan struct{})
	s.done = append(s.done, pollDone)
	go s.pollLoop(ctx, cfg, pollDone)

	if cfg.EnableTracerTokens {
		tracerDone := make(chan struct{})
		s.done = append(s.done, tracerDone)
		go s.tracerLoop(ctx, cfg, tracerDone)
	}

	s.logger.Info("monitor started",
		zap.Duration("polling_interval", cfg.PollingInterval),
		zap.Bool("tracer_tokens", cfg.EnableTracerTokens))
}

// Stop переводит Running -> Stopped. Идемпотентен. Цикл в полете дорабатывает
// до конца (его снапшот публикуется), новые циклы не стартуют.
func (s *MonitorScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *MonitorScheduler) stopLocked() {
	if !s.running {
		return
	}
	s.cancel()
	for _, done := range s.done {
		<-done
	}
	s.running = false
	s.logger.Info("monitor stopped")
}

// UpdateConfig атомарно применяет частичное обновление: либо патч валиден
// целиком и монитор перезапускается на новой конфигурации, либо действует
// прежняя и перезапуска нет.
func (s *MonitorScheduler) UpdateConfig(patch domain.ConfigPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.cfg.ApplyPatch(patch)
	if err != nil {
		return err
	}

	wasRunning := s.running
	if wasRunning {
		s.stopLocked()
	}
	s.cfg = next
	if wasRunning {
		s.startLocked()
	}

	s.logger.Info("config updated", zap.Bool("restarted", wasRunning))
	return nil
}

// Config возвращает текущую конфигурацию.
func (s *MonitorScheduler) Config() domain.MonitoringConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// IsRunning сообщает состояние машины.
func (s *MonitorScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow просит цикл вне расписания. Выполнится в той же горутине цикла
// событий, так что с плановыми циклами не пересечется.
func (s *MonitorScheduler) RunNow() error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	select {
	case s.kick <- struct{}{}:
	default:
		// Запрос уже в очереди
	}
	return nil
}

// Subscribe регистрирует получателя снапшотов.
func (s *MonitorScheduler) Subscribe(fn Subscriber) *Subscription {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriberEntry{id: id, fn: fn})
	n := len(s.subs)
	s.subMu.Unlock()

	s.metrics.Subscribers.Set(float64(n))

	return &Subscription{cancel: func() {
		s.subMu.Lock()
		for i, e := range s.subs {
			if e.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		n := len(s.subs)
		s.subMu.Unlock()
		s.metrics.Subscribers.Set(float64(n))
	}}
}

func (s *MonitorScheduler) pollLoop(ctx context.Context, cfg domain.MonitoringConfig, done chan struct{}) {
	defer close(done)

	// Первый цикл сразу, без начальной задержки
	s.runCycle(cfg)

	ticker := newTicker(cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.runCycle(cfg)
		case <-s.kick:
			s.runCycle(cfg)
		}
	}
}

// runCycle живет на собственном контексте, а не на контексте запуска:
// Stop гасит только цикл событий, а цикл в полете дорабатывает до конца
// и публикует свой снапшот. Длительность ограничена таймаутами коллектора.
func (s *MonitorScheduler) runCycle(cfg domain.MonitoringConfig) {
	ctx := context.Background()

	conns, err := s.topology.ListConnections(ctx)
	if err != nil {
		// Деградируем, а не падаем: цикл без топологии дает пустой снапшот
		s.logger.Error("topology listing failed", zap.Error(err))
		s.metrics.CollectErrors.WithLabelValues("topology").Inc()
		conns = nil
	}

	snapshot := s.aggregator.RunCycle(ctx, conns, cfg)
	s.publish(snapshot)
}

// publish — синхронный фан-аут завершенного цикла всем подписчикам.
func (s *MonitorScheduler) publish(snapshot domain.HealthSnapshot) {
	s.subMu.RLock()
	subs := make([]subscriberEntry, len(s.subs))
	copy(subs, s.subs)
	s.subMu.RUnlock()

	for _, e := range subs {
		e.fn(snapshot)
	}
}

// tracerLoop — независимое расписание вставки tracer-токенов.
// Сбой вставки логируется и не влияет ни на расписание, ни на снапшоты.
func (s *MonitorScheduler) tracerLoop(ctx context.Context, cfg domain.MonitoringConfig, done chan struct{}) {
	defer close(done)

	ticker := newTicker(cfg.TracerTokenInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.insertTracers(ctx)
		}
	}
}

func (s *MonitorScheduler) insertTracers(ctx context.Context) {
	conns, err := s.topology.ListConnections(ctx)
	if err != nil {
		s.logger.Error("topology listing failed for tracer insertion", zap.Error(err))
		return
	}

	for _, conn := range conns {
		if err := s.tracer.InsertTracerTokens(ctx, conn); err != nil {
			s.logger.Warn("tracer token insertion failed",
				zap.String("connection", conn.Name),
				zap.Error(err))
			s.metrics.TracerInsertFailures.Inc()
		}
	}
}
