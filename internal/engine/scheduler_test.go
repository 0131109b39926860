package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xela07ax/replmon/internal/domain"
	"go.uber.org/zap"
)

// fakeTicker позволяет тесту стрелять тиками руками.
type fakeTicker struct {
	ch chan time.Time
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               {}

// withFakeTicker подменяет фабрику тикеров на время теста.
// Тесты планировщика поэтому не параллелятся.
func withFakeTicker(t *testing.T) *fakeTicker {
	t.Helper()
	ft := &fakeTicker{ch: make(chan time.Time)}
	orig := newTicker
	newTicker = func(time.Duration) ticker { return ft }
	t.Cleanup(func() { newTicker = orig })
	return ft
}

// tickerSet — свой фейковый тикер на каждый интервал: петли опроса и
// tracer-посева получают независимые ручки.
type tickerSet struct {
	mu         sync.Mutex
	byInterval map[time.Duration]*fakeTicker
}

func withTickerSet(t *testing.T) *tickerSet {
	t.Helper()
	set := &tickerSet{byInterval: make(map[time.Duration]*fakeTicker)}
	orig := newTicker
	newTicker = func(d time.Duration) ticker {
		set.mu.Lock()
		defer set.mu.Unlock()
		if ft, ok := set.byInterval[d]; ok {
			return ft
		}
		ft := &fakeTicker{ch: make(chan time.Time)}
		set.byInterval[d] = ft
		return ft
	}
	t.Cleanup(func() { newTicker = orig })
	return set
}

// tick дожидается, пока петля создаст тикер под интервал, и стреляет.
func (s *tickerSet) tick(t *testing.T, d time.Duration) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		ft := s.byInterval[d]
		s.mu.Unlock()
		if ft != nil {
			select {
			case ft.ch <- time.Now():
				return
			case <-deadline:
				t.Fatalf("ticker %v send stuck", d)
			}
		}
		select {
		case <-deadline:
			t.Fatalf("ticker %v never created", d)
		case <-time.After(time.Millisecond):
		}
	}
}

// recordingRunner считает циклы, запоминает конфигурацию каждого и
// отслеживает параллельные входы.
type recordingRunner struct {
	cycles   chan domain.MonitoringConfig
	inFlight atomic.Int32
	overlaps atomic.Int32
	delay    time.Duration
}

func newRecordingRunner(delay time.Duration) *recordingRunner {
	return &recordingRunner{cycles: make(chan domain.MonitoringConfig, 64), delay: delay}
}

func (r *recordingRunner) RunCycle(_ context.Context, _ []domain.Connection, cfg domain.MonitoringConfig) domain.HealthSnapshot {
	if r.inFlight.Add(1) > 1 {
		r.overlaps.Add(1)
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.inFlight.Add(-1)
	r.cycles <- cfg
	return domain.HealthSnapshot{Status: domain.StatusHealthy, CollectedAt: time.Now()}
}

type staticTopology struct {
	conns []domain.Connection
}

func (s *staticTopology) ListConnections(context.Context) ([]domain.Connection, error) {
	return s.conns, nil
}

type noopTracer struct{}

func (noopTracer) InsertTracerTokens(context.Context, domain.Connection) error { return nil }

func schedulerConfig() domain.MonitoringConfig {
	cfg := domain.DefaultMonitoringConfig()
	// Tracer-петля со своим тикером тестам планировщика не нужна
	cfg.EnableTracerTokens = false
	return cfg
}

func newTestScheduler(runner CycleRunner, cfg domain.MonitoringConfig) *MonitorScheduler {
	return NewMonitorScheduler(runner, &staticTopology{}, noopTracer{}, cfg, NewMetrics(nil), zap.NewNop())
}

func waitCycle(t *testing.T, r *recordingRunner) domain.MonitoringConfig {
	t.Helper()
	select {
	case cfg := <-r.cycles:
		return cfg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cycle")
		return domain.MonitoringConfig{}
	}
}

// Первый цикл выполняется сразу после Start, до первого тика.
func TestScheduler_ImmediateFirstCycle(t *testing.T) {
	withFakeTicker(t)
	runner := newRecordingRunner(0)
	s := newTestScheduler(runner, schedulerConfig())

	s.Start()
	defer s.Stop()

	waitCycle(t, runner)
	if !s.IsRunning() {
		t.Error("IsRunning = false after Start")
	}
}

// Подписчики получают снапшот синхронно, в порядке регистрации.
func TestScheduler_PublishOrder(t *testing.T) {
	withFakeTicker(t)
	runner := newRecordingRunner(0)
	s := newTestScheduler(runner, schedulerConfig())

	var mu sync.Mutex
	var order []string
	published := make(chan struct{}, 8)
	sub := func(name string) Subscriber {
		return func(domain.HealthSnapshot) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			if name == "third" {
				published <- struct{}{}
			}
		}
	}
	s.Subscribe(sub("first"))
	s.Subscribe(sub("second"))
	s.Subscribe(sub("third"))

	s.Start()
	<-published
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("publish order = %v, want [first second third]", order)
	}
}

// Отписавшийся получатель больше снапшотов не видит.
func TestScheduler_Unsubscribe(t *testing.T) {
	withFakeTicker(t)
	runner := newRecordingRunner(0)
	s := newTestScheduler(runner, schedulerConfig())

	var gone atomic.Int32
	subscription := s.Subscribe(func(domain.HealthSnapshot) { gone.Add(1) })
	subscription.Unsubscribe()
	subscription.Unsubscribe() // Повторная отписка безопасна

	s.Start()
	waitCycle(t, runner)
	s.Stop()

	if gone.Load() != 0 {
		t.Errorf("unsubscribed receiver got %d snapshots", gone.Load())
	}
}

// Медленный цикл и сыплющиеся тики: циклы никогда не перекрываются,
// пропущенные тики не ставятся в очередь.
func TestScheduler_NoOverlappingCycles(t *testing.T) {
	ft := withFakeTicker(t)
	runner := newRecordingRunner(30 * time.Millisecond)
	s := newTestScheduler(runner, schedulerConfig())

	s.Start()
	waitCycle(t, runner) // Немедленный первый цикл

	// Несколько тиков подряд, быстрее, чем длится цикл
	for i := 0; i < 3; i++ {
		select {
		case ft.ch <- time.Now():
		case <-time.After(time.Second):
			t.Fatal("ticker send stuck")
		}
		waitCycle(t, runner)
	}
	s.Stop()

	if n := runner.overlaps.Load(); n != 0 {
		t.Errorf("observed %d overlapping cycles, want 0", n)
	}
}

// Stop идемпотентен и дожидается цикла в полете.
func TestScheduler_StopIdempotent(t *testing.T) {
	withFakeTicker(t)
	runner := newRecordingRunner(0)
	s := newTestScheduler(runner, schedulerConfig())

	s.Start()
	waitCycle(t, runner)
	s.Stop()
	s.Stop()

	if s.IsRunning() {
		t.Error("IsRunning = true after Stop")
	}
}

// Валидный патч: ровно один перезапуск, следующий цикл видит новые пороги.
func TestScheduler_UpdateConfigRestarts(t *testing.T) {
	withFakeTicker(t)
	runner := newRecordingRunner(0)
	s := newTestScheduler(runner, schedulerConfig())

	s.Start()
	first := waitCycle(t, runner)
	if first.LatencyWarningSeconds != 300 {
		t.Fatalf("initial warning threshold = %v, want 300", first.LatencyWarningSeconds)
	}

	warn := 120.0
	if err := s.UpdateConfig(domain.ConfigPatch{LatencyWarningSeconds: &warn}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	// Перезапуск дает немедленный цикл уже на новой конфигурации
	second := waitCycle(t, runner)
	if second.LatencyWarningSeconds != 120 {
		t.Errorf("post-update warning threshold = %v, want 120", second.LatencyWarningSeconds)
	}
	if second.LatencyCriticalSeconds != 900 {
		t.Errorf("untouched critical threshold = %v, want 900", second.LatencyCriticalSeconds)
	}
	if !s.IsRunning() {
		t.Error("monitor not running after config update")
	}
	s.Stop()
}

// Невалидный патч отвергается целиком: конфигурация и состояние нетронуты.
func TestScheduler_UpdateConfigRejectsInvalidPatch(t *testing.T) {
	withFakeTicker(t)
	runner := newRecordingRunner(0)
	s := newTestScheduler(runner, schedulerConfig())

	s.Start()
	waitCycle(t, runner)
	defer s.Stop()

	// warning выше critical — патч невалиден, хотя само по себе поле валидно
	warn := 9000.0
	if err := s.UpdateConfig(domain.ConfigPatch{LatencyWarningSeconds: &warn}); err == nil {
		t.Fatal("UpdateConfig accepted invalid patch")
	}

	if got := s.Config().LatencyWarningSeconds; got != 300 {
		t.Errorf("config mutated by rejected patch: warning = %v, want 300", got)
	}
	if !s.IsRunning() {
		t.Error("rejected patch stopped the monitor")
	}
	// И перезапуска не было: внеочередного цикла нет
	select {
	case <-runner.cycles:
		t.Error("rejected patch triggered a cycle")
	case <-time.After(50 * time.Millisecond):
	}
}

// Патч на остановленном мониторе меняет конфигурацию, но не запускает его.
func TestScheduler_UpdateConfigWhileStopped(t *testing.T) {
	withFakeTicker(t)
	runner := newRecordingRunner(0)
	s := newTestScheduler(runner, schedulerConfig())

	interval := 5 * time.Second
	if err := s.UpdateConfig(domain.ConfigPatch{PollingInterval: &interval}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if s.IsRunning() {
		t.Error("UpdateConfig started a stopped monitor")
	}
	if got := s.Config().PollingInterval; got != 5*time.Second {
		t.Errorf("PollingInterval = %v, want 5s", got)
	}
}

// ctxRunner запоминает состояние контекста цикла в момент его завершения.
type ctxRunner struct {
	started chan struct{}
	ctxErr  chan error
	delay   time.Duration
}

func (r *ctxRunner) RunCycle(ctx context.Context, _ []domain.Connection, _ domain.MonitoringConfig) domain.HealthSnapshot {
	select {
	case r.started <- struct{}{}:
	default:
	}
	time.Sleep(r.delay)
	r.ctxErr <- ctx.Err()
	return domain.HealthSnapshot{Status: domain.StatusHealthy}
}

// Stop не обрывает цикл в полете: его выборки идут на живом контексте,
// снапшот публикуется, и только потом Stop возвращается.
func TestScheduler_StopKeepsInFlightCycleContextAlive(t *testing.T) {
	withFakeTicker(t)
	runner := &ctxRunner{
		started: make(chan struct{}, 1),
		ctxErr:  make(chan error, 1),
		delay:   100 * time.Millisecond,
	}
	var published atomic.Int32
	s := newTestScheduler(runner, schedulerConfig())
	s.Subscribe(func(domain.HealthSnapshot) { published.Add(1) })

	s.Start()
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle never started")
	}
	s.Stop() // Зовем, пока цикл спит: Stop обязан дождаться

	select {
	case err := <-runner.ctxErr:
		if err != nil {
			t.Errorf("in-flight cycle context error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cycle never finished")
	}
	if published.Load() != 1 {
		t.Errorf("published snapshots = %d, want 1", published.Load())
	}
}

// failingTracer всегда отказывает и считает попытки.
type failingTracer struct {
	calls chan string
}

func (f *failingTracer) InsertTracerTokens(_ context.Context, conn domain.Connection) error {
	f.calls <- conn.Name
	return errors.New("permission denied")
}

// Петля tracer-посева независима от опроса: сбой вставки не останавливает
// ее расписание и не трогает циклы мониторинга.
func TestScheduler_TracerFailureKeepsSchedule(t *testing.T) {
	set := withTickerSet(t)
	runner := newRecordingRunner(0)
	inserter := &failingTracer{calls: make(chan string, 8)}
	cfg := domain.DefaultMonitoringConfig() // Tracer-токены включены

	s := NewMonitorScheduler(runner,
		&staticTopology{conns: []domain.Connection{{ID: "c1", Name: "pub-1"}}},
		inserter, cfg, NewMetrics(nil), zap.NewNop())

	s.Start()
	waitCycle(t, runner)

	waitInsert := func() {
		t.Helper()
		select {
		case <-inserter.calls:
		case <-time.After(2 * time.Second):
			t.Fatal("tracer insertion never attempted")
		}
	}

	// Две вставки подряд: после отказа расписание живет
	set.tick(t, cfg.TracerTokenInterval)
	waitInsert()
	set.tick(t, cfg.TracerTokenInterval)
	waitInsert()

	// Опрос работает как ни в чем не бывало
	set.tick(t, cfg.PollingInterval)
	waitCycle(t, runner)

	s.Stop()
}

// RunNow: на остановленном — ErrNotRunning, на запущенном — внеплановый цикл.
func TestScheduler_RunNow(t *testing.T) {
	withFakeTicker(t)
	runner := newRecordingRunner(0)
	s := newTestScheduler(runner, schedulerConfig())

	if err := s.RunNow(); err != ErrNotRunning {
		t.Errorf("RunNow on stopped = %v, want ErrNotRunning", err)
	}

	s.Start()
	waitCycle(t, runner)

	if err := s.RunNow(); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	waitCycle(t, runner)
	s.Stop()
}
