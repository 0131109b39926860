package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xela07ax/replmon/internal/domain"
	"go.uber.org/zap"
)

// fakeCollector отдает подготовленный результат по имени подключения.
// Подключения без записи считаются упавшими.
type fakeCollector struct {
	byConn map[string]domain.CollectResult
	calls  int
}

func (f *fakeCollector) Collect(_ context.Context, conn domain.Connection) (domain.CollectResult, error) {
	f.calls++
	res, ok := f.byConn[conn.Name]
	if !ok {
		return domain.CollectResult{}, errors.New("connection refused")
	}
	return res, nil
}

func newTestAggregator(t *testing.T, c Collector) (*HealthAggregator, *AlertLedger) {
	t.Helper()
	logger := zap.NewNop()
	ledger := NewAlertLedger(logger)
	return NewHealthAggregator(c, ledger, NewHistoryTracker(), NewMetrics(nil), logger), ledger
}

func latencyResult(pub, sub, db string, latency float64, pending int64) domain.CollectResult {
	return domain.CollectResult{
		LatencyMetrics: []domain.LatencyMetric{{
			Publication:     pub,
			Subscriber:      sub,
			SubscriberDB:    db,
			LatencySeconds:  latency,
			PendingCommands: pending,
			CollectedAt:     time.Now(),
		}},
	}
}

// Базовый сценарий: 950с при порогах 300/900 — критический алерт по задержке
// и критический общий статус.
func TestAggregator_CriticalLatency(t *testing.T) {
	fc := &fakeCollector{byConn: map[string]domain.CollectResult{
		"pub-1": latencyResult("orders_pub", "replica-1", "orders", 950, 100),
	}}
	agg, _ := newTestAggregator(t, fc)

	snap := agg.RunCycle(context.Background(),
		[]domain.Connection{{ID: "c1", Name: "pub-1"}},
		domain.DefaultMonitoringConfig())

	if snap.Status != domain.StatusCritical {
		t.Errorf("Status = %v, want %v", snap.Status, domain.StatusCritical)
	}
	if len(snap.Alerts) != 1 {
		t.Fatalf("len(Alerts) = %d, want 1", len(snap.Alerts))
	}
	al := snap.Alerts[0]
	if al.Severity != domain.SeverityCritical {
		t.Errorf("Severity = %v, want Critical", al.Severity)
	}
	if al.Category != domain.CategoryLatency {
		t.Errorf("Category = %v, want %v", al.Category, domain.CategoryLatency)
	}
	if al.Source.Publication != "orders_pub" || al.Source.Subscriber != "replica-1" {
		t.Errorf("Source = %+v, want orders_pub/replica-1", al.Source)
	}
}

// Повторные циклы с той же проблемой не плодят дубликаты и не сбрасывают
// момент появления алерта.
func TestAggregator_RepeatCyclesIdempotent(t *testing.T) {
	fc := &fakeCollector{byConn: map[string]domain.CollectResult{
		"pub-1": latencyResult("orders_pub", "replica-1", "orders", 950, 100),
	}}
	agg, _ := newTestAggregator(t, fc)
	conns := []domain.Connection{{ID: "c1", Name: "pub-1"}}
	cfg := domain.DefaultMonitoringConfig()

	first := agg.RunCycle(context.Background(), conns, cfg)
	var last domain.HealthSnapshot
	for i := 0; i < 4; i++ {
		last = agg.RunCycle(context.Background(), conns, cfg)
	}

	if len(last.Alerts) != 1 {
		t.Fatalf("after 5 cycles len(Alerts) = %d, want 1", len(last.Alerts))
	}
	if last.Alerts[0].ID != first.Alerts[0].ID {
		t.Error("alert ID changed between cycles")
	}
	if !last.Alerts[0].CreatedAt.Equal(first.Alerts[0].CreatedAt) {
		t.Error("alert CreatedAt reset between cycles")
	}
}

// Падение одного подключения не мешает собрать данные с остальных.
func TestAggregator_ConnectionFailureIsolated(t *testing.T) {
	fc := &fakeCollector{byConn: map[string]domain.CollectResult{
		"pub-ok": latencyResult("orders_pub", "replica-1", "orders", 10, 5),
		// "pub-dead" отсутствует — Collect вернет ошибку
	}}
	agg, _ := newTestAggregator(t, fc)

	snap := agg.RunCycle(context.Background(),
		[]domain.Connection{
			{ID: "c1", Name: "pub-dead"},
			{ID: "c2", Name: "pub-ok"},
		},
		domain.DefaultMonitoringConfig())

	if len(snap.LatencyMetrics) != 1 {
		t.Fatalf("len(LatencyMetrics) = %d, want 1", len(snap.LatencyMetrics))
	}
	if snap.LatencyMetrics[0].Publication != "orders_pub" {
		t.Errorf("Publication = %q, want orders_pub", snap.LatencyMetrics[0].Publication)
	}
	if snap.Status != domain.StatusHealthy {
		t.Errorf("Status = %v, want %v", snap.Status, domain.StatusHealthy)
	}
}

// Упавший агент — всегда Critical, независимо от порогов задержки.
func TestAggregator_FailedAgentCritical(t *testing.T) {
	fc := &fakeCollector{byConn: map[string]domain.CollectResult{
		"pub-1": {
			Agents: []domain.AgentStatus{
				{Name: "logread-1", Kind: domain.AgentLogReader, RunState: domain.RunStateRunning},
				{Name: "dist-1", Kind: domain.AgentDistribution, RunState: domain.RunStateFailed,
					ErrorMessage: "login timeout"},
				{Name: "snap-1", Kind: domain.AgentSnapshot, RunState: domain.RunStateStopped},
			},
		},
	}}
	agg, _ := newTestAggregator(t, fc)

	snap := agg.RunCycle(context.Background(),
		[]domain.Connection{{ID: "c1", Name: "pub-1"}},
		domain.DefaultMonitoringConfig())

	if snap.Status != domain.StatusCritical {
		t.Errorf("Status = %v, want Critical", snap.Status)
	}
	if got := snap.AgentSummary; got.Running != 1 || got.Stopped != 1 || got.Error != 1 {
		t.Errorf("AgentSummary = %+v, want 1/1/1", got)
	}
	if len(snap.Alerts) != 1 {
		t.Fatalf("len(Alerts) = %d, want 1", len(snap.Alerts))
	}
	if snap.Alerts[0].Category != domain.CategoryError {
		t.Errorf("Category = %v, want %v", snap.Alerts[0].Category, domain.CategoryError)
	}
	if snap.Alerts[0].Source.Agent != "dist-1" {
		t.Errorf("Source.Agent = %q, want dist-1", snap.Alerts[0].Source.Agent)
	}
}

// Высокий CPU дает Warning по производительности и не эскалирует статус
// до Critical.
func TestAggregator_CPUWarningOrthogonal(t *testing.T) {
	fc := &fakeCollector{byConn: map[string]domain.CollectResult{
		"pub-1": {
			Agents: []domain.AgentStatus{{
				Name:        "dist-1",
				Kind:        domain.AgentDistribution,
				RunState:    domain.RunStateRunning,
				Performance: domain.AgentPerformance{CPUPercent: 95},
			}},
		},
	}}
	agg, _ := newTestAggregator(t, fc)

	snap := agg.RunCycle(context.Background(),
		[]domain.Connection{{ID: "c1", Name: "pub-1"}},
		domain.DefaultMonitoringConfig())

	if snap.Status != domain.StatusWarning {
		t.Errorf("Status = %v, want %v", snap.Status, domain.StatusWarning)
	}
	if len(snap.Alerts) != 1 {
		t.Fatalf("len(Alerts) = %d, want 1", len(snap.Alerts))
	}
	if snap.Alerts[0].Category != domain.CategoryPerformance {
		t.Errorf("Category = %v, want %v", snap.Alerts[0].Category, domain.CategoryPerformance)
	}
}

// Одна метрика может дать сразу два алерта: по задержке и по очереди.
func TestAggregator_LatencyAndBacklogIndependent(t *testing.T) {
	fc := &fakeCollector{byConn: map[string]domain.CollectResult{
		"pub-1": latencyResult("orders_pub", "replica-1", "orders", 400, 60_000),
	}}
	agg, _ := newTestAggregator(t, fc)

	snap := agg.RunCycle(context.Background(),
		[]domain.Connection{{ID: "c1", Name: "pub-1"}},
		domain.DefaultMonitoringConfig())

	if len(snap.Alerts) != 2 {
		t.Fatalf("len(Alerts) = %d, want 2", len(snap.Alerts))
	}
	// Снапшот отсортирован по убыванию серьезности: сначала Critical по
	// очереди, затем Warning по задержке
	if snap.Alerts[0].Severity != domain.SeverityCritical || snap.Alerts[0].Category != domain.CategoryPerformance {
		t.Errorf("Alerts[0] = %v/%v, want Critical/%v",
			snap.Alerts[0].Severity, snap.Alerts[0].Category, domain.CategoryPerformance)
	}
	if snap.Alerts[1].Severity != domain.SeverityWarning || snap.Alerts[1].Category != domain.CategoryLatency {
		t.Errorf("Alerts[1] = %v/%v, want Warning/%v",
			snap.Alerts[1].Severity, snap.Alerts[1].Category, domain.CategoryLatency)
	}
	if snap.Status != domain.StatusCritical {
		t.Errorf("Status = %v, want Critical", snap.Status)
	}
}

// Tracer-токены: Critical только выше критического порога, и только когда
// проверка включена.
func TestAggregator_TracerTokens(t *testing.T) {
	mkResult := func(latency float64) domain.CollectResult {
		return domain.CollectResult{
			TracerTokens: []domain.TracerTokenResult{{
				ID:                  "tok-1",
				Publication:         "orders_pub",
				PublisherInsertTime: time.Now(),
				TotalLatencySeconds: latency,
			}},
		}
	}

	t.Run("above critical", func(t *testing.T) {
		fc := &fakeCollector{byConn: map[string]domain.CollectResult{"pub-1": mkResult(1200)}}
		agg, _ := newTestAggregator(t, fc)
		snap := agg.RunCycle(context.Background(),
			[]domain.Connection{{Name: "pub-1"}}, domain.DefaultMonitoringConfig())
		if snap.Status != domain.StatusCritical {
			t.Errorf("Status = %v, want Critical", snap.Status)
		}
		if len(snap.TracerTokens) != 1 {
			t.Errorf("len(TracerTokens) = %d, want 1", len(snap.TracerTokens))
		}
	})

	t.Run("below critical", func(t *testing.T) {
		fc := &fakeCollector{byConn: map[string]domain.CollectResult{"pub-1": mkResult(500)}}
		agg, _ := newTestAggregator(t, fc)
		snap := agg.RunCycle(context.Background(),
			[]domain.Connection{{Name: "pub-1"}}, domain.DefaultMonitoringConfig())
		// Warning-уровня у tracer-проверки нет
		if snap.Status != domain.StatusHealthy {
			t.Errorf("Status = %v, want Healthy", snap.Status)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		fc := &fakeCollector{byConn: map[string]domain.CollectResult{"pub-1": mkResult(1200)}}
		agg, _ := newTestAggregator(t, fc)
		cfg := domain.DefaultMonitoringConfig()
		cfg.EnableTracerTokens = false
		snap := agg.RunCycle(context.Background(),
			[]domain.Connection{{Name: "pub-1"}}, cfg)
		if snap.Status != domain.StatusHealthy {
			t.Errorf("Status = %v, want Healthy", snap.Status)
		}
		if len(snap.TracerTokens) != 0 {
			t.Errorf("len(TracerTokens) = %d, want 0", len(snap.TracerTokens))
		}
	})
}

// Пустая топология — валидный здоровый снапшот, а не ошибка.
func TestAggregator_EmptyTopology(t *testing.T) {
	agg, _ := newTestAggregator(t, &fakeCollector{})

	snap := agg.RunCycle(context.Background(), nil, domain.DefaultMonitoringConfig())

	if snap.Status != domain.StatusHealthy {
		t.Errorf("Status = %v, want Healthy", snap.Status)
	}
	if len(snap.Alerts) != 0 || len(snap.Agents) != 0 {
		t.Errorf("empty topology produced data: %d alerts, %d agents",
			len(snap.Alerts), len(snap.Agents))
	}
}

// История подшивается к метрике и растет от цикла к циклу до лимита.
func TestAggregator_HistoryStitched(t *testing.T) {
	fc := &fakeCollector{byConn: map[string]domain.CollectResult{
		"pub-1": latencyResult("orders_pub", "replica-1", "orders", 10, 5),
	}}
	agg, _ := newTestAggregator(t, fc)
	conns := []domain.Connection{{Name: "pub-1"}}
	cfg := domain.DefaultMonitoringConfig()

	var snap domain.HealthSnapshot
	for i := 0; i < 3; i++ {
		snap = agg.RunCycle(context.Background(), conns, cfg)
	}

	if got := len(snap.LatencyMetrics[0].History); got != 3 {
		t.Errorf("len(History) = %d, want 3", got)
	}
}

// Алерт, очищенный оператором, не подавляет повторное обнаружение: следующая
// сверка заводит новый алерт с новым id.
func TestAggregator_ClearThenRedetect(t *testing.T) {
	fc := &fakeCollector{byConn: map[string]domain.CollectResult{
		"pub-1": latencyResult("orders_pub", "replica-1", "orders", 950, 100),
	}}
	agg, ledger := newTestAggregator(t, fc)
	conns := []domain.Connection{{Name: "pub-1"}}
	cfg := domain.DefaultMonitoringConfig()

	first := agg.RunCycle(context.Background(), conns, cfg)
	if !ledger.Clear(first.Alerts[0].ID) {
		t.Fatal("Clear returned false for existing alert")
	}

	second := agg.RunCycle(context.Background(), conns, cfg)
	if len(second.Alerts) != 1 {
		t.Fatalf("len(Alerts) = %d, want 1", len(second.Alerts))
	}
	if second.Alerts[0].ID == first.Alerts[0].ID {
		t.Error("re-detected alert reused cleared id")
	}
}
