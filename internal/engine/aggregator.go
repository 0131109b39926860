package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/replmon/internal/domain"
	"go.uber.org/zap"
)

// Collector — то, что агрегатору нужно от сборщика метрик.
// Реализация живет в internal/collector и сама изолирует сбои по категориям;
// здесь изолируются сбои целого подключения.
type Collector interface {
	Collect(ctx context.Context, conn domain.Connection) (domain.CollectResult, error)
}

// HealthAggregator оркестрирует один цикл опроса: собирает сигналы со всех
// подключений, прогоняет их через пороги, сверяет леджер и историю и
// собирает единый HealthSnapshot.
type HealthAggregator struct {
	collector Collector
	ledger    *AlertLedger
	history   *HistoryTracker
	metrics   *Metrics
	logger    *zap.Logger
}

func NewHealthAggregator(
	collector Collector,
	ledger *AlertLedger,
	history *HistoryTracker,
	metrics *Metrics,
	logger *zap.Logger,
) *HealthAggregator {
	return &HealthAggregator{
		collector: collector,
		ledger:    ledger,
		history:   history,
		metrics:   metrics,
		logger:    logger.Named("aggregator"),
	}
}

// connResult — результат сбора по одному подключению.
// Подключения опрашиваются параллельно (их немного, работа I/O-bound),
// а сведение в снапшот и работа с леджером идут строго последовательно.
type connResult struct {
	conn domain.Connection
	res  domain.CollectResult
	err  error
}

// RunCycle выполняет один полный цикл мониторинга.
// Сбой одного подключения не прерывает цикл: оно просто не вносит данных.
func (a *HealthAggregator) RunCycle(
	ctx context.Context,
	conns []domain.Connection,
	cfg domain.MonitoringConfig,
) domain.HealthSnapshot {
	started := time.Now()

	// 1. Сначала чистим устаревшее, потом реконсилируем новое
	a.ledger.Expire(cfg.AlertRetention)

	// 2. Параллельный сбор по подключениям
	results := make([]connResult, len(conns))
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn domain.Connection) {
			defer wg.Done()
			res, err := a.collector.Collect(ctx, conn)
			results[i] = connResult{conn: conn, res: res, err: err}
		}(i, conn)
	}
	wg.Wait()

	snapshot := domain.HealthSnapshot{CollectedAt: started}
	cycleWorst := domain.SeverityNone

	for _, r := range results {
		if r.err != nil {
			// Категория (b) из таксономии ошибок: подключение целиком
			// выпало из цикла, остальные не затронуты
			a.logger.Error("connection collect failed",
				zap.String("connection", r.conn.Name),
				zap.Error(r.err))
			a.metrics.CollectErrors.WithLabelValues("connection").Inc()
			continue
		}

		cycleWorst = MaxSeverity(cycleWorst, a.mergeAgents(&snapshot, r.conn, r.res.Agents))
		a.mergeLatency(&snapshot, r.res.LatencyMetrics, cfg)
		a.mergeTracerTokens(&snapshot, r.res.TracerTokens, cfg)
		snapshot.PublicationStats = append(snapshot.PublicationStats, r.res.PublicationStats...)
	}

	// 6. Агрегатный статус: максимум по всему леджеру плюс падения агентов
	// этого цикла
	snapshot.Alerts = a.ledger.SnapshotAll()
	snapshot.Status = overallStatus(MaxSeverity(a.ledger.MaxSeverity(), cycleWorst))

	a.observeCycle(snapshot, time.Since(started))
	return snapshot
}

// mergeAgents обновляет сводные счетчики и реконсилирует алерты по агентам.
// Возвращает худшую серьезность, замеченную среди агентов этого подключения.
func (a *HealthAggregator) mergeAgents(
	snapshot *domain.HealthSnapshot,
	conn domain.Connection,
	agents []domain.AgentStatus,
) domain.Severity {
	worst := domain.SeverityNone

	for _, ag := range agents {
		snapshot.Agents = append(snapshot.Agents, ag)

		switch ag.RunState {
		case domain.RunStateRunning, domain.RunStateRetrying, domain.RunStateCompleting:
			snapshot.AgentSummary.Running++
		case domain.RunStateStopped:
			snapshot.AgentSummary.Stopped++
		case domain.RunStateFailed:
			snapshot.AgentSummary.Error++
		}

		if ClassifyAgent(ag.RunState) == domain.SeverityCritical {
			worst = domain.SeverityCritical
			msg := fmt.Sprintf("%s agent %q on %s failed", ag.Kind, ag.Name, conn.Name)
			if ag.ErrorMessage != "" {
				msg += ": " + ag.ErrorMessage
			}
			a.ledger.Reconcile(domain.Alert{
				Severity: domain.SeverityCritical,
				Message:  msg,
				Source:   domain.AlertSource{Agent: ag.Name},
				Category: domain.CategoryError,
				RecommendedAction: "Проверьте историю запусков агента и перезапустите его " +
					"после устранения причины сбоя.",
			})
		}

		// Ортогональное правило производительности: CPU выше порога дает
		// Warning, не эскалируя основной latency/backlog статус
		if ag.Performance.CPUPercent > CPUWarningPercent {
			a.ledger.Reconcile(domain.Alert{
				Severity: domain.SeverityWarning,
				Message: fmt.Sprintf("agent %q CPU usage %.0f%% exceeds %.0f%%",
					ag.Name, ag.Performance.CPUPercent, CPUWarningPercent),
				Source:            domain.AlertSource{Agent: ag.Name},
				Category:          domain.CategoryPerformance,
				RecommendedAction: "Проверьте нагрузку на сервер агента.",
			})
		}
	}
	return worst
}

// mergeLatency классифицирует каждую метрику по обоим порогам независимо
// (эскалировать общий статус может любой), пишет точку в историю и подшивает
// получившуюся серию к метрике.
func (a *HealthAggregator) mergeLatency(
	snapshot *domain.HealthSnapshot,
	metrics []domain.LatencyMetric,
	cfg domain.MonitoringConfig,
) {
	for _, m := range metrics {
		src := domain.AlertSource{
			Publication:  m.Publication,
			Subscriber:   m.Subscriber,
			SubscriberDB: m.SubscriberDB,
		}

		if sev := ClassifyLatency(m.LatencySeconds, cfg.LatencyWarningSeconds, cfg.LatencyCriticalSeconds); sev != domain.SeverityNone {
			a.ledger.Reconcile(domain.Alert{
				Severity: sev,
				Message: fmt.Sprintf("delivery latency %.0fs for %s -> %s/%s",
					m.LatencySeconds, m.Publication, m.Subscriber, m.SubscriberDB),
				Source:            src,
				Category:          domain.CategoryLatency,
				RecommendedAction: "Проверьте distribution-агента и пропускную способность канала до подписчика.",
			})
		}

		if sev := ClassifyBacklog(m.PendingCommands, cfg.BacklogWarningCount, cfg.BacklogCriticalCount); sev != domain.SeverityNone {
			a.ledger.Reconcile(domain.Alert{
				Severity: sev,
				Message: fmt.Sprintf("%d pending commands for %s -> %s/%s",
					m.PendingCommands, m.Publication, m.Subscriber, m.SubscriberDB),
				Source:            src,
				Category:          domain.CategoryPerformance,
				RecommendedAction: "Очередь не успевает рассасываться: проверьте скорость доставки.",
			})
		}

		key := SeriesKey{Publication: m.Publication, Subscriber: m.Subscriber, SubscriberDB: m.SubscriberDB}
		a.history.Append(key, domain.LatencyPoint{
			Timestamp:      m.CollectedAt,
			LatencySeconds: m.LatencySeconds,
		}, cfg.HistoryRetentionCount)
		m.History = a.history.Get(key)

		snapshot.LatencyMetrics = append(snapshot.LatencyMetrics, m)
	}
}

// mergeTracerTokens — у tracer-проверки нет warning-уровня: либо норма,
// либо Critical по критическому порогу задержки.
func (a *HealthAggregator) mergeTracerTokens(
	snapshot *domain.HealthSnapshot,
	tokens []domain.TracerTokenResult,
	cfg domain.MonitoringConfig,
) {
	if !cfg.EnableTracerTokens {
		return
	}
	for _, tok := range tokens {
		snapshot.TracerTokens = append(snapshot.TracerTokens, tok)

		if tok.TotalLatencySeconds > cfg.LatencyCriticalSeconds {
			a.ledger.Reconcile(domain.Alert{
				Severity: domain.SeverityCritical,
				Message: fmt.Sprintf("tracer token round-trip %.0fs for publication %s",
					tok.TotalLatencySeconds, tok.Publication),
				Source:            domain.AlertSource{Publication: tok.Publication},
				Category:          domain.CategoryLatency,
				RecommendedAction: "Сквозная задержка репликации превышает критический порог.",
			})
		}
	}
}

func (a *HealthAggregator) observeCycle(snapshot domain.HealthSnapshot, took time.Duration) {
	a.metrics.CycleDuration.Observe(took.Seconds())

	var warn, crit float64
	for _, al := range snapshot.Alerts {
		switch al.Severity {
		case domain.SeverityWarning:
			warn++
		case domain.SeverityCritical:
			crit++
		}
	}
	a.metrics.ActiveAlerts.WithLabelValues("warning").Set(warn)
	a.metrics.ActiveAlerts.WithLabelValues("critical").Set(crit)

	switch snapshot.Status {
	case domain.StatusCritical:
		a.metrics.SnapshotStatus.Set(2)
	case domain.StatusWarning:
		a.metrics.SnapshotStatus.Set(1)
	default:
		a.metrics.SnapshotStatus.Set(0)
	}

	a.logger.Debug("cycle complete",
		zap.Duration("took", took),
		zap.String("status", string(snapshot.Status)),
		zap.Int("alerts", len(snapshot.Alerts)),
		zap.Int("agents", len(snapshot.Agents)),
		zap.Int("latency_metrics", len(snapshot.LatencyMetrics)))
}

func overallStatus(sev domain.Severity) domain.HealthStatus {
	switch sev {
	case domain.SeverityCritical:
		return domain.StatusCritical
	case domain.SeverityWarning:
		return domain.StatusWarning
	default:
		return domain.StatusHealthy
	}
}
