package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность полного цикла мониторинга
	CycleDuration prometheus.Histogram

	// Errors: сбои сбора по категориям (agents, latency, tracer, pubstats, connection)
	CollectErrors *prometheus.CounterVec

	// Состояние: активные алерты по серьезности
	ActiveAlerts *prometheus.GaugeVec

	// Агрегатный статус последнего снапшота (0 - healthy, 1 - warning, 2 - critical)
	SnapshotStatus prometheus.Gauge

	// Подписчики живых обновлений
	Subscribers prometheus.Gauge

	// Сбои вставки tracer-токенов (не влияют на снапшоты, но их видно)
	TracerInsertFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без регистратора метрики живут в локальном
	// реестре, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		CycleDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "replmon_cycle_duration_seconds",
			Help:    "Histogram of monitoring cycle durations.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),

		CollectErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "replmon_collect_errors_total",
			Help: "Total number of collection failures by category.",
		}, []string{"category"}),

		ActiveAlerts: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "replmon_active_alerts",
			Help: "Number of alerts currently in the ledger by severity.",
		}, []string{"severity"}),

		SnapshotStatus: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "replmon_snapshot_status",
			Help: "Aggregate status of the last snapshot (0=healthy, 1=warning, 2=critical).",
		}),

		Subscribers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "replmon_subscribers",
			Help: "Current number of snapshot subscribers.",
		}),

		TracerInsertFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "replmon_tracer_insert_failures_total",
			Help: "Total number of failed tracer token insertions.",
		}),
	}
}
