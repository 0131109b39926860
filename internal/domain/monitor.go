package domain

import "time"

// AgentKind — тип репликационного агента (фоновый воркер движка).
type AgentKind string

const (
	AgentSnapshot     AgentKind = "snapshot"     // Начальный слепок публикации
	AgentLogReader    AgentKind = "log_reader"   // Чтение журнала транзакций
	AgentDistribution AgentKind = "distribution" // Доставка команд подписчикам
)

// AgentRunState — текущее состояние агента по данным движка.
type AgentRunState string

const (
	RunStateRunning    AgentRunState = "running"
	RunStateStopped    AgentRunState = "stopped"
	RunStateFailed     AgentRunState = "failed"
	RunStateRetrying   AgentRunState = "retrying"
	RunStateCompleting AgentRunState = "completing"
)

// AgentOutcome — итог последнего запуска агента.
type AgentOutcome string

const (
	OutcomeSucceeded AgentOutcome = "succeeded"
	OutcomeFailed    AgentOutcome = "failed"
	OutcomeRetry     AgentOutcome = "retry"
	OutcomeCancelled AgentOutcome = "cancelled"
)

// AgentPerformance — счетчики производительности агента за последний запуск.
type AgentPerformance struct {
	CommandsPerSecond float64 `json:"commands_per_second"`
	AvgLatencySeconds float64 `json:"avg_latency_seconds"`
	MemoryMB          float64 `json:"memory_mb"`
	CPUPercent        float64 `json:"cpu_percent"`
}

// AgentStatus — снимок состояния одного агента на момент опроса.
// Каждый цикл коллектор выдает свежий список; записи никогда не мутируются.
type AgentStatus struct {
	Name         string           `json:"name"`
	Kind         AgentKind        `json:"kind"`
	RunState     AgentRunState    `json:"run_state"`
	LastStart    *time.Time       `json:"last_start,omitempty"`
	LastDuration float64          `json:"last_duration_seconds"`
	LastOutcome  AgentOutcome     `json:"last_outcome"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Performance  AgentPerformance `json:"performance"`
}

// LatencyPoint — одна точка тренда задержки.
type LatencyPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	LatencySeconds float64   `json:"latency_seconds"`
}

// LatencyMetric — задержка доставки для пары (публикация, подписчик).
// History — единственное межцикловое состояние, которое подшивается к свежей
// метрике каждый цикл; владеет им трекер истории, а не коллектор.
type LatencyMetric struct {
	Publication             string         `json:"publication"`
	Subscriber              string         `json:"subscriber"`
	SubscriberDB            string         `json:"subscriber_db"`
	LatencySeconds          float64        `json:"latency_seconds"`
	PendingCommands         int64          `json:"pending_commands"`
	EstimatedSecondsToDrain float64        `json:"estimated_seconds_to_drain"`
	DeliveryRate            float64        `json:"delivery_rate"`
	CollectedAt             time.Time      `json:"collected_at"`
	History                 []LatencyPoint `json:"history,omitempty"`
}

// TracerTokenResult — один round-trip зонд.
// Отсутствие DistributorInsertTime/SubscriberInsertTime означает, что токен
// еще не долетел до этой точки. Это штатное "N/A", а не ошибка.
type TracerTokenResult struct {
	ID                    string     `json:"id"`
	Publication           string     `json:"publication"`
	PublisherInsertTime   time.Time  `json:"publisher_insert_time"`
	DistributorInsertTime *time.Time `json:"distributor_insert_time,omitempty"`
	SubscriberInsertTime  *time.Time `json:"subscriber_insert_time,omitempty"`
	TotalLatencySeconds   float64    `json:"total_latency_seconds"`
}

// PublicationStats — информационная статистика публикации (без алертинга).
type PublicationStats struct {
	Name                   string  `json:"name"`
	SubscriptionCount      int     `json:"subscription_count"`
	ArticleCount           int     `json:"article_count"`
	TotalCommandsDelivered int64   `json:"total_commands_delivered"`
	AverageCommandSize     float64 `json:"average_command_size"`
	RetentionHours         int     `json:"retention_hours"`
	TransactionsPerSecond  float64 `json:"transactions_per_second"`
}

// Connection — ручка на наблюдаемый сервер. Владеет ей хранилище топологии,
// монитор её только читает.
type Connection struct {
	ID   string `json:"id"`
	Name string `json:"name"` // Человекочитаемое имя ("Publisher-EU")
	DSN  string `json:"-"`    // Строка подключения наружу не отдаем
}

// HealthStatus — агрегатный статус снапшота. Порядок строгий:
// Critical > Warning > Healthy.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

// AgentSummary — сводные счетчики агентов по всей топологии за цикл.
type AgentSummary struct {
	Running int `json:"running"`
	Stopped int `json:"stopped"`
	Error   int `json:"error"`
}

// HealthSnapshot — неизменяемый результат одного цикла мониторинга.
// Публикуется подписчикам ровно один раз за цикл.
type HealthSnapshot struct {
	Status           HealthStatus        `json:"status"`
	Alerts           []Alert             `json:"alerts"`
	LatencyMetrics   []LatencyMetric     `json:"latency_metrics"`
	Agents           []AgentStatus       `json:"agents"`
	AgentSummary     AgentSummary        `json:"agent_status_summary"`
	TracerTokens     []TracerTokenResult `json:"tracer_tokens"`
	PublicationStats []PublicationStats  `json:"publication_stats"`
	CollectedAt      time.Time           `json:"collected_at"`
}
