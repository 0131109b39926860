package domain

// CollectResult — нормализованный выход коллектора по одному подключению.
// Категории независимы: сбой одной отдается пустым списком и не валит
// остальные.
type CollectResult struct {
	Agents           []AgentStatus
	LatencyMetrics   []LatencyMetric
	TracerTokens     []TracerTokenResult
	PublicationStats []PublicationStats
}
