package engine

import "github.com/xela07ax/replmon/internal/domain"

// Классификация метрик по порогам. Чистые функции без состояния.
//
// Сравнение строго больше: значение РОВНО на пороге еще не эскалируется.

// CPUWarningPercent — ортогональное правило производительности агента:
// загрузка CPU выше этой отметки дает Warning независимо от порогов
// задержки и бэклога.
const CPUWarningPercent = 90.0

// ClassifyLatency относит задержку доставки (секунды) к уровню серьезности.
func ClassifyLatency(seconds, warn, crit float64) domain.Severity {
	switch {
	case seconds > crit:
		return domain.SeverityCritical
	case seconds > warn:
		return domain.SeverityWarning
	default:
		return domain.SeverityNone
	}
}

// ClassifyBacklog относит очередь недоставленных команд к уровню серьезности.
func ClassifyBacklog(count, warn, crit int64) domain.Severity {
	switch {
	case count > crit:
		return domain.SeverityCritical
	case count > warn:
		return domain.SeverityWarning
	default:
		return domain.SeverityNone
	}
}

// ClassifyAgent — падение агента всегда Critical, пороги здесь не участвуют.
func ClassifyAgent(state domain.AgentRunState) domain.Severity {
	if state == domain.RunStateFailed {
		return domain.SeverityCritical
	}
	return domain.SeverityNone
}

// MaxSeverity возвращает большую из двух серьезностей.
func MaxSeverity(a, b domain.Severity) domain.Severity {
	if a > b {
		return a
	}
	return b
}
