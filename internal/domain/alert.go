package domain

import "time"

// Severity — упорядоченная шкала серьезности: None < Warning < Critical.
// Числовой тип, чтобы агрегация "максимум по циклу" была простым сравнением.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// MarshalText — в JSON серьезность уходит строкой, а не числом.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "warning":
		*s = SeverityWarning
	case "critical":
		*s = SeverityCritical
	default:
		*s = SeverityNone
	}
	return nil
}

// AlertCategory — классификация причины алерта.
type AlertCategory string

const (
	CategoryLatency       AlertCategory = "latency"
	CategoryPerformance   AlertCategory = "performance"
	CategoryError         AlertCategory = "error"
	CategoryConfiguration AlertCategory = "configuration"
)

// AlertSource — откуда пришел сигнал. Вместе с серьезностью образует
// identity key алерта: два алерта с одинаковым кортежем
// (severity, publication, subscriber, subscriber_db, agent) — это ОДИН алерт.
type AlertSource struct {
	Publication  string `json:"publication,omitempty"`
	Subscriber   string `json:"subscriber,omitempty"`
	SubscriberDB string `json:"subscriber_db,omitempty"`
	Agent        string `json:"agent,omitempty"`
}

// Alert — запись в леджере активных алертов.
// Создается агрегатором при пересечении порога или падении агента; удаляется
// либо явным действием оператора, либо по возрасту. Больше не мутируется.
type Alert struct {
	ID                string        `json:"id"` // UUID
	Severity          Severity      `json:"severity"`
	Message           string        `json:"message"`
	CreatedAt         time.Time     `json:"created_at"`
	Source            AlertSource   `json:"source"`
	Category          AlertCategory `json:"category"`
	RecommendedAction string        `json:"recommended_action,omitempty"`
}

// IdentityKey возвращает ключ дедупликации. Повторное обнаружение того же
// условия не должно ни плодить дубликаты, ни сбрасывать CreatedAt.
func (a Alert) IdentityKey() AlertKey {
	return AlertKey{
		Severity:     a.Severity,
		Publication:  a.Source.Publication,
		Subscriber:   a.Source.Subscriber,
		SubscriberDB: a.Source.SubscriberDB,
		Agent:        a.Source.Agent,
	}
}

// AlertKey — сравнимый ключ идентичности (пригоден как ключ map).
type AlertKey struct {
	Severity     Severity
	Publication  string
	Subscriber   string
	SubscriberDB string
	Agent        string
}
