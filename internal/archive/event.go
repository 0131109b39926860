package archive

import (
	"time"

	"github.com/xela07ax/replmon/internal/domain"
)

// AlertEvent — одна запись журнала жизни алертов.
// Это append-only наблюдаемость, а не состояние монитора: после рестарта
// ничего отсюда не перечитывается.
type AlertEvent struct {
	ID        string             `json:"id"` // UUID события
	AlertID   string             `json:"alert_id"`
	Action    string             `json:"action"` // "created", "cleared", "expired"
	Severity  domain.Severity    `json:"severity"`
	Category  string             `json:"category"`
	Message   string             `json:"message"`
	Source    domain.AlertSource `json:"source"`
	Timestamp time.Time          `json:"timestamp"`
	Actor     string             `json:"actor,omitempty"` // user_id для "cleared"
}

const (
	ActionCreated = "created"
	ActionCleared = "cleared"
	ActionExpired = "expired"
)
