package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/replmon/internal/domain"
	"go.uber.org/zap"
)

// AlertLedger — дедуплицирующий, ограниченный по времени реестр активных
// алертов. Владеет идентичностью алерта (uuid) и его устареванием.
//
// Идемпотентность: одно и то же нездоровое условие, переобнаруженное на
// каждом цикле, дает РОВНО одну запись — повторный Reconcile с тем же
// identity key не плодит дубликат и не сбрасывает CreatedAt.
type AlertLedger struct {
	mu    sync.RWMutex
	byKey map[domain.AlertKey]domain.Alert

	logger *zap.Logger

	// Хук "родился новый алерт". Вызывается один раз в момент вставки,
	// а не на каждом цикле, пока условие живо.
	onNew func(domain.Alert)

	// Хук "алерт устарел": журнал жизненного цикла видит и эту развязку
	onExpired func(domain.Alert)

	// Подменяемые часы для тестов устаревания
	now func() time.Time
}

func NewAlertLedger(logger *zap.Logger) *AlertLedger {
	return &AlertLedger{
		byKey:  make(map[domain.AlertKey]domain.Alert),
		logger: logger.Named("alert-ledger"),
		now:    time.Now,
	}
}

// OnNewAlert регистрирует хук немедленного оповещения о свежем алерте.
func (l *AlertLedger) OnNewAlert(fn func(domain.Alert)) {
	l.onNew = fn
}

// OnExpiredAlert регистрирует хук на устаревание алерта.
func (l *AlertLedger) OnExpiredAlert(fn func(domain.Alert)) {
	l.onExpired = fn
}

// Reconcile сверяет кандидата с реестром по identity key.
// Нет записи — вставляем со свежим id и CreatedAt. Есть — кандидат
// отбрасывается, возвращается уже существующий алерт.
func (l *AlertLedger) Reconcile(candidate domain.Alert) (domain.Alert, bool) {
	key := candidate.IdentityKey()

	l.mu.Lock()
	if existing, ok := l.byKey[key]; ok {
		l.mu.Unlock()
		return existing, false
	}

	candidate.ID = uuid.New().String()
	candidate.CreatedAt = l.now()
	l.byKey[key] = candidate
	l.mu.Unlock()

	l.logger.Info("alert created",
		zap.String("id", candidate.ID),
		zap.String("severity", candidate.Severity.String()),
		zap.String("category", string(candidate.Category)),
		zap.String("message", candidate.Message))

	if l.onNew != nil {
		l.onNew(candidate)
	}
	return candidate, true
}

// Expire убирает алерты старше окна ретеншна. Вызывается в начале каждого
// цикла, ДО реконсиляции новых кандидатов.
func (l *AlertLedger) Expire(retention time.Duration) int {
	cutoff := l.now().Add(-retention)

	l.mu.Lock()
	var removed []domain.Alert
	for key, a := range l.byKey {
		if a.CreatedAt.Before(cutoff) {
			delete(l.byKey, key)
			removed = append(removed, a)
		}
	}
	l.mu.Unlock()

	if len(removed) > 0 {
		l.logger.Debug("alerts expired", zap.Int("count", len(removed)))
	}
	if l.onExpired != nil {
		for _, a := range removed {
			l.onExpired(a)
		}
	}
	return len(removed)
}

// Clear — явное снятие алерта оператором. Отсутствующий id — no-op, не ошибка.
// Снятие НЕ глушит проверку: если условие живо, следующий цикл создаст новый
// алерт с новым id по тому же ключу. Clear подтверждает момент времени,
// а не отключает контроль.
func (l *AlertLedger) Clear(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, a := range l.byKey {
		if a.ID == id {
			delete(l.byKey, key)
			l.logger.Info("alert cleared", zap.String("id", id))
			return true
		}
	}
	return false
}

// SnapshotAll возвращает текущий набор для включения в HealthSnapshot,
// стабильно упорядоченный: сначала старшие по серьезности, внутри — старые.
func (l *AlertLedger) SnapshotAll() []domain.Alert {
	l.mu.RLock()
	out := make([]domain.Alert, 0, len(l.byKey))
	for _, a := range l.byKey {
		out = append(out, a)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MaxSeverity — максимальная серьезность по всему реестру.
func (l *AlertLedger) MaxSeverity() domain.Severity {
	l.mu.RLock()
	defer l.mu.RUnlock()

	max := domain.SeverityNone
	for _, a := range l.byKey {
		if a.Severity > max {
			max = a.Severity
		}
	}
	return max
}
