package engine

import (
	"sync"

	"github.com/xela07ax/replmon/internal/domain"
)

// SeriesKey — ключ серии тренда задержки.
type SeriesKey struct {
	Publication  string
	Subscriber   string
	SubscriberDB string
}

// HistoryTracker — ограниченные по длине временные ряды задержек для пар
// (публикация, подписчик, база). Строгий FIFO: при переполнении вылетает
// самая старая точка, без усреднения и компакции.
type HistoryTracker struct {
	mu     sync.RWMutex
	series map[SeriesKey][]domain.LatencyPoint
}

func NewHistoryTracker() *HistoryTracker {
	return &HistoryTracker{
		series: make(map[SeriesKey][]domain.LatencyPoint),
	}
}

// Append добавляет точку и подрезает серию до limit самых свежих.
func (t *HistoryTracker) Append(key SeriesKey, point domain.LatencyPoint, limit int) {
	if limit < 1 {
		limit = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := append(t.series[key], point)
	if len(s) > limit {
		// Перекладываем хвост в свежий слайс, чтобы не держать
		// вытесненные точки под капотом старого массива
		trimmed := make([]domain.LatencyPoint, limit)
		copy(trimmed, s[len(s)-limit:])
		s = trimmed
	}
	t.series[key] = s
}

// Get возвращает копию серии, от старых точек к новым.
// Неизвестный ключ — пустая серия, не ошибка.
func (t *HistoryTracker) Get(key SeriesKey) []domain.LatencyPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.series[key]
	if !ok {
		return nil
	}
	out := make([]domain.LatencyPoint, len(s))
	copy(out, s)
	return out
}
