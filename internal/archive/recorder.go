package archive

/*
Файл recorder.go реализует журнал жизненного цикла алертов (Alert Trail).

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят через неблокирующий канал, поэтому
  задержки записи в БД не влияют на длительность цикла мониторинга.
- Batching & Efficiency: накопление событий в памяти и пакетная запись
  (Bulk Insert) в PostgreSQL по таймеру или при достижении лимита.
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер вычитывается
  полностью; завершение воркера происходит исключительно через закрытие
  входного канала, финальный flush гарантирован.
- Reliability: сбой БД изолирован в воркере и не трогает монитор.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []AlertEvent) error
}

type Recorder struct {
	ch     chan AlertEvent
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Log после Stop
	isClosed int32
}

func NewRecorder(repo StorageInterface, logger *zap.Logger) *Recorder {
	return &Recorder{
		ch:     make(chan AlertEvent, 1000),
		repo:   repo,
		logger: logger.With(zap.String("mod", "archive")),
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (r *Recorder) Stop() {
	atomic.StoreInt32(&r.isClosed, 1)

	// Даем крошечную паузу, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	r.logger.Info("stopping archive: closing channel and flushing buffer...")
	close(r.ch)
	r.wg.Wait()
	r.logger.Info("archive stopped gracefully")
}

func (r *Recorder) Log(event AlertEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&r.isClosed) == 1 {
		r.logger.Warn("alert event dropped: archive is stopping", zap.String("alert_id", event.AlertID))
		return
	}

	// Load Shedding: переполненный буфер не должен тормозить цикл
	select {
	case r.ch <- event:
	default:
		r.logger.Error("archive_buffer_overflow",
			zap.String("alert_id", event.AlertID),
			zap.String("action", event.Action))
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]AlertEvent, 0, 100)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к этому моменту может быть закрыт
			if err := r.repo.WriteBatch(context.Background(), batch); err != nil {
				r.logger.Error("archive flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-r.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный сброс
				flush()
				r.logger.Info("archive worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
