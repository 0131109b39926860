package collector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/replmon/internal/domain"
)

// PGSource — источник метрик для наблюдаемого PostgreSQL-сервера.
// Читает состояние логической репликации из системных представлений;
// tracer-токены живут в служебной схеме replmon на самом паблишере
// (таймстемпы прохождения проставляет подписная сторона).
type PGSource struct {
	db   *sql.DB
	conn domain.Connection
}

// NewPGSource открывает пул к наблюдаемому серверу.
// sql.Open соединение не устанавливает, поэтому ошибки доступности
// проявятся на первой выборке — и будут изолированы коллектором.
func NewPGSource(conn domain.Connection) (*PGSource, error) {
	db, err := sql.Open("pgx", conn.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", conn.Name, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &PGSource{db: db, conn: conn}, nil
}

// NewPGSourceFactory — фабрика под подключения из хранилища топологии.
func NewPGSourceFactory() SourceFactory {
	return func(conn domain.Connection) (MetricsSource, error) {
		return NewPGSource(conn)
	}
}

// FetchAgentStatuses отдает фоновые процессы репликации как агентов.
// walsender — чтение журнала, logical replication worker — доставка,
// tablesync worker — начальная синхронизация (аналог снапшота).
func (s *PGSource) FetchAgentStatuses(ctx context.Context) ([]domain.AgentStatus, error) {
	const query = `
		SELECT pid, coalesce(application_name, ''), backend_type,
		       coalesce(state, ''), backend_start
		FROM pg_stat_activity
		WHERE backend_type IN ('walsender', 'logical replication launcher', 'logical replication worker')`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pg_stat_activity: %w", err)
	}
	defer rows.Close()

	var out []domain.AgentStatus
	for rows.Next() {
		var (
			pid         int
			appName     string
			backendType string
			state       string
			start       time.Time
		)
		if err := rows.Scan(&pid, &appName, &backendType, &state, &start); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}

		ag := domain.AgentStatus{
			Name:        fmt.Sprintf("%s[%d]", appName, pid),
			Kind:        backendKind(backendType),
			RunState:    backendRunState(state),
			LastStart:   &start,
			LastOutcome: domain.OutcomeSucceeded,
		}
		out = append(out, ag)
	}
	return out, rows.Err()
}

func backendKind(backendType string) domain.AgentKind {
	switch backendType {
	case "walsender":
		return domain.AgentLogReader
	case "logical replication worker":
		return domain.AgentDistribution
	default:
		return domain.AgentSnapshot
	}
}

func backendRunState(state string) domain.AgentRunState {
	switch state {
	case "active":
		return domain.RunStateRunning
	case "idle":
		return domain.RunStateRunning // Воркер жив, просто ждет данных
	case "":
		return domain.RunStateStopped
	default:
		return domain.RunStateRunning
	}
}

// FetchLatencyMetrics считает задержку и бэклог доставки на подписчика
// по pg_stat_replication. Бэклог оцениваем по расстоянию между текущим LSN
// и подтвержденным replay_lsn.
func (s *PGSource) FetchLatencyMetrics(ctx context.Context) ([]domain.LatencyMetric, error) {
	const query = `
		SELECT coalesce(r.application_name, ''),
		       coalesce(r.client_addr::text, 'local'),
		       coalesce(extract(epoch FROM r.replay_lag), 0)::float8,
		       coalesce(pg_wal_lsn_diff(pg_current_wal_lsn(), r.replay_lsn), 0)::bigint,
		       coalesce(slots.slot_name, '')
		FROM pg_stat_replication r
		LEFT JOIN pg_replication_slots slots ON slots.active_pid = r.pid`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pg_stat_replication: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var out []domain.LatencyMetric
	for rows.Next() {
		var (
			subscription string
			clientAddr   string
			lagSeconds   float64
			backlogBytes int64
			slotName     string
		)
		if err := rows.Scan(&subscription, &clientAddr, &lagSeconds, &backlogBytes, &slotName); err != nil {
			return nil, fmt.Errorf("scan latency row: %w", err)
		}

		m := domain.LatencyMetric{
			Publication:     slotName,
			Subscriber:      clientAddr,
			SubscriberDB:    subscription,
			LatencySeconds:  lagSeconds,
			PendingCommands: backlogBytes / avgCommandBytes,
			CollectedAt:     now,
		}
		if lagSeconds > 0 && m.PendingCommands > 0 {
			m.DeliveryRate = float64(m.PendingCommands) / lagSeconds
			m.EstimatedSecondsToDrain = lagSeconds
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Грубая оценка размера одной команды в WAL для пересчета байт в команды.
const avgCommandBytes = 256

// FetchTracerTokens возвращает последние зонды со служебной таблицы.
func (s *PGSource) FetchTracerTokens(ctx context.Context) ([]domain.TracerTokenResult, error) {
	const query = `
		SELECT id, publication, publisher_insert_time,
		       distributor_insert_time, subscriber_insert_time
		FROM replmon.tracer_tokens
		ORDER BY publisher_insert_time DESC
		LIMIT 20`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("tracer_tokens: %w", err)
	}
	defer rows.Close()

	var out []domain.TracerTokenResult
	for rows.Next() {
		var (
			tok             domain.TracerTokenResult
			distributorTime sql.NullTime
			subscriberTime  sql.NullTime
		)
		if err := rows.Scan(&tok.ID, &tok.Publication, &tok.PublisherInsertTime,
			&distributorTime, &subscriberTime); err != nil {
			return nil, fmt.Errorf("scan tracer row: %w", err)
		}
		if distributorTime.Valid {
			t := distributorTime.Time
			tok.DistributorInsertTime = &t
		}
		if subscriberTime.Valid {
			t := subscriberTime.Time
			tok.SubscriberInsertTime = &t
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

// FetchPublicationStats — информационная сводка по публикациям.
func (s *PGSource) FetchPublicationStats(ctx context.Context) ([]domain.PublicationStats, error) {
	const query = `
		SELECT p.pubname,
		       (SELECT count(*) FROM pg_publication_tables t WHERE t.pubname = p.pubname),
		       (SELECT count(*) FROM pg_stat_replication)
		FROM pg_publication p`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pg_publication: %w", err)
	}
	defer rows.Close()

	var out []domain.PublicationStats
	for rows.Next() {
		var st domain.PublicationStats
		if err := rows.Scan(&st.Name, &st.ArticleCount, &st.SubscriptionCount); err != nil {
			return nil, fmt.Errorf("scan publication row: %w", err)
		}
		st.AverageCommandSize = avgCommandBytes
		out = append(out, st)
	}
	return out, rows.Err()
}

// InsertTracerToken сажает зонд: строка реплицируется вместе с публикацией,
// подписная сторона проставит свой таймстемп, и следующая выборка покажет
// честный сквозной round-trip.
func (s *PGSource) InsertTracerToken(ctx context.Context, publication string) error {
	const query = `
		INSERT INTO replmon.tracer_tokens (id, publication, publisher_insert_time)
		VALUES ($1, $2, now())`

	if _, err := s.db.ExecContext(ctx, query, uuid.New().String(), publication); err != nil {
		return fmt.Errorf("insert tracer token into %s: %w", publication, err)
	}
	return nil
}

// Close закрывает пул подключений к наблюдаемому серверу.
func (s *PGSource) Close() error {
	return s.db.Close()
}
