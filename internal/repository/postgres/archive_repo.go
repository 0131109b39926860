package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/replmon/internal/archive"
)

// ArchiveRepo пишет журнал жизни алертов пакетами.
type ArchiveRepo struct {
	db *sql.DB
}

func NewArchiveRepo(connString string) (*ArchiveRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &ArchiveRepo{db: db}, nil
}

// WriteBatch — одна пакетная вставка на пачку событий.
func (r *ArchiveRepo) WriteBatch(ctx context.Context, events []archive.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице alert_events
	const numFields = 9
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9)

		source, _ := json.Marshal(e.Source)
		vals = append(vals,
			e.ID, e.AlertID, e.Action, e.Severity.String(),
			e.Category, e.Message, source, e.Timestamp, e.Actor,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO alert_events (id, alert_id, action, severity, category, message, source, timestamp, actor) VALUES %s",
		strings.TrimSuffix(placeholders.String(), ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

func (r *ArchiveRepo) Close() error {
	return r.db.Close()
}

// unmarshalScopes — scopes операторов лежат в jsonb.
func unmarshalScopes(raw []byte, dst *map[string]bool) error {
	if len(raw) == 0 {
		*dst = map[string]bool{}
		return nil
	}
	return json.Unmarshal(raw, dst)
}
