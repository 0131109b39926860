package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/replmon/internal/domain"
)

// TopologyRepo — хранилище топологии: список наблюдаемых подключений и
// операторы консоли. Монитор топологию только читает.
type TopologyRepo struct {
	db *sql.DB
}

func NewTopologyRepo(connString string, maxConns int32) (*TopologyRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open topology db: %w", err)
	}
	db.SetMaxOpenConns(int(maxConns))
	db.SetMaxIdleConns(int(maxConns))
	db.SetConnMaxLifetime(5 * time.Minute)
	return &TopologyRepo{db: db}, nil
}

// Ping проверяет доступность базы при старте
func (r *TopologyRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ListConnections возвращает все активные наблюдаемые подключения.
func (r *TopologyRepo) ListConnections(ctx context.Context) ([]domain.Connection, error) {
	const query = `
		SELECT id, name, dsn
		FROM monitored_connections
		WHERE enabled = true
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list connections: %w", err)
	}
	defer rows.Close()

	var out []domain.Connection
	for rows.Next() {
		var c domain.Connection
		if err := rows.Scan(&c.ID, &c.Name, &c.DSN); err != nil {
			return nil, fmt.Errorf("postgres: scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetUserByUsername — оператор консоли для выдачи токена.
func (r *TopologyRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	const query = `
		SELECT id, email, username, password_hash, role, scopes, created_at, updated_at
		FROM users WHERE username = $1`

	u := &domain.User{}
	var scopes []byte
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Role, &scopes, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	if err := unmarshalScopes(scopes, &u.Scopes); err != nil {
		return nil, fmt.Errorf("postgres: user scopes: %w", err)
	}
	return u, nil
}

// Close закрывает пул.
func (r *TopologyRepo) Close() error {
	return r.db.Close()
}
