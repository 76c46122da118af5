package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"resource_wars/internal/domain"
	"resource_wars/internal/game"

	_ "modernc.org/sqlite"
)

// SQLiteGameRepository встраиваемое хранилище для запуска одним бинарником
type SQLiteGameRepository struct {
	sqlDB *sql.DB
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// OpenSQLite открывает файл базы и создает схему
func OpenSQLite(path string) (*SQLiteGameRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// одна запись за раз, иначе SQLITE_BUSY под нагрузкой
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(`
		CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'waiting',
			host_id TEXT NOT NULL DEFAULT '',
			is_private INTEGER NOT NULL DEFAULT 0,
			max_rounds INTEGER NOT NULL DEFAULT 5,
			players TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_games_status ON games(status);
	`); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteGameRepository{sqlDB: sqlDB}, nil
}

func (r *SQLiteGameRepository) Close() error {
	if r == nil || r.sqlDB == nil {
		return nil
	}
	return r.sqlDB.Close()
}

func (r *SQLiteGameRepository) Create(ctx context.Context, g *domain.GameRecord) error {
	players, err := json.Marshal(nonNilPlayers(g.Players))
	if err != nil {
		return fmt.Errorf("marshal players: %w", err)
	}
	created := g.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = r.sqlDB.ExecContext(ctx, `
		INSERT INTO games (id, name, status, host_id, is_private, max_rounds, players, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, g.ID, g.Name, string(g.Status), g.HostID, g.IsPrivate, g.MaxRounds, string(players), toMillis(created), toMillis(created))
	return err
}

func (r *SQLiteGameRepository) Get(ctx context.Context, id string) (*domain.GameRecord, error) {
	row := r.sqlDB.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`, id)
	g, err := scanSQLiteGame(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return g, nil
}

// правит список игроков внутри транзакции
func (r *SQLiteGameRepository) updatePlayers(ctx context.Context, id string, fn func([]domain.PlayerRecord) []domain.PlayerRecord) error {
	tx, err := r.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT players FROM games WHERE id = ?`, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	var players []domain.PlayerRecord
	if err := json.Unmarshal([]byte(raw), &players); err != nil {
		return fmt.Errorf("decode players of %s: %w", id, err)
	}
	updated, err := json.Marshal(nonNilPlayers(fn(players)))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE games SET players = ?, updated_at = ? WHERE id = ?`,
		string(updated), toMillis(time.Now()), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteGameRepository) AddPlayer(ctx context.Context, id string, p domain.PlayerRecord) error {
	return r.updatePlayers(ctx, id, func(players []domain.PlayerRecord) []domain.PlayerRecord {
		for _, existing := range players {
			if existing.ID == p.ID {
				return players
			}
		}
		return append(players, p)
	})
}

func (r *SQLiteGameRepository) RemovePlayer(ctx context.Context, id, playerID string) error {
	return r.updatePlayers(ctx, id, func(players []domain.PlayerRecord) []domain.PlayerRecord {
		kept := players[:0]
		for _, p := range players {
			if p.ID != playerID {
				kept = append(kept, p)
			}
		}
		return kept
	})
}

func (r *SQLiteGameRepository) SetStatus(ctx context.Context, id string, status domain.GameStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	allowed := status.AllowedFrom()
	args := []any{string(status), toMillis(time.Now()), id}
	for _, s := range allowed {
		args = append(args, s)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(allowed)), ",")
	_, err := r.sqlDB.ExecContext(ctx,
		`UPDATE games SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	return err
}

func (r *SQLiteGameRepository) SetHost(ctx context.Context, id, hostID string) error {
	_, err := r.sqlDB.ExecContext(ctx,
		`UPDATE games SET host_id = ?, updated_at = ? WHERE id = ?`, hostID, toMillis(time.Now()), id)
	return err
}

func (r *SQLiteGameRepository) ListPublicOpen(ctx context.Context) ([]domain.GameRecord, error) {
	rows, err := r.sqlDB.QueryContext(ctx, `
		SELECT `+gameColumns+`
		FROM games
		WHERE status = 'waiting' AND is_private = 0 AND json_array_length(players) < ?
		ORDER BY created_at DESC
		LIMIT 100
	`, game.MaxPlayers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.GameRecord, 0)
	for rows.Next() {
		g, err := scanSQLiteGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (r *SQLiteGameRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	rows, err := r.sqlDB.QueryContext(ctx, `SELECT id FROM games WHERE status <> 'closed' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteGameRepository) DeleteStaleOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := r.sqlDB.ExecContext(ctx, `DELETE FROM games WHERE updated_at < ?`, toMillis(time.Now().Add(-age)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteGameRepository) DeleteAbandoned(ctx context.Context) (int64, error) {
	res, err := r.sqlDB.ExecContext(ctx, `DELETE FROM games WHERE status = 'closed' OR json_array_length(players) = 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteGame(row sqlScanner) (*domain.GameRecord, error) {
	var g domain.GameRecord
	var status, players string
	var created, updated int64
	if err := row.Scan(&g.ID, &g.Name, &status, &g.HostID, &g.IsPrivate, &g.MaxRounds, &players, &created, &updated); err != nil {
		return nil, err
	}
	g.Status = domain.GameStatus(status)
	g.CreatedAt = fromMillis(created)
	g.UpdatedAt = fromMillis(updated)
	if err := json.Unmarshal([]byte(players), &g.Players); err != nil {
		return nil, fmt.Errorf("decode players of %s: %w", g.ID, err)
	}
	return &g, nil
}
