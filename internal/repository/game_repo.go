package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resource_wars/internal/domain"
	"resource_wars/internal/game"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound запись игры отсутствует в хранилище
var ErrNotFound = errors.New("game record not found")

// GameRepository хранит записи игр в postgres, игроки лежат в jsonb
type GameRepository struct {
	db *pgxpool.Pool
}

func NewGameRepository(db *pgxpool.Pool) *GameRepository {
	return &GameRepository{db: db}
}

const gameColumns = `id, name, status, host_id, is_private, max_rounds, players, created_at, updated_at`

func (r *GameRepository) Create(ctx context.Context, g *domain.GameRecord) error {
	players, err := json.Marshal(nonNilPlayers(g.Players))
	if err != nil {
		return fmt.Errorf("marshal players: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO games (id, name, status, host_id, is_private, max_rounds, players, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $8)
		ON CONFLICT (id) DO NOTHING
	`, g.ID, g.Name, string(g.Status), g.HostID, g.IsPrivate, g.MaxRounds, string(players), g.CreatedAt.UTC())
	return err
}

// Get возвращает nil, nil если игры нет
func (r *GameRepository) Get(ctx context.Context, id string) (*domain.GameRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	g, err := scanGame(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return g, nil
}

// добавляет игрока в конец массива, повторный id игнорируется
func (r *GameRepository) AddPlayer(ctx context.Context, id string, p domain.PlayerRecord) error {
	one, err := json.Marshal([]domain.PlayerRecord{p})
	if err != nil {
		return fmt.Errorf("marshal player: %w", err)
	}
	ct, err := r.db.Exec(ctx, `
		UPDATE games
		SET players = CASE
				WHEN players @> jsonb_build_array(jsonb_build_object('id', $2::text)) THEN players
				ELSE players || $3::jsonb
			END,
			updated_at = NOW()
		WHERE id = $1
	`, id, p.ID, string(one))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GameRepository) RemovePlayer(ctx context.Context, id, playerID string) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE games
		SET players = COALESCE((
				SELECT jsonb_agg(p) FROM jsonb_array_elements(players) p
				WHERE p->>'id' <> $2
			), '[]'::jsonb),
			updated_at = NOW()
		WHERE id = $1
	`, id, playerID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// меняет статус только вперед; попытка откатить статус молча игнорируется
func (r *GameRepository) SetStatus(ctx context.Context, id string, status domain.GameStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	_, err := r.db.Exec(ctx, `
		UPDATE games SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, string(status), status.AllowedFrom())
	return err
}

func (r *GameRepository) SetHost(ctx context.Context, id, hostID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE games SET host_id = $2, updated_at = NOW()
		WHERE id = $1
	`, id, hostID)
	return err
}

// публичные игры в ожидании, где есть свободные места
func (r *GameRepository) ListPublicOpen(ctx context.Context) ([]domain.GameRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+gameColumns+`
		FROM games
		WHERE status = 'waiting' AND is_private = FALSE AND jsonb_array_length(players) < $1
		ORDER BY created_at DESC
		LIMIT 100
	`, game.MaxPlayers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.GameRecord, 0)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (r *GameRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM games WHERE status <> 'closed'`)
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

func (r *GameRepository) DeleteStaleOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	ct, err := r.db.Exec(ctx, `DELETE FROM games WHERE updated_at < $1`, time.Now().UTC().Add(-age))
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// удаляет закрытые игры и игры без игроков
func (r *GameRepository) DeleteAbandoned(ctx context.Context) (int64, error) {
	ct, err := r.db.Exec(ctx, `
		DELETE FROM games
		WHERE status = 'closed' OR jsonb_array_length(players) = 0
	`)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func scanGame(row pgx.Row) (*domain.GameRecord, error) {
	var g domain.GameRecord
	var status string
	var players []byte
	if err := row.Scan(
		&g.ID, &g.Name, &status, &g.HostID, &g.IsPrivate, &g.MaxRounds, &players, &g.CreatedAt, &g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	g.Status = domain.GameStatus(status)
	if len(players) > 0 {
		if err := json.Unmarshal(players, &g.Players); err != nil {
			return nil, fmt.Errorf("decode players of %s: %w", g.ID, err)
		}
	}
	return &g, nil
}

func nonNilPlayers(p []domain.PlayerRecord) []domain.PlayerRecord {
	if p == nil {
		return []domain.PlayerRecord{}
	}
	return p
}
