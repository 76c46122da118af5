package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"resource_wars/internal/domain"
	"resource_wars/internal/game"
)

// MemoryGameRepository хранилище в памяти процесса (dev, тесты)
type MemoryGameRepository struct {
	mu    sync.RWMutex
	games map[string]*domain.GameRecord
	now   func() time.Time
}

func NewMemoryGameRepository() *MemoryGameRepository {
	return &MemoryGameRepository{
		games: make(map[string]*domain.GameRecord),
		now:   time.Now,
	}
}

// WithClock подменяет часы (для тестов зачистки)
func (r *MemoryGameRepository) WithClock(now func() time.Time) *MemoryGameRepository {
	r.now = now
	return r
}

func (r *MemoryGameRepository) Create(_ context.Context, g *domain.GameRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.games[g.ID]; ok {
		return nil
	}
	cp := copyRecord(g)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	r.games[g.ID] = cp
	return nil
}

func (r *MemoryGameRepository) Get(_ context.Context, id string) (*domain.GameRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.games[id]
	if !ok {
		return nil, nil
	}
	return copyRecord(g), nil
}

func (r *MemoryGameRepository) AddPlayer(_ context.Context, id string, p domain.PlayerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id]
	if !ok {
		return ErrNotFound
	}
	for _, existing := range g.Players {
		if existing.ID == p.ID {
			return nil
		}
	}
	g.Players = append(g.Players, p)
	g.UpdatedAt = r.now()
	return nil
}

func (r *MemoryGameRepository) RemovePlayer(_ context.Context, id, playerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id]
	if !ok {
		return ErrNotFound
	}
	kept := g.Players[:0]
	for _, p := range g.Players {
		if p.ID != playerID {
			kept = append(kept, p)
		}
	}
	g.Players = kept
	g.UpdatedAt = r.now()
	return nil
}

func (r *MemoryGameRepository) SetStatus(_ context.Context, id string, status domain.GameStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id]
	if !ok {
		return nil
	}
	if g.Status.CanTransitionTo(status) {
		g.Status = status
		g.UpdatedAt = r.now()
	}
	return nil
}

func (r *MemoryGameRepository) SetHost(_ context.Context, id, hostID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.games[id]; ok {
		g.HostID = hostID
		g.UpdatedAt = r.now()
	}
	return nil
}

func (r *MemoryGameRepository) ListPublicOpen(_ context.Context) ([]domain.GameRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.GameRecord, 0)
	for _, g := range r.games {
		if g.Status == domain.GameStatusWaiting && !g.IsPrivate && g.PlayerCount() < game.MaxPlayers {
			out = append(out, *copyRecord(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryGameRepository) ListActiveIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.games))
	for id, g := range r.games {
		if g.Status != domain.GameStatusClosed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryGameRepository) DeleteStaleOlderThan(_ context.Context, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-age)
	var n int64
	for id, g := range r.games {
		if g.UpdatedAt.Before(cutoff) {
			delete(r.games, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryGameRepository) DeleteAbandoned(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, g := range r.games {
		if g.Status == domain.GameStatusClosed || g.PlayerCount() == 0 {
			delete(r.games, id)
			n++
		}
	}
	return n, nil
}

func copyRecord(g *domain.GameRecord) *domain.GameRecord {
	cp := *g
	cp.Players = append([]domain.PlayerRecord(nil), g.Players...)
	return &cp
}
