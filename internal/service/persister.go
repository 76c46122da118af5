package service

import (
	"context"
	"sync"
	"time"

	"resource_wars/internal/domain"
	"resource_wars/internal/logger"
	"resource_wars/internal/metrics"
)

// GameStore узкий контракт постоянного хранилища игр
type GameStore interface {
	Create(ctx context.Context, g *domain.GameRecord) error
	// Get возвращает nil, nil если игры нет
	Get(ctx context.Context, id string) (*domain.GameRecord, error)
	AddPlayer(ctx context.Context, id string, p domain.PlayerRecord) error
	RemovePlayer(ctx context.Context, id, playerID string) error
	SetStatus(ctx context.Context, id string, status domain.GameStatus) error
	SetHost(ctx context.Context, id, hostID string) error
	ListPublicOpen(ctx context.Context) ([]domain.GameRecord, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
	DeleteStaleOlderThan(ctx context.Context, age time.Duration) (int64, error)
	DeleteAbandoned(ctx context.Context) (int64, error)
}

const opTimeout = 10 * time.Second

type persistOp struct {
	name string
	fn   func(ctx context.Context) error
}

// Persister пишет в хранилище асинхронно. Операции одной игры выполняются
// строго по порядку, разные игры пишутся параллельно. Ошибки только в лог
type Persister struct {
	store GameStore

	mu     sync.Mutex
	queues map[string][]persistOp
}

func NewPersister(store GameStore) *Persister {
	return &Persister{
		store:  store,
		queues: make(map[string][]persistOp),
	}
}

// Store доступ на чтение (списки, зачистка)
func (p *Persister) Store() GameStore {
	return p.store
}

func (p *Persister) Create(g *domain.GameRecord) {
	p.enqueue(g.ID, "create", func(ctx context.Context) error {
		return p.store.Create(ctx, g)
	})
}

func (p *Persister) AddPlayer(gameID string, pl domain.PlayerRecord) {
	p.enqueue(gameID, "add_player", func(ctx context.Context) error {
		return p.store.AddPlayer(ctx, gameID, pl)
	})
}

func (p *Persister) RemovePlayer(gameID, playerID string) {
	p.enqueue(gameID, "remove_player", func(ctx context.Context) error {
		return p.store.RemovePlayer(ctx, gameID, playerID)
	})
}

func (p *Persister) SetStatus(gameID string, status domain.GameStatus) {
	p.enqueue(gameID, "set_status", func(ctx context.Context) error {
		return p.store.SetStatus(ctx, gameID, status)
	})
}

func (p *Persister) SetHost(gameID, hostID string) {
	p.enqueue(gameID, "set_host", func(ctx context.Context) error {
		return p.store.SetHost(ctx, gameID, hostID)
	})
}

// enqueue не блокирует: если у игры уже есть воркер, операция просто
// встает в хвост, иначе запускается новый воркер
func (p *Persister) enqueue(gameID, name string, fn func(ctx context.Context) error) {
	p.mu.Lock()
	q, running := p.queues[gameID]
	p.queues[gameID] = append(q, persistOp{name: name, fn: fn})
	if !running {
		go p.drain(gameID)
	}
	p.mu.Unlock()
}

func (p *Persister) drain(gameID string) {
	for {
		p.mu.Lock()
		q := p.queues[gameID]
		if len(q) == 0 {
			delete(p.queues, gameID)
			p.mu.Unlock()
			return
		}
		op := q[0]
		p.queues[gameID] = q[1:]
		p.mu.Unlock()

		p.run(gameID, op)
	}
}

func (p *Persister) run(gameID string, op persistOp) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := op.fn(ctx); err != nil {
		metrics.PersistenceErrors.WithLabelValues(op.name).Inc()
		logger.Error("persist failed", "op", op.name, "game_id", gameID, "error", err)
	}
}

// Pending число игр с незаписанными операциями
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues)
}

// Flush ждет пока все очереди опустеют
func (p *Persister) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for p.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
