package ws

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"resource_wars/internal/events"
	"resource_wars/internal/game"
	"resource_wars/internal/logger"
	"resource_wars/internal/metrics"
	"resource_wars/internal/service"

	"github.com/google/uuid"
)

// комнаты моложе этого не считаются сиротами: запись в хранилище
// могла еще не доехать через очередь
const orphanGrace = 2 * time.Minute

// Hub - реестр комнат. Не больше одной комнаты на id
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	ctx       context.Context
	cfg       RoomConfig
	persister *service.Persister
	tickets   *service.TicketIssuer
	events    events.Publisher

	seedBase int64
	seedSeq  atomic.Int64

	closeMu  sync.RWMutex
	onClose  []func(gameID string)
	graceAge time.Duration
}

// NewHub - ctx ограничивает жизнь всех комнат
func NewHub(ctx context.Context, cfg RoomConfig, persister *service.Persister, tickets *service.TicketIssuer, publisher events.Publisher) *Hub {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Hub{
		rooms:     make(map[string]*Room),
		ctx:       ctx,
		cfg:       cfg,
		persister: persister,
		tickets:   tickets,
		events:    publisher,
		seedBase:  time.Now().UnixNano(),
		graceAge:  orphanGrace,
	}
}

func (h *Hub) seed() int64 {
	return h.seedBase + h.seedSeq.Add(1)
}

// OnClose регистрирует колбэк на закрытие комнаты (шлюз чистит привязки)
func (h *Hub) OnClose(fn func(gameID string)) {
	h.closeMu.Lock()
	h.onClose = append(h.onClose, fn)
	h.closeMu.Unlock()
}

// CreateParams параметры create-game
type CreateParams struct {
	GameName   string
	PlayerName string
	Wallet     string
	IsPrivate  bool
	MaxRounds  int
}

// CreateRoom собирает сессию с хостом, кладет в реестр и запускает актор.
// Запись в хранилище уходит асинхронно
func (h *Hub) CreateRoom(p CreateParams) (*Room, *game.Player, error) {
	playerName := strings.TrimSpace(p.PlayerName)
	if playerName == "" {
		return nil, nil, ErrBadRequest
	}
	name := strings.TrimSpace(p.GameName)
	if name == "" {
		name = playerName + "'s game"
	}
	maxRounds := p.MaxRounds
	if maxRounds <= 0 {
		maxRounds = h.cfg.MaxRounds
	}

	now := time.Now()
	s := game.NewSession(uuid.NewString(), name, p.IsPrivate, maxRounds, h.cfg.RoundDuration, now)
	hostID := p.Wallet
	if hostID == "" {
		hostID = uuid.NewString()
	}
	host := game.NewPlayer(hostID, playerName, p.Wallet, now)
	if err := s.AddPlayer(host); err != nil {
		return nil, nil, err
	}

	r := newRoom(s, h)

	h.mu.Lock()
	h.rooms[s.ID] = r
	h.mu.Unlock()

	h.persister.Create(s.Record())
	h.events.Publish(s.ID, events.GameCreated, s.Record())
	metrics.GamesCreated.Inc()
	metrics.ActiveGames.Inc()

	go r.Run(h.ctx)
	logger.Info("game created", "game_id", s.ID, "name", name, "private", p.IsPrivate, "max_rounds", s.MaxRounds)
	return r, host, nil
}

// Room возвращает комнату или nil
func (h *Hub) Room(id string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[id]
}

func (h *Hub) Rooms() []*Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r)
	}
	return out
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// remove вызывается актором при закрытии. Удаляет только ту же комнату
func (h *Hub) remove(id string, r *Room) {
	h.mu.Lock()
	cur, ok := h.rooms[id]
	if ok && cur == r {
		delete(h.rooms, id)
		metrics.ActiveGames.Dec()
	}
	h.mu.Unlock()

	if !ok || cur != r {
		return
	}
	h.closeMu.RLock()
	callbacks := append([]func(string){}, h.onClose...)
	h.closeMu.RUnlock()
	for _, fn := range callbacks {
		fn(id)
	}
}

// StartCleanup запускает периодическую сверку реестра с хранилищем
func (h *Hub) StartCleanup(interval, staleAfter time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-h.ctx.Done():
				return
			case <-ticker.C:
				if err := h.Sweep(h.ctx, staleAfter); err != nil {
					logger.Warn("cleanup sweep failed", "error", err)
				}
			}
		}
	}()
}

// Sweep чистит хранилище и закрывает комнаты, чьей записи там больше нет
func (h *Hub) Sweep(ctx context.Context, staleAfter time.Duration) error {
	store := h.persister.Store()

	stale, err := store.DeleteStaleOlderThan(ctx, staleAfter)
	if err != nil {
		return err
	}
	abandoned, err := store.DeleteAbandoned(ctx)
	if err != nil {
		return err
	}
	ids, err := store.ListActiveIDs(ctx)
	if err != nil {
		return err
	}
	active := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		active[id] = struct{}{}
	}

	now := time.Now()
	var orphans []*Room
	h.mu.RLock()
	for id, r := range h.rooms {
		if _, ok := active[id]; ok {
			continue
		}
		if now.Sub(r.createdAt) < h.graceAge {
			continue
		}
		orphans = append(orphans, r)
	}
	h.mu.RUnlock()

	for _, r := range orphans {
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := r.Close(closeCtx, "orphaned"); err != nil {
			logger.Warn("orphan close failed", "game_id", r.ID, "error", err)
		}
		cancel()
	}

	logger.Info("cleanup sweep done",
		"stale_deleted", stale,
		"abandoned_deleted", abandoned,
		"orphans_closed", len(orphans),
		"rooms", h.Count(),
	)
	return nil
}
