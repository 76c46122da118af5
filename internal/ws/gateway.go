package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"resource_wars/internal/domain"
	"resource_wars/internal/game"
	"resource_wars/internal/logger"
	"resource_wars/internal/metrics"
	"resource_wars/internal/service"
)

const requestTimeout = 5 * time.Second

// ActionLimiter ограничивает частоту player-action на соединение
type ActionLimiter interface {
	Allow(ctx context.Context, key string) bool
}

type binding struct {
	GameID     string
	PlayerID   string
	PlayerName string
	Wallet     string
}

func (b binding) caller() Caller {
	return Caller{PlayerID: b.PlayerID, Wallet: b.Wallet}
}

// Gateway разбирает входящие сообщения и направляет их в нужную комнату
type Gateway struct {
	hub     *Hub
	store   service.GameStore
	tickets *service.TicketIssuer
	limiter ActionLimiter

	mu       sync.RWMutex
	bindings map[string]binding
}

func NewGateway(hub *Hub, store service.GameStore, tickets *service.TicketIssuer, limiter ActionLimiter) *Gateway {
	g := &Gateway{
		hub:      hub,
		store:    store,
		tickets:  tickets,
		limiter:  limiter,
		bindings: make(map[string]binding),
	}
	hub.OnClose(g.dropGame)
	return g
}

func (g *Gateway) bind(connID string, b binding) {
	g.mu.Lock()
	g.bindings[connID] = b
	g.mu.Unlock()
}

func (g *Gateway) unbind(connID string) {
	g.mu.Lock()
	delete(g.bindings, connID)
	g.mu.Unlock()
}

func (g *Gateway) lookup(connID string) (binding, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b, ok := g.bindings[connID]
	return b, ok
}

// dropGame снимает привязки закрытой комнаты
func (g *Gateway) dropGame(gameID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, b := range g.bindings {
		if b.GameID == gameID {
			delete(g.bindings, id)
		}
	}
}

// Bindings число привязанных соединений
func (g *Gateway) Bindings() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.bindings)
}

func (g *Gateway) reply(c *Client, msg Message) {
	data, err := encode(msg)
	if err != nil {
		logger.Error("marshal failed", "type", msg.Type, "error", err)
		return
	}
	c.enqueue(data)
}

func (g *Gateway) replyError(c *Client, err error) {
	g.reply(c, errorMessage(err))
}

// Dispatch обрабатывает одно сообщение клиента
func (g *Gateway) Dispatch(ctx context.Context, c *Client, raw []byte) {
	log := logger.WithContext(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("dispatch panic", "panic", rec)
			g.replyError(c, ErrInternal)
		}
	}()

	var in inboundMessage
	if err := json.Unmarshal(raw, &in); err != nil || in.Type == "" {
		g.replyError(c, ErrBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var err error
	switch in.Type {
	case MsgGetPublicGames:
		err = g.handlePublicGames(ctx, c)
	case MsgCreateGame:
		err = g.handleCreate(ctx, c, in.Payload)
	case MsgJoinGame:
		err = g.handleJoin(ctx, c, in.Payload)
	case MsgResumeGame:
		err = g.handleResume(ctx, c, in.Payload)
	case MsgGetGameState:
		err = g.handleGameState(ctx, c, in.Payload)
	case MsgStartGame:
		err = g.handleStart(ctx, c)
	case MsgExitGame:
		err = g.handleExit(ctx, c, in.Payload)
	case MsgNextRound:
		err = g.handleNextRound(ctx, c, in.Payload)
	case MsgPlayerAction:
		err = g.handlePlayerAction(ctx, c, in.Payload)
	default:
		err = ErrBadRequest
	}

	if err != nil {
		log.Debug("intent rejected", "type", in.Type, "error", err)
		g.replyError(c, publicError(err))
	}
}

// publicError скрывает инфраструктурные детали от игрока
func publicError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrInternal
	}
	return err
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return ErrBadRequest
	}
	return nil
}

// текущая комната соединения
func (g *Gateway) boundRoom(c *Client) (*Room, binding, error) {
	b, ok := g.lookup(c.ID)
	if !ok {
		return nil, b, ErrNotInGame
	}
	r := g.hub.Room(b.GameID)
	if r == nil {
		g.unbind(c.ID)
		return nil, b, ErrGameNotFound
	}
	return r, b, nil
}

// переход в другую игру отписывает от прежней
func (g *Gateway) leavePrevious(ctx context.Context, c *Client, nextGameID string) {
	b, ok := g.lookup(c.ID)
	if !ok || b.GameID == nextGameID {
		return
	}
	g.unbind(c.ID)
	if r := g.hub.Room(b.GameID); r != nil {
		_ = r.Disconnect(ctx, c, b.PlayerID)
	}
}

func (g *Gateway) handlePublicGames(ctx context.Context, c *Client) error {
	games, err := g.store.ListPublicOpen(ctx)
	if err != nil {
		logger.Error("list public games failed", "error", err)
		return ErrInternal
	}
	g.reply(c, Message{Type: MsgPublicGamesList, Payload: PublicGames(games)})
	return nil
}

// PublicGameView - строка публичного списка
type PublicGameView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	HostID      string    `json:"hostId"`
	PlayerCount int       `json:"playerCount"`
	MaxPlayers  int       `json:"maxPlayers"`
	MaxRounds   int       `json:"maxRounds"`
	CreatedAt   time.Time `json:"createdAt"`
}

func PublicGames(records []domain.GameRecord) []PublicGameView {
	out := make([]PublicGameView, 0, len(records))
	for _, r := range records {
		out = append(out, PublicGameView{
			ID:          r.ID,
			Name:        r.Name,
			HostID:      r.HostID,
			PlayerCount: r.PlayerCount(),
			MaxPlayers:  game.MaxPlayers,
			MaxRounds:   r.MaxRounds,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out
}

func (g *Gateway) handleCreate(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p createGamePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	g.leavePrevious(ctx, c, "")

	room, host, err := g.hub.CreateRoom(CreateParams{
		GameName:   p.GameName,
		PlayerName: p.PlayerName,
		Wallet:     strings.TrimSpace(p.WalletAddress),
		IsPrivate:  p.IsPrivate,
		MaxRounds:  p.MaxRounds,
	})
	if err != nil {
		return err
	}
	g.bind(c.ID, binding{GameID: room.ID, PlayerID: host.ID, PlayerName: host.Name, Wallet: host.WalletAddress})
	if err := room.Attach(ctx, c, host.ID); err != nil {
		g.unbind(c.ID)
		return err
	}
	return nil
}

func (g *Gateway) handleJoin(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p joinGamePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	name := strings.TrimSpace(p.PlayerName)
	wallet := strings.TrimSpace(p.WalletAddress)
	if p.GameID == "" || (name == "" && wallet == "") {
		return ErrBadRequest
	}
	room := g.hub.Room(p.GameID)
	if room == nil {
		return ErrGameNotFound
	}
	if b, ok := g.lookup(c.ID); ok && b.GameID == p.GameID {
		return game.ErrPlayerExists
	}
	g.leavePrevious(ctx, c, p.GameID)

	res, err := room.Join(ctx, c, name, wallet)
	if err != nil {
		return err
	}
	g.bind(c.ID, binding{GameID: room.ID, PlayerID: res.PlayerID, PlayerName: res.PlayerName, Wallet: res.Wallet})
	return nil
}

func (g *Gateway) handleResume(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p resumeGamePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	claims, err := g.tickets.Parse(p.Token)
	if err != nil {
		return err
	}
	room := g.hub.Room(claims.GameID)
	if room == nil {
		return ErrGameNotFound
	}
	g.leavePrevious(ctx, c, claims.GameID)

	res, err := room.Resume(ctx, c, claims.PlayerID)
	if err != nil {
		return err
	}
	g.bind(c.ID, binding{GameID: room.ID, PlayerID: res.PlayerID, PlayerName: res.PlayerName, Wallet: res.Wallet})
	return nil
}

// состояние берется только из реестра: закрытая игра - not found
func (g *Gateway) handleGameState(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p gameIDPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	gameID := p.GameID
	if gameID == "" {
		if b, ok := g.lookup(c.ID); ok {
			gameID = b.GameID
		}
	}
	room := g.hub.Room(gameID)
	if room == nil {
		return ErrGameNotFound
	}
	snap, err := room.State(ctx)
	if err != nil {
		return err
	}
	g.reply(c, Message{Type: MsgGameState, Payload: snap})
	return nil
}

func (g *Gateway) handleStart(ctx context.Context, c *Client) error {
	room, b, err := g.boundRoom(c)
	if err != nil {
		return err
	}
	return room.Start(ctx, b.caller())
}

func (g *Gateway) handleExit(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p exitGamePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	room, b, err := g.boundRoom(c)
	if err != nil {
		return err
	}
	if (p.GameID != "" && p.GameID != b.GameID) || (p.PlayerID != "" && p.PlayerID != b.PlayerID) {
		return ErrNotInGame
	}
	// привязка снимается только после успешного выхода
	if err := room.Exit(ctx, c, b.PlayerID); err != nil {
		return err
	}
	g.unbind(c.ID)
	return nil
}

func (g *Gateway) handleNextRound(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p nextRoundPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	room, b, err := g.boundRoom(c)
	if err != nil {
		return err
	}
	return room.NextRound(ctx, b.caller(), p.Round)
}

func (g *Gateway) handlePlayerAction(ctx context.Context, c *Client, raw json.RawMessage) error {
	var a game.Action
	if err := decode(raw, &a); err != nil {
		return err
	}
	room, b, err := g.boundRoom(c)
	if err != nil {
		return err
	}
	if g.limiter != nil && !g.limiter.Allow(ctx, "action:"+c.ID) {
		metrics.RateLimited.WithLabelValues("action").Inc()
		return ErrRateLimited
	}
	return room.Act(ctx, b.caller(), a)
}

// Disconnected вызывается при закрытии соединения
func (g *Gateway) Disconnected(ctx context.Context, c *Client) {
	b, ok := g.lookup(c.ID)
	if !ok {
		return
	}
	g.unbind(c.ID)
	room := g.hub.Room(b.GameID)
	if room == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := room.Disconnect(ctx, c, b.PlayerID); err != nil && !errors.Is(err, ErrGameNotFound) {
		logger.WithContext(ctx).Warn("disconnect handling failed", "game_id", b.GameID, "error", err)
	}
}
