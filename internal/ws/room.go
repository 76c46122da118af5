package ws

import (
	"context"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"time"

	"resource_wars/internal/domain"
	"resource_wars/internal/events"
	"resource_wars/internal/game"
	"resource_wars/internal/logger"
	"resource_wars/internal/metrics"
	"resource_wars/internal/service"

	"github.com/google/uuid"
)

const mailboxSize = 64

// RoomConfig длительности таймеров комнаты. В тестах - миллисекунды
type RoomConfig struct {
	RoundDuration     time.Duration
	MaxRounds         int
	TickInterval      time.Duration
	MarketInterval    time.Duration
	InactivityTimeout time.Duration
	RoundPause        time.Duration
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		RoundDuration:     3 * time.Minute,
		MaxRounds:         game.DefaultMaxRounds,
		TickInterval:      time.Second,
		MarketInterval:    5 * time.Second,
		InactivityTimeout: 20 * time.Minute,
		RoundPause:        10 * time.Second,
	}
}

// Room - актор одной сессии. Состояние сессии трогает только горутина Run,
// запросы и срабатывания таймеров приходят замыканиями в mailbox
type Room struct {
	ID        string
	createdAt time.Time

	cfg       RoomConfig
	session   *game.Session
	hub       *Hub
	persister *service.Persister
	tickets   *service.TicketIssuer
	events    events.Publisher
	rng       *rand.Rand
	log       *slog.Logger

	mailbox chan func()
	done    chan struct{}
	closed  bool

	// подписчики на рассылку, ключ - id соединения
	subscribers map[string]subscriber

	roundTicker  *time.Ticker
	marketTicker *time.Ticker

	inactivity    *time.Timer
	inactivityGen int
	pause         *time.Timer
}

func newRoom(s *game.Session, h *Hub) *Room {
	return &Room{
		ID:          s.ID,
		createdAt:   time.Now(),
		cfg:         h.cfg,
		session:     s,
		hub:         h,
		persister:   h.persister,
		tickets:     h.tickets,
		events:      h.events,
		rng:         rand.New(rand.NewSource(h.seed())),
		log:         logger.ForGame(s.ID),
		mailbox:     make(chan func(), mailboxSize),
		done:        make(chan struct{}),
		subscribers: make(map[string]subscriber),
	}
}

// Run - цикл актора. Выходит после закрытия комнаты или отмены ctx
func (r *Room) Run(ctx context.Context) {
	r.log.Info("room started", "name", r.session.Name)
	defer close(r.done)

	for {
		select {
		case fn := <-r.mailbox:
			fn()
		case <-tickerC(r.roundTicker):
			r.guard(r.onTick)
		case <-tickerC(r.marketTicker):
			r.guard(r.onMarketTick)
		case <-ctx.Done():
			r.stopTimers()
			r.log.Info("room stopped", "reason", "shutdown")
			return
		}
		if r.closed {
			r.log.Info("room stopped", "reason", "closed")
			return
		}
	}
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// Done закрывается когда актор завершился
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// exec ставит запрос в очередь актора и ждет результат
func (r *Room) exec(ctx context.Context, fn func(s *game.Session) error) error {
	res := make(chan error, 1)
	req := func() { res <- r.guard(fn) }

	select {
	case r.mailbox <- req:
	case <-r.done:
		return ErrGameNotFound
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-res:
		return err
	case <-r.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrGameNotFound
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post - для колбэков таймеров, ответ не нужен
func (r *Room) post(fn func(s *game.Session) error) {
	select {
	case r.mailbox <- func() { _ = r.guard(fn) }:
	case <-r.done:
	}
}

// guard ловит панику обработчика и откатывает сессию к снимку до вызова
func (r *Room) guard(fn func(s *game.Session) error) (err error) {
	backup := r.session.Clone()
	defer func() {
		if rec := recover(); rec != nil {
			r.session = backup
			r.log.Error("room handler panic", "panic", rec, "stack", string(debug.Stack()))
			err = ErrInternal
		}
	}()
	err = fn(r.session)
	r.syncHost(backup.HostID)
	return err
}

// смена хоста (обрыв, выход, возврат) уходит в хранилище
func (r *Room) syncHost(prev string) {
	s := r.session
	if s.HostID == prev || s.HostID == "" || s.Status == domain.GameStatusClosed {
		return
	}
	r.persister.SetHost(r.ID, s.HostID)
}

// ---- рассылка ----

type subscriber struct {
	client   *Client
	playerID string
}

func (r *Room) subscribe(c *Client, playerID string) {
	if c != nil {
		r.subscribers[c.ID] = subscriber{client: c, playerID: playerID}
	}
}

func (r *Room) unsubscribe(c *Client) {
	if c != nil {
		delete(r.subscribers, c.ID)
	}
}

// broadcast сериализует один раз и кладет всем подписчикам в порядке коммита
func (r *Room) broadcast(msg Message) {
	data, err := encode(msg)
	if err != nil {
		r.log.Error("broadcast marshal failed", "type", msg.Type, "error", err)
		return
	}
	metrics.Broadcasts.Inc()
	for id, sub := range r.subscribers {
		if !sub.client.enqueue(data) {
			r.log.Warn("subscriber send buffer full, message dropped", "conn_id", id, "type", msg.Type)
		}
	}
}

func (r *Room) broadcastState() {
	r.broadcast(Message{Type: MsgGameState, Payload: r.session})
}

func (r *Room) sendTo(c *Client, msg Message) {
	data, err := encode(msg)
	if err != nil {
		r.log.Error("marshal failed", "type", msg.Type, "error", err)
		return
	}
	c.enqueue(data)
}

// attach отвечает подключившемуся (game-created / game-joined с тикетом)
// и подписывает его на рассылку
func (r *Room) attach(c *Client, p *game.Player, reply string) {
	token, err := r.tickets.Issue(r.ID, p.ID)
	if err != nil {
		r.log.Error("ticket issue failed", "player_id", p.ID, "error", err)
	}
	if c != nil {
		r.sendTo(c, Message{Type: reply, Payload: joinedPayload{GameID: r.ID, PlayerID: p.ID, Token: token}})
		r.subscribe(c, p.ID)
	}
}

// ---- таймеры ----

func (r *Room) startPlayTimers() {
	r.stopPlayTimers()
	r.roundTicker = time.NewTicker(r.cfg.TickInterval)
	r.marketTicker = time.NewTicker(r.cfg.MarketInterval)
}

func (r *Room) stopPlayTimers() {
	if r.roundTicker != nil {
		r.roundTicker.Stop()
		r.roundTicker = nil
	}
	if r.marketTicker != nil {
		r.marketTicker.Stop()
		r.marketTicker = nil
	}
	if r.pause != nil {
		r.pause.Stop()
		r.pause = nil
	}
}

func (r *Room) stopTimers() {
	r.stopPlayTimers()
	if r.inactivity != nil {
		r.inactivity.Stop()
		r.inactivity = nil
	}
	r.inactivityGen++
}

// resetInactivity заменяет таймер целиком: старый останавливается,
// а если он уже успел сработать - его колбэк отбросит устаревшее поколение
func (r *Room) resetInactivity() {
	if r.inactivity != nil {
		r.inactivity.Stop()
	}
	r.inactivityGen++
	gen := r.inactivityGen
	r.inactivity = time.AfterFunc(r.cfg.InactivityTimeout, func() {
		r.post(func(*game.Session) error {
			if gen != r.inactivityGen || r.closed {
				return nil
			}
			r.closeRoom("inactivity")
			return nil
		})
	})
}

// активность продлевает жизнь только запущенной игре
func (r *Room) touch() {
	if r.inactivity != nil {
		r.resetInactivity()
	}
}

func (r *Room) onTick(s *game.Session) error {
	if s.Status != domain.GameStatusPlaying || !s.RoundInProgress {
		return nil
	}
	if !s.TickClock() {
		return nil
	}
	r.log.Debug("round clock expired", "round", s.CurrentRound)
	r.advance(false)
	return nil
}

func (r *Room) onMarketTick(s *game.Session) error {
	if s.Status != domain.GameStatusPlaying {
		return nil
	}
	s.DriftMarket(r.rng)
	r.broadcastState()
	return nil
}

// ---- переходы ----

// advance - архив, номер раунда, сброс часов и возможное завершение одним шагом.
// Явный next-round дополнительно открывает паузу перед стартом раунда
func (r *Room) advance(explicit bool) {
	s := r.session
	if s.AdvanceRound() {
		r.finish()
		return
	}
	round := s.CurrentRound
	r.events.Publish(r.ID, events.RoundAdvance, roundPayload{Round: round})

	if !explicit {
		r.broadcast(Message{Type: MsgRoundStarted, Payload: roundPayload{Round: round}})
		r.broadcastState()
		return
	}

	start := time.Now().Add(r.cfg.RoundPause)
	s.RoundInProgress = false
	s.NextRoundStartTime = &start
	r.broadcast(Message{Type: MsgNextRound, Payload: roundPayload{Round: round, Delay: r.cfg.RoundPause.Milliseconds()}})
	r.broadcastState()

	if r.pause != nil {
		r.pause.Stop()
	}
	r.pause = time.AfterFunc(r.cfg.RoundPause, func() {
		r.post(func(s *game.Session) error {
			// раунд мог смениться, пока таймер ждал
			if s.CurrentRound != round || s.Status != domain.GameStatusPlaying || s.RoundInProgress {
				return nil
			}
			s.RoundInProgress = true
			s.NextRoundStartTime = nil
			r.broadcast(Message{Type: MsgRoundStarted, Payload: roundPayload{Round: round}})
			r.broadcastState()
			return nil
		})
	})
}

func (r *Room) finish() {
	s := r.session
	if s.Status != domain.GameStatusFinished {
		s.Finish()
	}
	r.stopPlayTimers()
	r.persister.SetStatus(r.ID, domain.GameStatusFinished)

	payload := finishedPayload{Winner: s.Winner, WinnerID: s.WinnerID, FinalScores: s.FinalScores}
	r.events.Publish(r.ID, events.GameFinished, payload)
	r.log.Info("game finished", "winner", s.Winner, "rounds", s.MaxRounds)

	r.broadcast(Message{Type: MsgGameFinished, Payload: payload})
	r.broadcastState()
}

// closeRoom - терминальный переход: таймеры стоп, запись closed, удаление из реестра
func (r *Room) closeRoom(reason string) {
	if r.closed {
		return
	}
	r.closed = true
	r.stopTimers()

	r.session.Status = domain.GameStatusClosed
	r.session.TimerActive = false
	r.session.RoundInProgress = false
	r.persister.SetStatus(r.ID, domain.GameStatusClosed)
	r.events.Publish(r.ID, events.GameClosed, reasonPayload{Reason: reason})
	metrics.GamesClosed.WithLabelValues(reason).Inc()

	r.broadcast(Message{Type: MsgGameClosed, Payload: reasonPayload{Reason: reason}})
	r.subscribers = make(map[string]subscriber)
	r.hub.remove(r.ID, r)
	r.log.Info("room closed", "reason", reason)
}

// ---- операции ----

// Close закрывает комнату снаружи (зачистка реестра)
func (r *Room) Close(ctx context.Context, reason string) error {
	return r.exec(ctx, func(*game.Session) error {
		r.closeRoom(reason)
		return nil
	})
}

// Attach привязывает соединение создателя сразу после CreateRoom
func (r *Room) Attach(ctx context.Context, c *Client, playerID string) error {
	return r.exec(ctx, func(s *game.Session) error {
		p := s.Player(playerID)
		if p == nil {
			return game.ErrPlayerNotFound
		}
		r.attach(c, p, MsgGameCreated)
		r.broadcastState()
		return nil
	})
}

// JoinResult то, что шлюз запомнит о соединении
type JoinResult struct {
	PlayerID   string
	PlayerName string
	Wallet     string
	Rejoined   bool
}

// Join добавляет игрока. Кошелек, уже известный сессии, возвращает
// прежнего игрока вместо нового. Новые игроки - только пока игра ждет
func (r *Room) Join(ctx context.Context, c *Client, name, wallet string) (JoinResult, error) {
	var res JoinResult
	err := r.exec(ctx, func(s *game.Session) error {
		if p := s.PlayerByWallet(wallet); p != nil {
			r.rejoin(c, p)
			res = JoinResult{PlayerID: p.ID, PlayerName: p.Name, Wallet: p.WalletAddress, Rejoined: true}
			return nil
		}
		if s.Status != domain.GameStatusWaiting {
			return ErrGameInProgress
		}
		if name == "" {
			return ErrBadRequest
		}

		id := wallet
		if id == "" || s.Player(id) != nil {
			id = uuid.NewString()
		}
		p := game.NewPlayer(id, name, wallet, time.Now())
		if err := s.AddPlayer(p); err != nil {
			return err
		}
		r.persister.AddPlayer(r.ID, p.Record())
		r.events.Publish(r.ID, events.PlayerJoined, p.Record())
		r.log.Info("player joined", "player_id", p.ID, "players", len(s.Players))

		r.attach(c, p, MsgGameJoined)
		r.broadcast(Message{Type: MsgPlayerJoined, Payload: playerPayload{PlayerName: p.Name}})
		r.broadcastState()
		res = JoinResult{PlayerID: p.ID, PlayerName: p.Name, Wallet: p.WalletAddress}
		return nil
	})
	return res, err
}

// Resume возвращает игрока по проверенному тикету
func (r *Room) Resume(ctx context.Context, c *Client, playerID string) (JoinResult, error) {
	var res JoinResult
	err := r.exec(ctx, func(s *game.Session) error {
		p := s.Player(playerID)
		if p == nil {
			return game.ErrPlayerNotFound
		}
		if s.ExitedPlayers[p.ID] {
			return ErrPlayerExited
		}
		r.rejoin(c, p)
		res = JoinResult{PlayerID: p.ID, PlayerName: p.Name, Wallet: p.WalletAddress, Rejoined: true}
		return nil
	})
	return res, err
}

func (r *Room) rejoin(c *Client, p *game.Player) {
	r.session.MarkConnected(p.ID)
	r.touch()
	r.log.Info("player reconnected", "player_id", p.ID)
	r.attach(c, p, MsgGameJoined)
	r.broadcast(Message{Type: MsgPlayerJoined, Payload: playerPayload{PlayerName: p.Name}})
	r.broadcastState()
}

// State копия сессии для get-game-state
func (r *Room) State(ctx context.Context) (*game.Session, error) {
	var snap *game.Session
	err := r.exec(ctx, func(s *game.Session) error {
		snap = s.Clone()
		return nil
	})
	return snap, err
}

func (r *Room) Start(ctx context.Context, caller Caller) error {
	return r.exec(ctx, func(s *game.Session) error {
		if s.Status != domain.GameStatusWaiting {
			return ErrWrongStatus
		}
		ok, rule := isHost(s, caller)
		if !ok {
			return ErrNotHost
		}
		if len(s.Players) < game.MinPlayers {
			return ErrNotEnoughPlayers
		}
		if err := s.SetStatus(domain.GameStatusPlaying); err != nil {
			return err
		}
		s.TimerActive = true
		s.RoundInProgress = true
		s.TimeRemaining = game.TimeRemainingFrom(s.RoundDuration)

		r.startPlayTimers()
		r.resetInactivity()
		r.persister.SetStatus(r.ID, domain.GameStatusPlaying)
		r.events.Publish(r.ID, events.GameStarted, nil)
		r.log.Info("game started", "by", caller.PlayerID, "host_rule", rule, "players", len(s.Players))

		r.broadcast(Message{Type: MsgGameStarted})
		r.broadcastState()
		return nil
	})
}

// NextRound - явный переход от хоста. Повтор для уже пройденного раунда
// или во время паузы ничего не делает
func (r *Room) NextRound(ctx context.Context, caller Caller, round *int) error {
	return r.exec(ctx, func(s *game.Session) error {
		if s.Status != domain.GameStatusPlaying {
			return ErrWrongStatus
		}
		if ok, _ := isHost(s, caller); !ok {
			return ErrNotHost
		}
		if (round != nil && *round != s.CurrentRound) || !s.RoundInProgress {
			r.log.Debug("duplicate next-round ignored", "current", s.CurrentRound)
			return nil
		}
		r.touch()
		r.advance(true)
		return nil
	})
}

// Act применяет действие игрока. Отказ экономики возвращается вызывающему
func (r *Room) Act(ctx context.Context, caller Caller, a game.Action) error {
	return r.exec(ctx, func(s *game.Session) error {
		if s.Status != domain.GameStatusPlaying {
			return ErrWrongStatus
		}
		if !s.RoundInProgress {
			return ErrRoundPaused
		}
		if s.ExitedPlayers[caller.PlayerID] {
			return ErrPlayerExited
		}
		desc, err := s.ApplyAction(caller.PlayerID, a)
		if err != nil {
			metrics.PlayerActions.WithLabelValues(string(a.Type), "rejected").Inc()
			return err
		}
		metrics.PlayerActions.WithLabelValues(string(a.Type), "ok").Inc()
		r.touch()
		r.events.Publish(r.ID, events.PlayerAction, map[string]any{
			"playerId":    caller.PlayerID,
			"action":      a,
			"description": desc,
			"round":       s.CurrentRound,
		})
		r.broadcastState()
		return nil
	})
}

// Exit - добровольный выход. Если больше никого не осталось - комната закрывается
func (r *Room) Exit(ctx context.Context, c *Client, playerID string) error {
	return r.exec(ctx, func(s *game.Session) error {
		p := s.Player(playerID)
		if p == nil {
			return game.ErrPlayerNotFound
		}
		s.MarkExited(p.ID)
		r.touch()
		r.unsubscribe(c)

		if s.AllGone() {
			r.closeRoom("all players left")
			return nil
		}
		s.RemovePlayer(p.ID)
		r.persister.RemovePlayer(r.ID, p.ID)
		r.log.Info("player exited", "player_id", p.ID, "host_id", s.HostID)

		r.broadcast(Message{Type: MsgPlayerDisconnected, Payload: playerPayload{PlayerName: p.Name, Reason: "exited"}})
		r.broadcastState()
		return nil
	})
}

// Disconnect - обрыв соединения, игрок остается в сессии
func (r *Room) Disconnect(ctx context.Context, c *Client, playerID string) error {
	return r.exec(ctx, func(s *game.Session) error {
		r.unsubscribe(c)
		p := s.Player(playerID)
		if p == nil || !p.Connected {
			return nil
		}
		// у игрока может быть другое живое соединение
		for _, sub := range r.subscribers {
			if sub.playerID == playerID {
				return nil
			}
		}
		wasHost := s.MarkDisconnected(p.ID)
		r.log.Info("player disconnected", "player_id", p.ID, "was_host", wasHost, "host_id", s.HostID)

		r.broadcast(Message{Type: MsgPlayerDisconnected, Payload: playerPayload{PlayerName: p.Name, Reason: "disconnected"}})
		r.broadcastState()
		return nil
	})
}
