package game

import (
	"fmt"
	"math/rand"
	"time"

	"resource_wars/internal/domain"
)

// TimeRemaining - обратный отсчет раунда в виде часов/минут/секунд
type TimeRemaining struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

func TimeRemainingFrom(d time.Duration) TimeRemaining {
	total := int(d / time.Second)
	if total < 0 {
		total = 0
	}
	return TimeRemaining{
		Hours:   total / 3600,
		Minutes: total % 3600 / 60,
		Seconds: total % 60,
	}
}

func (t TimeRemaining) Duration() time.Duration {
	return time.Duration(t.Hours*3600+t.Minutes*60+t.Seconds) * time.Second
}

func (t TimeRemaining) IsZero() bool {
	return t.Duration() == 0
}

// Session - агрегат одной игры. Меняется только оркестратором комнаты,
// все поля простые значения, чтобы снапшот сериализовался целиком
type Session struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	IsPrivate          bool              `json:"isPrivate"`
	Status             domain.GameStatus `json:"status"`
	HostID             string            `json:"hostId"`
	Players            []*Player         `json:"players"`
	Market             Market            `json:"market"`
	CurrentRound       int               `json:"currentRound"`
	MaxRounds          int               `json:"maxRounds"`
	RecentActions      []string          `json:"recentActions"`
	ActionHistory      map[int][]string  `json:"actionHistory"`
	TimeRemaining      TimeRemaining     `json:"timeRemaining"`
	RoundDuration      time.Duration     `json:"-"`
	TimerActive        bool              `json:"timerActive"`
	RoundInProgress    bool              `json:"roundInProgress"`
	NextRoundStartTime *time.Time        `json:"nextRoundStartTime,omitempty"`
	ExitedPlayers      map[string]bool   `json:"exitedPlayers"`
	Winner             string            `json:"winner,omitempty"`
	WinnerID           string            `json:"winnerId,omitempty"`
	FinalScores        []FinalScore      `json:"finalScores,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
}

func NewSession(id, name string, isPrivate bool, maxRounds int, roundDuration time.Duration, now time.Time) *Session {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if maxRounds > MaxRoundsLimit {
		maxRounds = MaxRoundsLimit
	}
	return &Session{
		ID:            id,
		Name:          name,
		IsPrivate:     isPrivate,
		Status:        domain.GameStatusWaiting,
		Players:       []*Player{},
		Market:        NewMarket(),
		CurrentRound:  1,
		MaxRounds:     maxRounds,
		RecentActions: []string{},
		ActionHistory: make(map[int][]string),
		TimeRemaining: TimeRemainingFrom(roundDuration),
		RoundDuration: roundDuration,
		ExitedPlayers: make(map[string]bool),
		CreatedAt:     now,
	}
}

// Player ищет игрока по id
func (s *Session) Player(id string) *Player {
	if id == "" {
		return nil
	}
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// PlayerByWallet ищет игрока по адресу кошелька
func (s *Session) PlayerByWallet(wallet string) *Player {
	if wallet == "" {
		return nil
	}
	for _, p := range s.Players {
		if p.WalletAddress == wallet {
			return p
		}
	}
	return nil
}

// AddPlayer добавляет игрока в конец списка. Первый игрок становится хостом
func (s *Session) AddPlayer(p *Player) error {
	if s.Player(p.ID) != nil {
		return ErrPlayerExists
	}
	if len(s.Players) >= MaxPlayers {
		return ErrGameFull
	}
	p.RecomputeTotals()
	s.Players = append(s.Players, p)
	if s.HostID == "" || s.Player(s.HostID) == nil {
		s.HostID = p.ID
	}
	return nil
}

// RemovePlayer удаляет игрока; если это был хост - права переходят дальше
func (s *Session) RemovePlayer(id string) bool {
	for i, p := range s.Players {
		if p.ID != id {
			continue
		}
		s.Players = append(s.Players[:i], s.Players[i+1:]...)
		if s.HostID == id {
			s.ReassignHost()
		}
		return true
	}
	return false
}

// ReassignHost передает права первому подключенному игроку в порядке входа.
// Возвращает новый hostId (пустой, если подключенных нет)
func (s *Session) ReassignHost() string {
	s.HostID = ""
	for _, p := range s.Players {
		if p.Connected && !s.ExitedPlayers[p.ID] {
			s.HostID = p.ID
			break
		}
	}
	return s.HostID
}

func (s *Session) SetStatus(next domain.GameStatus) error {
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	return nil
}

// MarkDisconnected помечает обрыв связи. Возвращает true если отключился хост
func (s *Session) MarkDisconnected(id string) (wasHost bool) {
	p := s.Player(id)
	if p == nil {
		return false
	}
	p.Connected = false
	if s.HostID == id {
		s.ReassignHost()
		return true
	}
	return false
}

func (s *Session) MarkConnected(id string) {
	if p := s.Player(id); p != nil {
		p.Connected = true
		delete(s.ExitedPlayers, id)
		if s.Player(s.HostID) == nil || !s.Player(s.HostID).Connected {
			s.ReassignHost()
		}
	}
}

func (s *Session) MarkExited(id string) {
	s.ExitedPlayers[id] = true
}

// AllGone - каждый игрок либо вышел, либо отключен
func (s *Session) AllGone() bool {
	for _, p := range s.Players {
		if p.Connected && !s.ExitedPlayers[p.ID] {
			return false
		}
	}
	return true
}

// ApplyAction применяет действие через экономику, записывает описание
// и пересчитывает итоги одним шагом
func (s *Session) ApplyAction(actorID string, a Action) (string, error) {
	desc, err := Apply(s, actorID, a)
	if err != nil {
		return "", err
	}
	s.pushAction(desc)
	s.RecomputeTotals()
	return desc, nil
}

func (s *Session) pushAction(desc string) {
	s.RecentActions = append(s.RecentActions, desc)
	if n := len(s.RecentActions); n > MaxRecentActions {
		s.RecentActions = append([]string(nil), s.RecentActions[n-MaxRecentActions:]...)
	}
}

func (s *Session) RecomputeTotals() {
	for _, p := range s.Players {
		p.RecomputeTotals()
	}
}

// AdvanceRound архивирует действия раунда, увеличивает номер и сбрасывает часы.
// Если раунды закончились - сессия переходит в finished. Возвращает true в этом случае
func (s *Session) AdvanceRound() (finished bool) {
	s.ActionHistory[s.CurrentRound] = append([]string{}, s.RecentActions...)
	s.CurrentRound++
	s.RecentActions = []string{}
	s.TimeRemaining = TimeRemainingFrom(s.RoundDuration)
	if s.CurrentRound > s.MaxRounds {
		s.Finish()
		return true
	}
	return false
}

// TickClock уменьшает таймер раунда на секунду. true - время вышло
func (s *Session) TickClock() bool {
	d := s.TimeRemaining.Duration() - time.Second
	s.TimeRemaining = TimeRemainingFrom(d)
	return s.TimeRemaining.IsZero()
}

func (s *Session) DriftMarket(rng *rand.Rand) {
	s.Market.Drift(rng)
}

// FinalScore - итог игрока на момент завершения
type FinalScore struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

// Finish фиксирует итоговые очки и победителя
func (s *Session) Finish() {
	s.FinalScores = make([]FinalScore, 0, len(s.Players))
	best := -1
	s.Winner, s.WinnerID = "", ""
	for _, p := range s.Players {
		score := p.Score()
		s.FinalScores = append(s.FinalScores, FinalScore{PlayerID: p.ID, Name: p.Name, Score: score})
		// при равенстве выигрывает тот, кто вошел раньше
		if score > best {
			best = score
			s.Winner, s.WinnerID = p.Name, p.ID
		}
	}
	s.Status = domain.GameStatusFinished
	s.TimerActive = false
	s.RoundInProgress = false
	s.NextRoundStartTime = nil
}

// Clone глубокая копия для снапшотов и отката
func (s *Session) Clone() *Session {
	c := *s
	c.Players = make([]*Player, len(s.Players))
	for i, p := range s.Players {
		cp := *p
		c.Players[i] = &cp
	}
	c.RecentActions = append([]string{}, s.RecentActions...)
	c.ActionHistory = make(map[int][]string, len(s.ActionHistory))
	for k, v := range s.ActionHistory {
		c.ActionHistory[k] = append([]string{}, v...)
	}
	c.ExitedPlayers = make(map[string]bool, len(s.ExitedPlayers))
	for k, v := range s.ExitedPlayers {
		c.ExitedPlayers[k] = v
	}
	if s.FinalScores != nil {
		c.FinalScores = append([]FinalScore{}, s.FinalScores...)
	}
	if s.NextRoundStartTime != nil {
		t := *s.NextRoundStartTime
		c.NextRoundStartTime = &t
	}
	return &c
}

// Validate проверяет инварианты агрегата
func (s *Session) Validate() error {
	if len(s.Players) > MaxPlayers {
		return fmt.Errorf("too many players: %d", len(s.Players))
	}
	if len(s.RecentActions) > MaxRecentActions {
		return fmt.Errorf("too many recent actions: %d", len(s.RecentActions))
	}
	seen := make(map[string]bool, len(s.Players))
	for _, p := range s.Players {
		if seen[p.ID] {
			return fmt.Errorf("duplicate player %s", p.ID)
		}
		seen[p.ID] = true
		if p.Tokens < 0 {
			return fmt.Errorf("player %s has negative tokens", p.ID)
		}
		for _, r := range Resources {
			if p.Assets.Get(r) < 0 {
				return fmt.Errorf("player %s has negative %s", p.ID, r)
			}
		}
		if p.TotalAssets != p.Assets.Total() {
			return fmt.Errorf("player %s total mismatch", p.ID)
		}
	}
	return nil
}

// Record - подмножество состояния для постоянного хранилища
func (s *Session) Record() *domain.GameRecord {
	rec := &domain.GameRecord{
		ID:        s.ID,
		Name:      s.Name,
		Status:    s.Status,
		HostID:    s.HostID,
		IsPrivate: s.IsPrivate,
		MaxRounds: s.MaxRounds,
		Players:   make([]domain.PlayerRecord, 0, len(s.Players)),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.CreatedAt,
	}
	for _, p := range s.Players {
		rec.Players = append(rec.Players, p.Record())
	}
	return rec
}

func (p *Player) Record() domain.PlayerRecord {
	return domain.PlayerRecord{
		ID:            p.ID,
		Name:          p.Name,
		WalletAddress: p.WalletAddress,
		JoinedAt:      p.JoinedAt,
	}
}
