package game

import (
	"errors"
	"time"
)

type Resource string

const (
	Gold  Resource = "gold"
	Water Resource = "water"
	Oil   Resource = "oil"
)

// порядок ресурсов фиксирован - от него зависят описания и дрейф рынка
var Resources = []Resource{Gold, Water, Oil}

type ActionType string

const (
	ActionBuy      ActionType = "buy"
	ActionSell     ActionType = "sell"
	ActionBurn     ActionType = "burn"
	ActionSabotage ActionType = "sabotage"
)

const (
	StartingTokens   = 1000
	MaxPlayers       = 4
	MinPlayers       = 2
	MaxRecentActions = 10
	SabotageCost     = 100
	SellPayoutPct    = 80 // продажа возвращает 80% цены
	BurnMarketFactor = 3  // каждый сожженный юнит двигает рынок на 3%
	MarketChangeMax  = 50
	MarketDriftMax   = 5
	DefaultMaxRounds = 5
	MaxRoundsLimit   = 20
	MaxActionAmount  = 1_000_000 // потолок amount, держит произведения далеко от переполнения int
)

// цены фиксированы и не зависят от рынка
var prices = map[Resource]int{
	Gold:  10,
	Water: 15,
	Oil:   25,
}

// Price возвращает цену за единицу ресурса
func Price(r Resource) (int, bool) {
	p, ok := prices[r]
	return p, ok
}

var (
	ErrGameFull          = errors.New("game is full")
	ErrPlayerExists      = errors.New("player already in game")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrUnknownAction      = errors.New("unknown action")
	ErrUnknownResource    = errors.New("unknown resource")
	ErrInvalidAmount      = errors.New("amount must be a positive integer")
	ErrInsufficientTokens = errors.New("not enough tokens")
	ErrInsufficientAssets = errors.New("not enough resources")
	ErrInvalidTarget      = errors.New("invalid sabotage target")
	ErrNothingToSabotage  = errors.New("target has nothing to sabotage")
)

// Action - намерение игрока, пришедшее из player-action
type Action struct {
	Type     ActionType `json:"action"`
	Resource Resource   `json:"resource"`
	Amount   int        `json:"amount"`
	Target   string     `json:"targetPlayer,omitempty"`
}

// Assets - количество каждого ресурса у игрока
type Assets struct {
	Gold  int `json:"gold"`
	Water int `json:"water"`
	Oil   int `json:"oil"`
}

func (a *Assets) ref(r Resource) *int {
	switch r {
	case Gold:
		return &a.Gold
	case Water:
		return &a.Water
	case Oil:
		return &a.Oil
	}
	return nil
}

// Get возвращает количество ресурса (0 для неизвестного)
func (a Assets) Get(r Resource) int {
	if p := a.ref(r); p != nil {
		return *p
	}
	return 0
}

// Total сумма всех ресурсов
func (a Assets) Total() int {
	return a.Gold + a.Water + a.Oil
}

type Player struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	Tokens        int       `json:"tokens"`
	Assets        Assets    `json:"assets"`
	TotalAssets   int       `json:"totalAssets"`
	Connected     bool      `json:"connected"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// NewPlayer создает игрока со стартовым балансом
func NewPlayer(id, name, wallet string, now time.Time) *Player {
	return &Player{
		ID:            id,
		Name:          name,
		WalletAddress: wallet,
		Tokens:        StartingTokens,
		Connected:     true,
		JoinedAt:      now,
	}
}

func (p *Player) RecomputeTotals() {
	p.TotalAssets = p.Assets.Total()
}

// Score итоговый счет: токены плюс ресурсы по ценам
func (p *Player) Score() int {
	score := p.Tokens
	for _, r := range Resources {
		score += p.Assets.Get(r) * prices[r]
	}
	return score
}
