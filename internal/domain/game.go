package domain

import "time"

// Статус игровой сессии. Переходы только вперед: waiting -> playing -> finished -> closed
type GameStatus string

const (
	GameStatusWaiting  GameStatus = "waiting"
	GameStatusPlaying  GameStatus = "playing"
	GameStatusFinished GameStatus = "finished"
	GameStatusClosed   GameStatus = "closed"
)

// порядок статусов для проверки монотонности
var statusRank = map[GameStatus]int{
	GameStatusWaiting:  0,
	GameStatusPlaying:  1,
	GameStatusFinished: 2,
	GameStatusClosed:   3,
}

// Valid проверяет что статус известен
func (s GameStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransitionTo разрешает только движение вперед (или остаться на месте)
func (s GameStatus) CanTransitionTo(next GameStatus) bool {
	from, ok1 := statusRank[s]
	to, ok2 := statusRank[next]
	if !ok1 || !ok2 {
		return false
	}
	return to >= from
}

// Запись сессии в постоянном хранилище. Хранится только то,
// что нужно для публичного списка и зачистки
type GameRecord struct {
	ID        string         `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Status    GameStatus     `db:"status" json:"status"`
	HostID    string         `db:"host_id" json:"hostId"`
	IsPrivate bool           `db:"is_private" json:"isPrivate"`
	MaxRounds int            `db:"max_rounds" json:"maxRounds"`
	Players   []PlayerRecord `db:"players" json:"players"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time      `db:"updated_at" json:"updatedAt"`
}

// Игрок в записи сессии
type PlayerRecord struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// PlayerCount количество игроков в записи
func (g *GameRecord) PlayerCount() int {
	return len(g.Players)
}

// AllowedFrom статусы, из которых можно перейти в s (для условного UPDATE)
func (s GameStatus) AllowedFrom() []string {
	to, ok := statusRank[s]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(statusRank))
	for _, st := range []GameStatus{GameStatusWaiting, GameStatusPlaying, GameStatusFinished, GameStatusClosed} {
		if statusRank[st] <= to {
			out = append(out, string(st))
		}
	}
	return out
}
