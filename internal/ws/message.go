package ws

import (
	"encoding/json"
	"errors"

	"resource_wars/internal/game"
)

// Message - конверт в обе стороны: {"type": ..., "payload": {...}}
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// входящие намерения
const (
	MsgGetPublicGames = "get-public-games"
	MsgCreateGame     = "create-game"
	MsgJoinGame       = "join-game"
	MsgResumeGame     = "resume-game"
	MsgGetGameState   = "get-game-state"
	MsgStartGame      = "start-game"
	MsgExitGame       = "exit-game"
	MsgNextRound      = "next-round"
	MsgPlayerAction   = "player-action"
)

// исходящие уведомления
const (
	MsgPublicGamesList    = "public-games-list"
	MsgGameCreated        = "game-created"
	MsgGameJoined         = "game-joined"
	MsgGameState          = "game-state"
	MsgPlayerJoined       = "player-joined"
	MsgPlayerDisconnected = "player-disconnected"
	MsgGameStarted        = "game-started"
	MsgRoundStarted       = "round-started"
	MsgGameFinished       = "game-finished"
	MsgGameClosed         = "game-closed"
	MsgError              = "error"
)

type createGamePayload struct {
	GameName      string `json:"gameName"`
	PlayerName    string `json:"playerName"`
	IsPrivate     bool   `json:"isPrivate"`
	WalletAddress string `json:"walletAddress"`
	MaxRounds     int    `json:"maxRounds"`
}

type joinGamePayload struct {
	GameID        string `json:"gameId"`
	PlayerName    string `json:"playerName"`
	WalletAddress string `json:"walletAddress"`
}

type resumeGamePayload struct {
	Token string `json:"token"`
}

type gameIDPayload struct {
	GameID string `json:"gameId"`
}

type exitGamePayload struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
}

type nextRoundPayload struct {
	Round *int `json:"round"`
}

type joinedPayload struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
	Token    string `json:"token,omitempty"`
}

type playerPayload struct {
	PlayerName string `json:"playerName"`
	Reason     string `json:"reason,omitempty"`
}

type roundPayload struct {
	Round int   `json:"round"`
	Delay int64 `json:"delay,omitempty"`
}

type finishedPayload struct {
	Winner      string            `json:"winner"`
	WinnerID    string            `json:"winnerId"`
	FinalScores []game.FinalScore `json:"finalScores"`
}

type reasonPayload struct {
	Reason string `json:"reason"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ошибки уровня оркестратора, уходят только запросившему соединению
var (
	ErrGameNotFound     = errors.New("game not found")
	ErrNotHost          = errors.New("only the host can do that")
	ErrNotEnoughPlayers = errors.New("at least 2 players are required to start")
	ErrWrongStatus      = errors.New("action is not allowed in the current game status")
	ErrGameInProgress   = errors.New("game has already started")
	ErrRoundPaused      = errors.New("round has not started yet")
	ErrNotInGame        = errors.New("you are not in a game")
	ErrPlayerExited     = errors.New("player has left the game")
	ErrBadRequest       = errors.New("malformed request")
	ErrRateLimited      = errors.New("too many actions, slow down")
	ErrInternal         = errors.New("internal error")
)

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func errorMessage(err error) Message {
	return Message{Type: MsgError, Payload: errorPayload{Message: err.Error()}}
}
