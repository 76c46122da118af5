// Package events зеркалирует жизненный цикл игр во внешнюю шину (NATS),
// откуда их читают внешние потребители, например леджер.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"resource_wars/internal/logger"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "resource_wars.games"

const (
	GameCreated  = "created"
	PlayerJoined = "player_joined"
	GameStarted  = "started"
	PlayerAction = "action"
	RoundAdvance = "round"
	GameFinished = "finished"
	GameClosed   = "closed"
)

// Event - запись, уходящая в шину
type Event struct {
	GameID string    `json:"gameId"`
	Kind   string    `json:"kind"`
	Data   any       `json:"data,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher публикует события игры. Ошибки публикации не влияют на игру
type Publisher interface {
	Publish(gameID, kind string, data any)
}

// Subject имя темы для события
func Subject(gameID, kind string) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, gameID, kind)
}

// Nop ничего не публикует (NATS не настроен)
type Nop struct{}

func (Nop) Publish(string, string, any) {}

type NATSPublisher struct {
	nc *nats.Conn
}

// ConnectNATS подключается к NATS с бесконечным реконнектом
func ConnectNATS(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("resource_wars"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) Publish(gameID, kind string, data any) {
	payload, err := json.Marshal(Event{GameID: gameID, Kind: kind, Data: data, At: time.Now().UTC()})
	if err != nil {
		logger.Error("event marshal failed", "error", err, "game_id", gameID, "kind", kind)
		return
	}
	if err := p.nc.Publish(Subject(gameID, kind), payload); err != nil {
		logger.Warn("event publish failed", "error", err, "game_id", gameID, "kind", kind)
	}
}

// Close сбрасывает буфер и закрывает соединение
func (p *NATSPublisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
