package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "resource_wars"

var (
	ActiveGames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_games",
		Help:      "Games currently held in the in-memory registry.",
	})

	GamesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "games_created_total",
		Help:      "Games created since process start.",
	})

	GamesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "games_closed_total",
		Help:      "Games closed, by reason.",
	}, []string{"reason"})

	PlayerActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "player_actions_total",
		Help:      "Player actions by type and outcome.",
	}, []string{"action", "result"})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Open websocket connections.",
	})

	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcasts_total",
		Help:      "Messages fanned out to game subscribers.",
	})

	DroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_messages_total",
		Help:      "Outbound messages dropped because a client send buffer was full.",
	})

	PersistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persistence_errors_total",
		Help:      "Failed durable store writes, by operation.",
	}, []string{"op"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter, by scope.",
	}, []string{"scope"})
)
