package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SquadsCreated counts squads created.
	SquadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "explo_squads_created_total",
		Help: "Number of squads created.",
	})

	// SquadJoins counts successful squad joins.
	SquadJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "explo_squad_joins_total",
		Help: "Number of successful squad joins.",
	})

	// MessagesIngested counts chat messages accepted, by scope.
	MessagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "explo_messages_ingested_total",
		Help: "Number of chat messages accepted.",
	}, []string{"scope"})

	// GameStateUpdates counts game-state broadcasts, by kind.
	GameStateUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "explo_game_state_updates_total",
		Help: "Number of game-state updates broadcast.",
	}, []string{"kind"})

	// SocketConnects counts socket.io connections accepted.
	SocketConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "explo_socket_connects_total",
		Help: "Number of socket.io connections accepted.",
	})

	// SocketDisconnects counts socket.io disconnections.
	SocketDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "explo_socket_disconnects_total",
		Help: "Number of socket.io disconnections.",
	})
)
