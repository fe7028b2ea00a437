package wire

import (
	"encoding/json"
	"fmt"
)

// GameStateKind discriminates GameStateUpdate variants. The set is closed;
// parsers reject kinds they do not know.
type GameStateKind string

const (
	// KindReadyStatus announces a member's ready flag.
	KindReadyStatus GameStateKind = "ready-status"
	// KindGameStart is the leader's start signal.
	KindGameStart GameStateKind = "game-start"
	// KindSettings carries leader-chosen match settings.
	KindSettings GameStateKind = "settings"
)

// GameStateUpdate is a transient broadcast to squad members. It is never
// persisted.
type GameStateUpdate struct {
	Kind GameStateKind `json:"kind"`
	// SenderID is filled in by the server from the authenticated identity.
	SenderID string `json:"senderId,omitempty"`

	// Ready is set for ready-status updates.
	Ready *ReadyStatus `json:"ready,omitempty"`
	// Start is set for game-start updates.
	Start *GameStart `json:"start,omitempty"`
	// Settings is set for settings updates.
	Settings *MatchSettings `json:"settings,omitempty"`
}

// ReadyStatus is the payload of a ready-status update.
type ReadyStatus struct {
	Ready bool `json:"ready"`
}

// GameStart is the payload of a game-start update.
type GameStart struct {
	// MapName identifies the generated map both clients should load.
	MapName string `json:"mapName"`
	// Seed drives deterministic map/wave generation on every client.
	Seed int64 `json:"seed"`
	// Wave is the starting wave number.
	Wave int `json:"wave"`
}

// MatchSettings is the payload of a settings update.
type MatchSettings struct {
	Difficulty string `json:"difficulty"`
	MaxWave    int    `json:"maxWave"`
}

// Validate checks the kind discriminator and that the payload matching the
// kind is present.
func (u *GameStateUpdate) Validate() error {
	switch u.Kind {
	case KindReadyStatus:
		if u.Ready == nil {
			return fmt.Errorf("ready-status update missing ready payload")
		}
	case KindGameStart:
		if u.Start == nil {
			return fmt.Errorf("game-start update missing start payload")
		}
	case KindSettings:
		if u.Settings == nil {
			return fmt.Errorf("settings update missing settings payload")
		}
	default:
		return fmt.Errorf("unknown game-state kind: %q", u.Kind)
	}
	return nil
}

// ParseGameStateUpdate decodes and validates a loosely-typed event payload.
func ParseGameStateUpdate(v any) (*GameStateUpdate, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var update GameStateUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, err
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}
	return &update, nil
}

// OutboundGameState is the client→server send-game-state payload.
type OutboundGameState struct {
	SquadID string          `json:"squadId"`
	Update  GameStateUpdate `json:"update"`
}
