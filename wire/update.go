package wire

import (
	"encoding/json"
	"fmt"
)

// Push event names shared by the socket.io server and client adapter.
const (
	EventMessage         = "message"
	EventSquadJoined     = "squad-joined"
	EventMemberJoined    = "member-joined"
	EventMemberLeft      = "member-left"
	EventGameStateUpdate = "game-state-update"
)

// Inbound (client→server) event names.
const (
	EventJoinSquad   = "join-squad"
	EventLeaveSquad  = "leave-squad"
	EventCreateSquad = "create-squad"
	EventGameState   = "game-state"
)

// MemberEvent is the payload of member-joined and member-left pushes.
type MemberEvent struct {
	SquadID string `json:"squadId"`
	Member  Member `json:"member"`
	// LeaderID reflects leadership after the change; member-left pushes set
	// it so clients observe leadership transfer without a snapshot poll.
	LeaderID string `json:"leaderId,omitempty"`
}

// DecodeEvent round-trips a loosely-typed socket payload into out.
func DecodeEvent(v any, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	return nil
}
