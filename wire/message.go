package wire

import "fmt"

// Scope is the addressing domain of a message.
type Scope string

const (
	// ScopeGlobal addresses all connected players.
	ScopeGlobal Scope = "global"
	// ScopeSquad addresses the members of one squad.
	ScopeSquad Scope = "squad"
)

// ParseScope validates a scope string.
func ParseScope(raw string) (Scope, error) {
	switch Scope(raw) {
	case ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeSquad:
		return ScopeSquad, nil
	default:
		return "", fmt.Errorf("unknown scope: %q", raw)
	}
}

// Message is a chat or system event.
//
// ID is assigned by the sender before server acknowledgment so optimistic
// local display works; the server echoes it back unchanged, which is the
// sole deduplication key.
type Message struct {
	ID         string `json:"id"`
	Scope      Scope  `json:"scope"`
	SquadID    string `json:"squadId,omitempty"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Body       string `json:"body"`
	// Timestamp is the server receipt time (unix millis).
	Timestamp int64 `json:"timestamp"`
	// Seq is the server-assigned monotonic sequence within the scope. It is
	// the watermark for polling "since" queries. Zero until acknowledged.
	Seq int64 `json:"seq,omitempty"`
}

// OutboundMessage is the client→server send-message payload.
type OutboundMessage struct {
	ID      string `json:"id"`
	Scope   string `json:"scope"`
	SquadID string `json:"squadId,omitempty"`
	Body    string `json:"body"`
}

// MessagePage is the response to a poll-messages request.
type MessagePage struct {
	Messages []Message `json:"messages"`
}
