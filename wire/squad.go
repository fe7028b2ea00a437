package wire

// Squad is the server-authoritative record for one multiplayer squad.
type Squad struct {
	// ID is the opaque squad identifier, stable for the squad's lifetime.
	ID string `json:"id"`
	// JoinCode is the short human-shareable code, unique among active squads.
	JoinCode string `json:"joinCode"`
	// LeaderID identifies the member with elevated privileges.
	LeaderID string `json:"leaderId"`
	// Members are the squad participants in join order.
	Members []Member `json:"members"`
	// CreatedAt is the squad creation time (unix millis).
	CreatedAt int64 `json:"createdAt"`
}

// Member is one participant in a Squad.
type Member struct {
	// ID is the member's account identity.
	ID string `json:"id"`
	// DisplayName is the member's display name.
	DisplayName string `json:"displayName"`
	// JoinedAt is the join time (unix millis).
	JoinedAt int64 `json:"joinedAt"`
	// Ready is the session-scoped ready flag. Not persisted across squads.
	Ready bool `json:"ready"`
}

// MemberIndex returns the position of id in members, or -1.
func MemberIndex(members []Member, id string) int {
	for i, m := range members {
		if m.ID == id {
			return i
		}
	}
	return -1
}
