package handlers

import "errors"

// SocketAuthPayload is the raw socket.io handshake auth payload.
type SocketAuthPayload struct {
	Token string `json:"token"`
	// SquadID optionally scopes the connection to a squad the client
	// believes it belongs to. Membership is still checked per event.
	SquadID string `json:"squadId,omitempty"`
}

// SocketHandshake is the validated handshake.
type SocketHandshake struct {
	Token   string
	SquadID string
}

// ValidateSocketAuthPayload validates the socket.io handshake auth payload.
func ValidateSocketAuthPayload(auth SocketAuthPayload) (SocketHandshake, error) {
	if auth.Token == "" {
		return SocketHandshake{}, errors.New("missing authentication token")
	}
	return SocketHandshake{Token: auth.Token, SquadID: auth.SquadID}, nil
}
