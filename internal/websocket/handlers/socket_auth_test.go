package handlers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSocketAuthPayload(t *testing.T) {
	t.Parallel()

	handshake, err := ValidateSocketAuthPayload(SocketAuthPayload{Token: "tok", SquadID: "sq1"})
	require.NoError(t, err)
	require.Equal(t, "tok", handshake.Token)
	require.Equal(t, "sq1", handshake.SquadID)

	// SquadID is optional.
	handshake, err = ValidateSocketAuthPayload(SocketAuthPayload{Token: "tok"})
	require.NoError(t, err)
	require.Empty(t, handshake.SquadID)

	_, err = ValidateSocketAuthPayload(SocketAuthPayload{SquadID: "sq1"})
	require.Error(t, err)
}
