package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGameStateUpdateValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		update  GameStateUpdate
		wantErr bool
	}{
		{
			name:   "readyStatus",
			update: GameStateUpdate{Kind: KindReadyStatus, Ready: &ReadyStatus{Ready: true}},
		},
		{
			name:    "readyStatusMissingPayload",
			update:  GameStateUpdate{Kind: KindReadyStatus},
			wantErr: true,
		},
		{
			name:   "gameStart",
			update: GameStateUpdate{Kind: KindGameStart, Start: &GameStart{MapName: "spiral", Seed: 7, Wave: 1}},
		},
		{
			name:    "gameStartMissingPayload",
			update:  GameStateUpdate{Kind: KindGameStart},
			wantErr: true,
		},
		{
			name:   "settings",
			update: GameStateUpdate{Kind: KindSettings, Settings: &MatchSettings{Difficulty: "hard", MaxWave: 40}},
		},
		{
			name:    "unknownKind",
			update:  GameStateUpdate{Kind: "emote"},
			wantErr: true,
		},
		{
			name:    "emptyKind",
			update:  GameStateUpdate{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.update.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParseGameStateUpdateRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	// The kind set is closed: payloads from newer clients are rejected, not
	// passed through.
	_, err := ParseGameStateUpdate(map[string]any{"kind": "surrender"})
	require.Error(t, err)

	update, err := ParseGameStateUpdate(map[string]any{
		"kind":  "ready-status",
		"ready": map[string]any{"ready": true},
	})
	require.NoError(t, err)
	require.Equal(t, KindReadyStatus, update.Kind)
	require.True(t, update.Ready.Ready)
}

func TestParseScope(t *testing.T) {
	t.Parallel()

	scope, err := ParseScope("global")
	require.NoError(t, err)
	require.Equal(t, ScopeGlobal, scope)

	scope, err = ParseScope("squad")
	require.NoError(t, err)
	require.Equal(t, ScopeSquad, scope)

	_, err = ParseScope("room")
	require.Error(t, err)
	_, err = ParseScope("")
	require.Error(t, err)
}

func TestMemberIndex(t *testing.T) {
	t.Parallel()

	members := []Member{{ID: "a"}, {ID: "b"}}
	require.Equal(t, 0, MemberIndex(members, "a"))
	require.Equal(t, 1, MemberIndex(members, "b"))
	require.Equal(t, -1, MemberIndex(members, "c"))
	require.Equal(t, -1, MemberIndex(nil, "a"))
}
